package geometry

import "math"

// Axis aligned bounding box with precomputed midpoints
type BoundingBox struct {
	Xmin float64
	Xmax float64
	Ymin float64
	Ymax float64
	Zmin float64
	Zmax float64
	Xmid float64
	Ymid float64
	Zmid float64
}

func NewBoundingBox(xmin, xmax, ymin, ymax, zmin, zmax float64) *BoundingBox {
	return &BoundingBox{
		Xmin: xmin,
		Xmax: xmax,
		Ymin: ymin,
		Ymax: ymax,
		Zmin: zmin,
		Zmax: zmax,
		Xmid: (xmin + xmax) / 2,
		Ymid: (ymin + ymax) / 2,
		Zmid: (zmin + zmax) / 2,
	}
}

// Computes the bounding box of the octant cube at (x, y, z) of the given cube,
// where each coordinate is either 0 or 1 and selects the lower or upper half
// along its axis
func NewBoundingBoxFromParent(parent *BoundingBox, x, y, z int) *BoundingBox {
	half := (parent.Xmax - parent.Xmin) / 2
	xmin := parent.Xmin + float64(x)*half
	ymin := parent.Ymin + float64(y)*half
	zmin := parent.Zmin + float64(z)*half
	return NewBoundingBox(xmin, xmin+half, ymin, ymin+half, zmin, zmin+half)
}

// GetAsArray returns the box as [west, south, east, north, min height, max height],
// the order used by cesium region bounding volumes
func (b *BoundingBox) GetAsArray() []float64 {
	return []float64{b.Xmin, b.Ymin, b.Xmax, b.Ymax, b.Zmin, b.Zmax}
}

// IsValid reports whether every bound is a finite number. Reprojection of a
// corner can yield NaN or Inf for coordinates outside the source CRS domain.
func (b *BoundingBox) IsValid() bool {
	for _, v := range []float64{b.Xmin, b.Xmax, b.Ymin, b.Ymax, b.Zmin, b.Zmax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// DiagonalXY returns the length of the horizontal diagonal of the box
func (b *BoundingBox) DiagonalXY() float64 {
	dx := b.Xmax - b.Xmin
	dy := b.Ymax - b.Ymin
	return math.Sqrt(dx*dx + dy*dy)
}
