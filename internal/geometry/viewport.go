package geometry

import "math"

// Fraction of the viewport width/height added on every side before testing
// node intersection. Tilted views under-estimate the visible area, and edge
// nodes partially outside the raw bounds still contribute visible points.
const ViewportBufferRatio = 0.2

// Viewport is an immutable snapshot of the visible map region as supplied by
// the map surface: WGS84 bounds, center, camera state and the octree depth
// the current zoom level maps to.
type Viewport struct {
	West        float64
	South       float64
	East        float64
	North       float64
	CenterLon   float64
	CenterLat   float64
	Zoom        float64
	Pitch       float64
	TargetDepth int
}

// Intersects reports whether the node box overlaps the viewport expanded by
// ViewportBufferRatio on every side. Boxes with non-finite bounds never
// intersect.
func (v *Viewport) Intersects(box *BoundingBox) bool {
	if box == nil || !box.IsValid() {
		return false
	}

	bufX := (v.East - v.West) * ViewportBufferRatio
	bufY := (v.North - v.South) * ViewportBufferRatio

	if box.Xmax < v.West-bufX || box.Xmin > v.East+bufX {
		return false
	}
	if box.Ymax < v.South-bufY || box.Ymin > v.North+bufY {
		return false
	}
	return true
}

// DistanceTo returns the euclidean distance in degrees between the viewport
// center and the given point
func (v *Viewport) DistanceTo(lon, lat float64) float64 {
	dx := lon - v.CenterLon
	dy := lat - v.CenterLat
	return math.Sqrt(dx*dx + dy*dy)
}
