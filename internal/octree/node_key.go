package octree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ecopia-map/cloud_stream/internal/geometry"
)

// NodeKey addresses a cube of the virtual octree: subdivision depth plus the
// integer grid coordinate of the cube at that depth. The cube at depth d has
// side rootSide / 2^d.
type NodeKey struct {
	D int32
	X int32
	Y int32
	Z int32
}

func NewNodeKey(d, x, y, z int32) NodeKey {
	return NodeKey{D: d, X: x, Y: y, Z: z}
}

// String renders the key in the "d-x-y-z" form used by EPT hierarchy
// documents and data file names
func (k NodeKey) String() string {
	return fmt.Sprintf("%d-%d-%d-%d", k.D, k.X, k.Y, k.Z)
}

// Child returns the key of the octant child selected by dx, dy, dz in {0, 1}
func (k NodeKey) Child(dx, dy, dz int32) NodeKey {
	return NodeKey{D: k.D + 1, X: k.X*2 + dx, Y: k.Y*2 + dy, Z: k.Z*2 + dz}
}

// ParseNodeKey parses a "d-x-y-z" string
func ParseNodeKey(s string) (NodeKey, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return NodeKey{}, fmt.Errorf("malformed node key [%s]", s)
	}
	values := [4]int32{}
	for i, part := range parts {
		v, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return NodeKey{}, fmt.Errorf("malformed node key [%s]: %v", s, err)
		}
		values[i] = int32(v)
	}
	return NodeKey{D: values[0], X: values[1], Y: values[2], Z: values[3]}, nil
}

// SourceBounds computes the cube of this key inside the dataset root cube.
// Each depth halves the side; (x, y, z) select the grid cell at that depth.
func (k NodeKey) SourceBounds(rootCube *geometry.BoundingBox) *geometry.BoundingBox {
	side := (rootCube.Xmax - rootCube.Xmin) / float64(int64(1)<<uint(k.D))
	xmin := rootCube.Xmin + float64(k.X)*side
	ymin := rootCube.Ymin + float64(k.Y)*side
	zmin := rootCube.Zmin + float64(k.Z)*side
	return geometry.NewBoundingBox(xmin, xmin+side, ymin, ymin+side, zmin, zmin+side)
}
