package hierarchy

import (
	"math"

	"github.com/golang/glog"

	"github.com/ecopia-map/cloud_stream/internal/converters"
	"github.com/ecopia-map/cloud_stream/internal/geometry"
	"github.com/ecopia-map/cloud_stream/internal/octree"
)

// ComputeNodeBounds fills the source and reprojected bounds of a freshly
// discovered node. Reprojection is not axis preserving, so both transformed
// corners are compared per axis rather than assumed ordered. A corner that
// reprojects to NaN or Inf leaves the node without WGS84 bounds: it is then
// excluded from intersection testing instead of propagating non finite
// values into the selector.
func ComputeNodeBounds(node *octree.Node, rootCube *geometry.BoundingBox, conv converters.CoordinateConverter) {
	src := node.Key.SourceBounds(rootCube)
	node.SourceBounds = src

	lonA, latA, errA := conv.Forward(src.Xmin, src.Ymin)
	lonB, latB, errB := conv.Forward(src.Xmax, src.Ymax)
	if errA != nil || errB != nil {
		glog.Warningf("cannot reproject bounds of node [%s]: %v %v", node.Key, errA, errB)
		node.WGS84Bounds = nil
		return
	}

	vs := conv.VerticalScale()
	box := geometry.NewBoundingBox(
		math.Min(lonA, lonB), math.Max(lonA, lonB),
		math.Min(latA, latB), math.Max(latA, latB),
		src.Zmin*vs, src.Zmax*vs,
	)
	if !box.IsValid() {
		glog.Warningf("node [%s] reprojects to a degenerate box, dropping it from intersection testing", node.Key)
		node.WGS84Bounds = nil
		return
	}
	node.WGS84Bounds = box
}
