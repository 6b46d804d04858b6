package octree

import (
	"time"

	"github.com/ecopia-map/cloud_stream/internal/geometry"
)

type NodeState int32

const (
	// NodePending is the initial state; also re-entered after a recoverable failure
	NodePending NodeState = iota
	// NodeLoading marks a node with a reserved buffer range and a decode in flight
	NodeLoading
	// NodeLoaded is terminal: the node's points are resident in the buffers
	NodeLoaded
	// NodeFailed is terminal: the retry ceiling was reached
	NodeFailed
	// NodePlaceholder marks a hierarchy entry whose children live in a not yet
	// fetched sub catalog. Carries no point data, never loaded.
	NodePlaceholder
)

func (s NodeState) String() string {
	switch s {
	case NodePending:
		return "pending"
	case NodeLoading:
		return "loading"
	case NodeLoaded:
		return "loaded"
	case NodeFailed:
		return "failed"
	case NodePlaceholder:
		return "placeholder"
	}
	return "unknown"
}

// Node is the descriptor of one known octree node. Created once when first
// discovered by the hierarchy store, dropped only on teardown. Lifecycle
// fields are written through NodeCache.Transition, so selection passes can
// read them under the cache lock while loads are in flight.
type Node struct {
	Key   NodeKey
	State NodeState

	PointCount int64

	// Byte range of the node payload. COPC nodes address a chunk inside the
	// single source file; EPT nodes address a whole data file by key.
	ByteOffset uint64
	ByteLength uint64

	SourceBounds *geometry.BoundingBox
	WGS84Bounds  *geometry.BoundingBox

	Priority float64

	// Start index of the reserved buffer range, -1 when not reserved
	BufferStart int64

	Err          error
	RetryCount   int
	LastFailedAt time.Time
}

func NewNode(key NodeKey, pointCount int64) *Node {
	return &Node{
		Key:         key,
		State:       NodePending,
		PointCount:  pointCount,
		BufferStart: -1,
	}
}

func NewPlaceholderNode(key NodeKey) *Node {
	return &Node{
		Key:         key,
		State:       NodePlaceholder,
		PointCount:  0,
		BufferStart: -1,
	}
}
