package hierarchy

import (
	"context"

	"github.com/ecopia-map/cloud_stream/internal/converters"
	"github.com/ecopia-map/cloud_stream/internal/decoder"
	"github.com/ecopia-map/cloud_stream/internal/geometry"
	"github.com/ecopia-map/cloud_stream/internal/octree"
)

// Info describes an initialized dataset
type Info struct {
	// RootCube is the cubical bounds the octree subdivides
	RootCube *geometry.BoundingBox
	// SourceBounds are the tight (conforming) bounds of the actual points
	SourceBounds *geometry.BoundingBox
	TotalPoints  int64
	HasColor     bool
	// Spacing is the approximate point spacing at the root level, in source units
	Spacing        float64
	CrsDescription string
	// EpsgCode is the horizontal authority code, 0 when unknown
	EpsgCode int
	// Format is the short name of the hierarchy format ("ept" or "copc")
	Format string
}

// Store resolves a remote or local octree catalog into node descriptors and
// node payloads. One implementation per hierarchical format, selected once
// per dataset at initialization.
type Store interface {
	// Initialize fetches and parses the dataset metadata. Must be called
	// before any other method; failures are fatal for the dataset.
	Initialize(ctx context.Context) (*Info, error)
	// SetConverter installs the coordinate converter used to compute the
	// reprojected bounds of discovered nodes. Must be called after
	// Initialize and before any hierarchy load.
	SetConverter(conv converters.CoordinateConverter)
	// LoadRootHierarchy discovers the initially reachable nodes and
	// populates the cache idempotently
	LoadRootHierarchy(ctx context.Context, cache *octree.NodeCache) error
	// ExpandPlaceholder fetches the sub catalog behind a placeholder node.
	// A no-op for formats that materialize the catalog eagerly.
	ExpandPlaceholder(ctx context.Context, cache *octree.NodeCache, key octree.NodeKey) error
	// LoadNodeBatch fetches and decodes the payload of one node
	LoadNodeBatch(ctx context.Context, node *octree.Node) (*decoder.PointBatch, error)
	Info() *Info
	Close()
}
