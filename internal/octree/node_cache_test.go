package octree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecopia-map/cloud_stream/internal/geometry"
)

func TestNodeKeyStringAndParse(t *testing.T) {
	key := NewNodeKey(3, 1, 5, 2)
	require.Equal(t, "3-1-5-2", key.String())

	parsed, err := ParseNodeKey("3-1-5-2")
	require.NoError(t, err)
	require.Equal(t, key, parsed)

	_, err = ParseNodeKey("3-1-5")
	require.Error(t, err)
	_, err = ParseNodeKey("a-b-c-d")
	require.Error(t, err)
}

func TestNodeKeyChild(t *testing.T) {
	key := NewNodeKey(1, 1, 0, 1)
	child := key.Child(1, 0, 1)
	require.Equal(t, NewNodeKey(2, 3, 0, 3), child)
}

func TestNodeKeySourceBounds(t *testing.T) {
	root := geometry.NewBoundingBox(0, 8, 0, 8, 0, 8)

	bounds := NewNodeKey(0, 0, 0, 0).SourceBounds(root)
	require.Equal(t, 8.0, bounds.Xmax)

	bounds = NewNodeKey(2, 3, 0, 1).SourceBounds(root)
	require.Equal(t, 6.0, bounds.Xmin)
	require.Equal(t, 8.0, bounds.Xmax)
	require.Equal(t, 0.0, bounds.Ymin)
	require.Equal(t, 2.0, bounds.Zmin)
	require.Equal(t, 4.0, bounds.Zmax)
}

func TestNodeCachePutIsIdempotent(t *testing.T) {
	cache := NewNodeCache()

	first := NewNode(NewNodeKey(1, 0, 0, 0), 100)
	require.Same(t, first, cache.Put(first))

	// a second descriptor for the same key never overwrites the first
	second := NewNode(NewNodeKey(1, 0, 0, 0), 999)
	require.Same(t, first, cache.Put(second))

	got, ok := cache.Get(NewNodeKey(1, 0, 0, 0))
	require.True(t, ok)
	require.Equal(t, int64(100), got.PointCount)
}

func TestNodeCacheUpgradesPlaceholder(t *testing.T) {
	cache := NewNodeCache()

	placeholder := NewPlaceholderNode(NewNodeKey(2, 1, 1, 0))
	cache.Put(placeholder)

	real := NewNode(NewNodeKey(2, 1, 1, 0), 50)
	require.Same(t, real, cache.Put(real))

	got, _ := cache.Get(NewNodeKey(2, 1, 1, 0))
	require.Equal(t, NodePending, got.State)
	require.Equal(t, int64(50), got.PointCount)

	// but a placeholder never downgrades a real node
	require.Same(t, real, cache.Put(NewPlaceholderNode(NewNodeKey(2, 1, 1, 0))))
}

func TestNodeCacheCatalogExpansionMarks(t *testing.T) {
	cache := NewNodeCache()
	key := NewNodeKey(1, 0, 1, 0)

	require.False(t, cache.IsCatalogExpanded(key))
	require.True(t, cache.MarkCatalogExpanded(key))
	require.False(t, cache.MarkCatalogExpanded(key))
	require.True(t, cache.IsCatalogExpanded(key))
}

func TestNodeCacheClear(t *testing.T) {
	cache := NewNodeCache()
	cache.Put(NewNode(NewNodeKey(0, 0, 0, 0), 10))
	cache.MarkCatalogExpanded(NewNodeKey(0, 0, 0, 0))

	cache.Clear()
	require.Equal(t, 0, cache.Size())
	require.False(t, cache.IsCatalogExpanded(NewNodeKey(0, 0, 0, 0)))
}

func TestNodeCacheCountByDepth(t *testing.T) {
	cache := NewNodeCache()
	cache.Put(NewNode(NewNodeKey(0, 0, 0, 0), 10))
	cache.Put(NewNode(NewNodeKey(1, 0, 0, 0), 20))
	cache.Put(NewNode(NewNodeKey(1, 1, 0, 0), 30))
	cache.Put(NewPlaceholderNode(NewNodeKey(1, 1, 1, 1)))

	counts := cache.CountByDepth()
	require.Equal(t, [2]int64{1, 10}, counts[0])
	require.Equal(t, [2]int64{3, 50}, counts[1])
}
