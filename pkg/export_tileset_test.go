package pkg

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecopia-map/cloud_stream/internal/geometry"
	"github.com/ecopia-map/cloud_stream/internal/hierarchy"
	"github.com/ecopia-map/cloud_stream/internal/octree"
)

func indexedNode(key octree.NodeKey, bounds *geometry.BoundingBox) *octree.Node {
	node := octree.NewNode(key, 100)
	node.WGS84Bounds = bounds
	return node
}

func TestExportTilesetIndex(t *testing.T) {
	info := &hierarchy.Info{
		RootCube: geometry.NewBoundingBox(0, 30, 0, 40, 0, 30),
	}

	cache := octree.NewNodeCache()
	cache.Put(indexedNode(octree.NewNodeKey(0, 0, 0, 0),
		geometry.NewBoundingBox(10, 14, 40, 44, 0, 100)))
	cache.Put(indexedNode(octree.NewNodeKey(1, 0, 0, 0),
		geometry.NewBoundingBox(10, 12, 40, 42, 0, 50)))
	cache.Put(indexedNode(octree.NewNodeKey(1, 1, 1, 0),
		geometry.NewBoundingBox(12, 14, 42, 44, 0, 50)))
	// placeholders are not indexed
	cache.Put(octree.NewPlaceholderNode(octree.NewNodeKey(1, 0, 1, 0)))

	path := filepath.Join(t.TempDir(), "tileset.json")
	require.NoError(t, ExportTilesetIndex(info, cache, path))

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	tileset := &Tileset{}
	require.NoError(t, json.Unmarshal(payload, tileset))

	require.Equal(t, "1.0", tileset.Asset.Version)
	require.Equal(t, 50.0, tileset.GeometricError) // diagonal of 30 x 40
	require.Equal(t, "0-0-0-0", tileset.Root.Content.Url)
	require.Equal(t, 50.0, tileset.Root.GeometricError)
	require.Equal(t, "ADD", tileset.Root.Refine)

	require.Len(t, tileset.Root.Children, 2)
	for _, child := range tileset.Root.Children {
		require.Equal(t, 25.0, child.GeometricError)
		require.Empty(t, child.Children)
	}

	region := tileset.Root.BoundingVolume.Region
	require.Len(t, region, 6)
	require.InDelta(t, 10*math.Pi/180, region[0], 1e-12)
	require.InDelta(t, 44*math.Pi/180, region[3], 1e-12)
	require.Equal(t, 100.0, region[5])
}

func TestExportTilesetIndexRequiresRoot(t *testing.T) {
	info := &hierarchy.Info{RootCube: geometry.NewBoundingBox(0, 1, 0, 1, 0, 1)}
	path := filepath.Join(t.TempDir(), "tileset.json")

	require.Error(t, ExportTilesetIndex(nil, octree.NewNodeCache(), path))
	require.Error(t, ExportTilesetIndex(info, octree.NewNodeCache(), path))
}
