package pkg

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ecopia-map/cloud_stream/internal/hierarchy"
	"github.com/ecopia-map/cloud_stream/internal/octree"
)

const toRadians = math.Pi / 180

// Cesium tileset.json document structure
type Tileset struct {
	Asset          Asset   `json:"asset"`
	GeometricError float64 `json:"geometricError"`
	Root           Tile    `json:"root"`
}

type Asset struct {
	Version string `json:"version"`
}

type Tile struct {
	Content        *Content       `json:"content,omitempty"`
	BoundingVolume BoundingVolume `json:"boundingVolume"`
	GeometricError float64        `json:"geometricError"`
	Refine         string         `json:"refine,omitempty"`
	Children       []Tile         `json:"children,omitempty"`
}

type Content struct {
	Url string `json:"uri"`
}

type BoundingVolume struct {
	Region []float64 `json:"region"`
}

// ExportTilesetIndex writes a Cesium style tileset.json index of the known
// hierarchy: one tile per cached node, region bounding volumes in radians,
// geometric error starting from the root diagonal and halved per depth.
func ExportTilesetIndex(info *hierarchy.Info, cache *octree.NodeCache, filePath string) error {
	if info == nil || cache == nil {
		return errors.New("nothing to export: streamer not initialized")
	}

	rootKey := octree.NewNodeKey(0, 0, 0, 0)
	root, ok := cache.Get(rootKey)
	if !ok {
		return errors.New("hierarchy root not loaded yet")
	}

	rootError := info.RootCube.DiagonalXY()
	tileset := Tileset{
		Asset:          Asset{Version: "1.0"},
		GeometricError: rootError,
		Root:           buildTile(cache, root, rootError),
	}

	payload, err := json.MarshalIndent(tileset, "", "\t")
	if err != nil {
		return errors.Wrap(err, "marshalling tileset")
	}
	if err := os.WriteFile(filePath, payload, 0666); err != nil {
		return errors.Wrapf(err, "writing [%s]", filePath)
	}
	return nil
}

func buildTile(cache *octree.NodeCache, node *octree.Node, rootError float64) Tile {
	tile := Tile{
		Content:        &Content{Url: node.Key.String()},
		BoundingVolume: BoundingVolume{Region: regionOf(node)},
		GeometricError: geometricError(rootError, node.Key.D),
		Refine:         "ADD",
	}

	for dx := int32(0); dx < 2; dx++ {
		for dy := int32(0); dy < 2; dy++ {
			for dz := int32(0); dz < 2; dz++ {
				child, ok := cache.Get(node.Key.Child(dx, dy, dz))
				if !ok || child.State == octree.NodePlaceholder {
					continue
				}
				tile.Children = append(tile.Children, buildTile(cache, child, rootError))
			}
		}
	}
	return tile
}

// geometricError halves the root diagonal once per depth level
func geometricError(rootError float64, depth int32) float64 {
	return roundForTileset(rootError / float64(int64(1)<<uint(depth)))
}

// regionOf renders the node WGS84 bounds as a cesium region: west, south,
// east, north in radians plus min and max height in meters
func regionOf(node *octree.Node) []float64 {
	box := node.WGS84Bounds
	if box == nil {
		return []float64{0, 0, 0, 0, 0, 0}
	}
	return []float64{
		roundForTileset(box.Xmin * toRadians),
		roundForTileset(box.Ymin * toRadians),
		roundForTileset(box.Xmax * toRadians),
		roundForTileset(box.Ymax * toRadians),
		roundForTileset(box.Zmin),
		roundForTileset(box.Zmax),
	}
}

// roundForTileset trims float noise from serialized values so regions and
// errors compare stably across exports
func roundForTileset(v float64) float64 {
	rounded, _ := decimal.NewFromFloat(v).Round(13).Float64()
	return rounded
}
