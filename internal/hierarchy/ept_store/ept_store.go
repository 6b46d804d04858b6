package ept_store

import (
	"context"
	"strconv"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"

	"github.com/ecopia-map/cloud_stream/internal/converters"
	"github.com/ecopia-map/cloud_stream/internal/decoder"
	"github.com/ecopia-map/cloud_stream/internal/fetch"
	"github.com/ecopia-map/cloud_stream/internal/geometry"
	"github.com/ecopia-map/cloud_stream/internal/hierarchy"
	"github.com/ecopia-map/cloud_stream/internal/octree"
)

// Entwine marks an entry whose subtree lives in another hierarchy document
// rooted at the entry's key
const subtreeSentinel = -1

type schemaEntry struct {
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Size   int     `json:"size"`
	Scale  float64 `json:"scale"`
	Offset float64 `json:"offset"`
}

type srsEntry struct {
	Authority  string `json:"authority"`
	Horizontal string `json:"horizontal"`
	Wkt        string `json:"wkt"`
}

type eptMetadata struct {
	Bounds           []float64     `json:"bounds"`
	BoundsConforming []float64     `json:"boundsConforming"`
	DataType         string        `json:"dataType"`
	HierarchyType    string        `json:"hierarchyType"`
	Points           int64         `json:"points"`
	Schema           []schemaEntry `json:"schema"`
	Span             int64         `json:"span"`
	Srs              srsEntry      `json:"srs"`
	Version          string        `json:"version"`
}

// EptStore is the directory-per-depth hierarchy variant: one hierarchy
// document per octree key, loaded on demand when a placeholder intersecting
// the viewport is expanded. Node payloads are flat binary records decoded by
// getters compiled once from the ept.json schema; zstandard payloads are
// inflated first through the shared inflater.
type EptStore struct {
	fetcher  fetch.Fetcher
	conv     converters.CoordinateConverter
	inflater *decoder.Inflater

	// laszip payloads cannot be decoded natively; a decoder for them must be
	// injected by the caller
	lazDecoder decoder.BatchDecoder

	mu            sync.Mutex
	metadata      *eptMetadata
	info          *hierarchy.Info
	recordDecoder *decoder.SchemaRecordDecoder
}

func NewEptStore(fetcher fetch.Fetcher, inflater *decoder.Inflater, lazDecoder decoder.BatchDecoder) *EptStore {
	return &EptStore{
		fetcher:    fetcher,
		inflater:   inflater,
		lazDecoder: lazDecoder,
	}
}

func (s *EptStore) Initialize(ctx context.Context) (*hierarchy.Info, error) {
	raw, err := s.fetcher.FetchAll(ctx, "")
	if err != nil {
		return nil, errors.Wrap(err, "fetching ept.json")
	}

	metadata := &eptMetadata{}
	if err := json.Unmarshal(raw, metadata); err != nil {
		return nil, errors.Wrap(err, "parsing ept.json")
	}
	if len(metadata.Bounds) != 6 {
		return nil, errors.Errorf("ept.json bounds has %d members, want 6", len(metadata.Bounds))
	}
	if len(metadata.Schema) == 0 {
		return nil, errors.New("ept.json carries no schema")
	}
	switch metadata.DataType {
	case "binary", "zstandard", "laszip":
	default:
		return nil, errors.Errorf("unsupported ept data type [%s]", metadata.DataType)
	}

	fields := make([]decoder.SchemaField, 0, len(metadata.Schema))
	hasRed, hasGreen, hasBlue := false, false, false
	for _, entry := range metadata.Schema {
		switch entry.Name {
		case decoder.DimRed:
			hasRed = true
		case decoder.DimGreen:
			hasGreen = true
		case decoder.DimBlue:
			hasBlue = true
		}
		fields = append(fields, decoder.SchemaField{
			Name:   entry.Name,
			Kind:   entry.Type,
			Size:   entry.Size,
			Scale:  entry.Scale,
			Offset: entry.Offset,
		})
	}
	recordDecoder, err := decoder.NewSchemaRecordDecoder(fields)
	if err != nil {
		return nil, errors.Wrap(err, "compiling ept schema")
	}
	hasColor := hasRed && hasGreen && hasBlue

	rootCube := geometry.NewBoundingBox(
		metadata.Bounds[0], metadata.Bounds[3],
		metadata.Bounds[1], metadata.Bounds[4],
		metadata.Bounds[2], metadata.Bounds[5],
	)
	sourceBounds := rootCube
	if len(metadata.BoundsConforming) == 6 {
		sourceBounds = geometry.NewBoundingBox(
			metadata.BoundsConforming[0], metadata.BoundsConforming[3],
			metadata.BoundsConforming[1], metadata.BoundsConforming[4],
			metadata.BoundsConforming[2], metadata.BoundsConforming[5],
		)
	}

	epsg := 0
	if code, err := strconv.Atoi(metadata.Srs.Horizontal); err == nil {
		epsg = code
	}

	crs := metadata.Srs.Wkt
	if crs == "" && metadata.Srs.Horizontal != "" {
		crs = metadata.Srs.Authority + ":" + metadata.Srs.Horizontal
	}

	spacing := 0.0
	if metadata.Span > 0 {
		spacing = (rootCube.Xmax - rootCube.Xmin) / float64(metadata.Span)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = metadata
	s.recordDecoder = recordDecoder
	s.info = &hierarchy.Info{
		RootCube:       rootCube,
		SourceBounds:   sourceBounds,
		TotalPoints:    metadata.Points,
		HasColor:       hasColor,
		Spacing:        spacing,
		CrsDescription: crs,
		EpsgCode:       epsg,
		Format:         "ept",
	}
	return s.info, nil
}

func (s *EptStore) SetConverter(conv converters.CoordinateConverter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv = conv
}

func (s *EptStore) Info() *hierarchy.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *EptStore) LoadRootHierarchy(ctx context.Context, cache *octree.NodeCache) error {
	return s.loadHierarchyDocument(ctx, cache, octree.NewNodeKey(0, 0, 0, 0))
}

// ExpandPlaceholder fetches the hierarchy document rooted at key and merges
// its entries into the cache, upgrading the placeholder to a real node
func (s *EptStore) ExpandPlaceholder(ctx context.Context, cache *octree.NodeCache, key octree.NodeKey) error {
	return s.loadHierarchyDocument(ctx, cache, key)
}

func (s *EptStore) loadHierarchyDocument(ctx context.Context, cache *octree.NodeCache, root octree.NodeKey) error {
	if cache.IsCatalogExpanded(root) {
		return nil
	}

	raw, err := s.fetcher.FetchAll(ctx, "ept-hierarchy/"+root.String()+".json")
	if err != nil {
		return errors.Wrapf(err, "fetching hierarchy document [%s]", root)
	}

	entries := map[string]int64{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return errors.Wrapf(err, "parsing hierarchy document [%s]", root)
	}

	s.mu.Lock()
	rootCube := s.info.RootCube
	conv := s.conv
	s.mu.Unlock()

	for keyString, count := range entries {
		key, err := octree.ParseNodeKey(keyString)
		if err != nil {
			glog.Warningf("skipping malformed hierarchy entry [%s]: %v", keyString, err)
			continue
		}

		var node *octree.Node
		if count == subtreeSentinel && key != root {
			node = octree.NewPlaceholderNode(key)
		} else if count > 0 {
			node = octree.NewNode(key, count)
		} else {
			continue
		}
		hierarchy.ComputeNodeBounds(node, rootCube, conv)
		cache.Put(node)
	}

	// marked only once the entries are in the cache, so a transient fetch or
	// parse failure is retried by a later pass
	cache.MarkCatalogExpanded(root)
	return nil
}

func (s *EptStore) dataExtension() string {
	switch s.metadata.DataType {
	case "zstandard":
		return ".zst"
	case "laszip":
		return ".laz"
	}
	return ".bin"
}

func (s *EptStore) LoadNodeBatch(ctx context.Context, node *octree.Node) (*decoder.PointBatch, error) {
	raw, err := s.fetcher.FetchAll(ctx, "ept-data/"+node.Key.String()+s.dataExtension())
	if err != nil {
		return nil, errors.Wrapf(err, "fetching payload of node [%s]", node.Key)
	}

	switch s.metadata.DataType {
	case "zstandard":
		raw, err = s.inflater.Inflate(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "inflating payload of node [%s]", node.Key)
		}
	case "laszip":
		if s.lazDecoder == nil {
			return nil, errors.Errorf("node [%s] is laszip compressed and no laz decoder is configured", node.Key)
		}
		return s.lazDecoder.Decode(raw, int(node.PointCount))
	}

	return s.recordDecoder.Decode(raw, int(node.PointCount))
}

func (s *EptStore) Close() {
	if s.inflater != nil {
		s.inflater.Close()
	}
}
