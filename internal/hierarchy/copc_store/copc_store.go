package copc_store

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ecopia-map/cloud_stream/internal/converters"
	"github.com/ecopia-map/cloud_stream/internal/decoder"
	"github.com/ecopia-map/cloud_stream/internal/fetch"
	"github.com/ecopia-map/cloud_stream/internal/geometry"
	"github.com/ecopia-map/cloud_stream/internal/hierarchy"
	"github.com/ecopia-map/cloud_stream/internal/octree"
)

const (
	lasHeaderSize = 375
	vlrHeaderSize = 54
	copcInfoSize  = 160
	// one hierarchy page entry: key (4 x int32) + offset + byteSize + pointCount
	hierarchyEntrySize = 32

	// cap on concurrent hierarchy page fetches during the eager walk
	pageFetchConcurrency = 4
)

// a page entry with pointCount -1 references a child hierarchy page instead
// of a point chunk
const childPageSentinel = -1

// CopcStore is the columnar-octree hierarchy variant: a single LAS 1.4 file
// whose VLRs carry the octree catalog as hierarchy pages. The catalog is
// small and flat enough to fully materialize, so the root page and every
// referenced sub page are loaded eagerly on the first hierarchy request.
type CopcStore struct {
	fetcher fetch.Fetcher
	conv    converters.CoordinateConverter

	// laszip chunk decoding is an external capability; without an injected
	// decoder only uncompressed payloads can be loaded
	lazDecoder decoder.BatchDecoder

	mu   sync.Mutex
	info *hierarchy.Info

	compressed     bool
	recordDecoder  *decoder.LasRecordDecoder
	rootPageOffset uint64
	rootPageSize   uint64
}

func NewCopcStore(fetcher fetch.Fetcher, lazDecoder decoder.BatchDecoder) *CopcStore {
	return &CopcStore{
		fetcher:    fetcher,
		lazDecoder: lazDecoder,
	}
}

func (s *CopcStore) Initialize(ctx context.Context) (*hierarchy.Info, error) {
	// header, first VLR header and the COPC info record in one ranged read
	head, err := s.fetcher.FetchRange(ctx, "", 0, lasHeaderSize+vlrHeaderSize+copcInfoSize)
	if err != nil {
		return nil, errors.Wrap(err, "fetching LAS header")
	}
	if string(head[0:4]) != "LASF" {
		return nil, errors.New("not a LAS file: bad magic")
	}
	if head[24] != 1 || head[25] != 4 {
		return nil, errors.Errorf("COPC requires LAS 1.4, got %d.%d", head[24], head[25])
	}

	formatID := head[104]
	compressed := formatID&0x80 != 0
	formatID &= 0x3f
	recordLength := int(binary.LittleEndian.Uint16(head[105:]))
	totalPoints := int64(binary.LittleEndian.Uint64(head[247:]))

	var scale, offset [3]float64
	for i := 0; i < 3; i++ {
		scale[i] = getFloat64(head[131+i*8:])
		offset[i] = getFloat64(head[155+i*8:])
	}
	maxX := getFloat64(head[179:])
	minX := getFloat64(head[187:])
	maxY := getFloat64(head[195:])
	minY := getFloat64(head[203:])
	maxZ := getFloat64(head[211:])
	minZ := getFloat64(head[219:])

	// the COPC info VLR must be the first one, right after the header
	vlr := head[lasHeaderSize:]
	if userID := cString(vlr[2:18]); userID != "copc" {
		return nil, errors.Errorf("first VLR is [%s], not the COPC info record", userID)
	}
	if recordID := binary.LittleEndian.Uint16(vlr[18:]); recordID != 1 {
		return nil, errors.Errorf("first VLR has record id %d, want 1", recordID)
	}

	info := head[lasHeaderSize+vlrHeaderSize:]
	centerX := getFloat64(info[0:])
	centerY := getFloat64(info[8:])
	centerZ := getFloat64(info[16:])
	halfSize := getFloat64(info[24:])
	spacing := getFloat64(info[32:])
	rootPageOffset := binary.LittleEndian.Uint64(info[40:])
	rootPageSize := binary.LittleEndian.Uint64(info[48:])

	wkt, err := s.findWktVlr(ctx, head)
	if err != nil {
		return nil, err
	}

	recordDecoder, err := decoder.NewLasRecordDecoder(formatID, recordLength, scale, offset)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.compressed = compressed
	s.recordDecoder = recordDecoder
	s.rootPageOffset = rootPageOffset
	s.rootPageSize = rootPageSize
	s.info = &hierarchy.Info{
		RootCube: geometry.NewBoundingBox(
			centerX-halfSize, centerX+halfSize,
			centerY-halfSize, centerY+halfSize,
			centerZ-halfSize, centerZ+halfSize,
		),
		SourceBounds:   geometry.NewBoundingBox(minX, maxX, minY, maxY, minZ, maxZ),
		TotalPoints:    totalPoints,
		HasColor:       formatID == 2 || formatID == 3 || formatID == 5 || formatID == 7 || formatID == 8 || formatID == 10,
		Spacing:        spacing,
		CrsDescription: wkt,
		EpsgCode:       converters.ExtractEpsgCode(wkt),
		Format:         "copc",
	}
	return s.info, nil
}

// findWktVlr walks the VLR directory looking for the LASF_Projection WKT
// record (id 2112)
func (s *CopcStore) findWktVlr(ctx context.Context, head []byte) (string, error) {
	numVlrs := binary.LittleEndian.Uint32(head[100:])
	offset := int64(lasHeaderSize)

	for i := uint32(0); i < numVlrs; i++ {
		vlr, err := s.fetcher.FetchRange(ctx, "", offset, vlrHeaderSize)
		if err != nil {
			return "", errors.Wrap(err, "walking VLR directory")
		}
		userID := cString(vlr[2:18])
		recordID := binary.LittleEndian.Uint16(vlr[18:])
		payloadLength := int64(binary.LittleEndian.Uint16(vlr[20:]))

		if userID == "LASF_Projection" && recordID == 2112 && payloadLength > 0 {
			payload, err := s.fetcher.FetchRange(ctx, "", offset+vlrHeaderSize, payloadLength)
			if err != nil {
				return "", errors.Wrap(err, "fetching WKT record")
			}
			return cString(payload), nil
		}
		offset += vlrHeaderSize + payloadLength
	}
	return "", nil
}

func (s *CopcStore) SetConverter(conv converters.CoordinateConverter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv = conv
}

func (s *CopcStore) Info() *hierarchy.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// LoadRootHierarchy loads the root hierarchy page and, concurrently, every
// sub page it references, fully materializing the catalog
func (s *CopcStore) LoadRootHierarchy(ctx context.Context, cache *octree.NodeCache) error {
	rootKey := octree.NewNodeKey(0, 0, 0, 0)
	if cache.IsCatalogExpanded(rootKey) {
		return nil
	}
	if err := s.loadHierarchyPage(ctx, cache, s.rootPageOffset, s.rootPageSize); err != nil {
		return err
	}
	// marked only after the whole page walk succeeded, so a transient fetch
	// failure is retried by a later pass
	cache.MarkCatalogExpanded(rootKey)
	return nil
}

func (s *CopcStore) loadHierarchyPage(ctx context.Context, cache *octree.NodeCache, offset, size uint64) error {
	raw, err := s.fetcher.FetchRange(ctx, "", int64(offset), int64(size))
	if err != nil {
		return errors.Wrap(err, "fetching hierarchy page")
	}
	if len(raw)%hierarchyEntrySize != 0 {
		return errors.Errorf("hierarchy page of %d bytes is not a whole number of entries", len(raw))
	}

	s.mu.Lock()
	rootCube := s.info.RootCube
	conv := s.conv
	s.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(pageFetchConcurrency)

	for i := 0; i < len(raw); i += hierarchyEntrySize {
		entry := raw[i : i+hierarchyEntrySize]
		key := octree.NewNodeKey(
			int32(binary.LittleEndian.Uint32(entry[0:])),
			int32(binary.LittleEndian.Uint32(entry[4:])),
			int32(binary.LittleEndian.Uint32(entry[8:])),
			int32(binary.LittleEndian.Uint32(entry[12:])),
		)
		entryOffset := binary.LittleEndian.Uint64(entry[16:])
		entrySize := int32(binary.LittleEndian.Uint32(entry[24:]))
		pointCount := int32(binary.LittleEndian.Uint32(entry[28:]))

		switch {
		case pointCount == childPageSentinel:
			childOffset, childSize := entryOffset, uint64(entrySize)
			group.Go(func() error {
				return s.loadHierarchyPage(groupCtx, cache, childOffset, childSize)
			})
		case pointCount > 0:
			node := octree.NewNode(key, int64(pointCount))
			node.ByteOffset = entryOffset
			node.ByteLength = uint64(entrySize)
			hierarchy.ComputeNodeBounds(node, rootCube, conv)
			cache.Put(node)
		}
	}
	return group.Wait()
}

// ExpandPlaceholder is a no-op: the COPC catalog is materialized eagerly and
// never stores placeholder nodes
func (s *CopcStore) ExpandPlaceholder(ctx context.Context, cache *octree.NodeCache, key octree.NodeKey) error {
	return nil
}

func (s *CopcStore) LoadNodeBatch(ctx context.Context, node *octree.Node) (*decoder.PointBatch, error) {
	raw, err := s.fetcher.FetchRange(ctx, "", int64(node.ByteOffset), int64(node.ByteLength))
	if err != nil {
		return nil, errors.Wrapf(err, "fetching chunk of node [%s]", node.Key)
	}

	if s.compressed {
		if s.lazDecoder == nil {
			return nil, errors.Errorf("node [%s] is laszip compressed and no laz decoder is configured", node.Key)
		}
		return s.lazDecoder.Decode(raw, int(node.PointCount))
	}
	return s.recordDecoder.Decode(raw, int(node.PointCount))
}

func (s *CopcStore) Close() {}

func getFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// cString truncates a fixed width, NUL padded byte field
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
