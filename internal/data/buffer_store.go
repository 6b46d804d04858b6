package data

import (
	"github.com/pkg/errors"

	"github.com/ecopia-map/cloud_stream/internal/geometry"
)

type ExtraKind int

const (
	ExtraFloat32 ExtraKind = iota
	ExtraFloat64
	ExtraUint8
	ExtraUint16
	ExtraInt8
)

// Element type per known extra attribute name, LAS dimension naming. Names
// not listed fall back to float32.
var extraKindByName = map[string]ExtraKind{
	"GpsTime":           ExtraFloat64,
	"ReturnNumber":      ExtraUint8,
	"NumberOfReturns":   ExtraUint8,
	"ScanDirectionFlag": ExtraUint8,
	"EdgeOfFlightLine":  ExtraUint8,
	"ScanAngleRank":     ExtraInt8,
	"UserData":          ExtraUint8,
	"PointSourceId":     ExtraUint16,
	"PointId":           ExtraFloat64,
	"OriginId":          ExtraFloat64,
}

func ExtraKindFor(name string) ExtraKind {
	if kind, ok := extraKindByName[name]; ok {
		return kind
	}
	return ExtraFloat32
}

// ExtraColumn is one flat array for a named extra attribute, sized to the
// point budget. Only the slice matching Kind is allocated.
type ExtraColumn struct {
	Name     string
	Kind     ExtraKind
	Float32s []float32
	Float64s []float64
	Uint8s   []uint8
	Uint16s  []uint16
	Int8s    []int8
}

func newExtraColumn(name string, budget int64) *ExtraColumn {
	col := &ExtraColumn{Name: name, Kind: ExtraKindFor(name)}
	switch col.Kind {
	case ExtraFloat64:
		col.Float64s = make([]float64, budget)
	case ExtraUint8:
		col.Uint8s = make([]uint8, budget)
	case ExtraUint16:
		col.Uint16s = make([]uint16, budget)
	case ExtraInt8:
		col.Int8s = make([]int8, budget)
	default:
		col.Float32s = make([]float32, budget)
	}
	return col
}

func (c *ExtraColumn) set(i int64, v float64) {
	switch c.Kind {
	case ExtraFloat64:
		c.Float64s[i] = v
	case ExtraUint8:
		c.Uint8s[i] = uint8(v)
	case ExtraUint16:
		c.Uint16s[i] = uint16(v)
	case ExtraInt8:
		c.Int8s[i] = int8(v)
	default:
		c.Float32s[i] = float32(v)
	}
}

func (c *ExtraColumn) trimmed(count int64) *ExtraColumn {
	out := &ExtraColumn{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case ExtraFloat64:
		out.Float64s = c.Float64s[:count]
	case ExtraUint8:
		out.Uint8s = c.Uint8s[:count]
	case ExtraUint16:
		out.Uint16s = c.Uint16s[:count]
	case ExtraInt8:
		out.Int8s = c.Int8s[:count]
	default:
		out.Float32s = c.Float32s[:count]
	}
	return out
}

// BufferStore owns the flat columnar point buffers, sized once to the point
// budget and never resized. Writers address caller reserved index ranges
// only; the store itself does no admission control.
type BufferStore struct {
	budget int64

	// Positions are stored as float32 offsets from Origin so reduced
	// precision storage keeps sub meter resolution at global coordinates.
	Origin geometry.Coordinate

	positions       []float32 // 3 per point
	colors          []uint8   // 4 per point, RGBA
	intensities     []float32 // normalized 0..1
	classifications []uint8

	hasColor          bool
	hasIntensity      bool
	hasClassification bool

	// Extra columns are discovered once, from the first successfully decoded
	// node, and fixed for the rest of the session.
	extras         map[string]*ExtraColumn
	extrasResolved bool

	released bool
}

func NewBufferStore(budget int64, origin geometry.Coordinate) *BufferStore {
	return &BufferStore{
		budget:    budget,
		Origin:    origin,
		positions: make([]float32, budget*3),
		extras:    make(map[string]*ExtraColumn),
	}
}

func (s *BufferStore) Budget() int64 {
	return s.budget
}

// ResolveSchema allocates the optional and extra columns on first call and is
// a no-op afterwards. Which columns exist for the session is decided by the
// first decoded node.
func (s *BufferStore) ResolveSchema(hasColor, hasIntensity, hasClassification bool, extraNames []string) {
	if s.extrasResolved || s.released {
		return
	}
	s.extrasResolved = true

	if hasColor {
		s.hasColor = true
		s.colors = make([]uint8, s.budget*4)
	}
	if hasIntensity {
		s.hasIntensity = true
		s.intensities = make([]float32, s.budget)
	}
	if hasClassification {
		s.hasClassification = true
		s.classifications = make([]uint8, s.budget)
	}
	for _, name := range extraNames {
		s.extras[name] = newExtraColumn(name, s.budget)
	}
}

func (s *BufferStore) SchemaResolved() bool {
	return s.extrasResolved
}

// SetPosition writes the origin relative position of point i
func (s *BufferStore) SetPosition(i int64, x, y, z float64) error {
	if s.released {
		return errors.New("buffer store released")
	}
	if i < 0 || i >= s.budget {
		return errors.Errorf("position index %d outside budget %d", i, s.budget)
	}
	s.positions[i*3] = float32(x - s.Origin.X)
	s.positions[i*3+1] = float32(y - s.Origin.Y)
	s.positions[i*3+2] = float32(z - s.Origin.Z)
	return nil
}

func (s *BufferStore) SetColor(i int64, r, g, b, a uint8) {
	if !s.hasColor || s.released {
		return
	}
	s.colors[i*4] = r
	s.colors[i*4+1] = g
	s.colors[i*4+2] = b
	s.colors[i*4+3] = a
}

func (s *BufferStore) SetIntensity(i int64, normalized float32) {
	if !s.hasIntensity || s.released {
		return
	}
	s.intensities[i] = normalized
}

func (s *BufferStore) SetClassification(i int64, classification uint8) {
	if !s.hasClassification || s.released {
		return
	}
	s.classifications[i] = classification
}

func (s *BufferStore) SetExtra(name string, i int64, v float64) {
	if s.released {
		return
	}
	if col, ok := s.extras[name]; ok {
		col.set(i, v)
	}
}

// Snapshot is the trimmed, read-only view of the loaded buffer contents
// handed to consumers
type Snapshot struct {
	Positions       []float32
	Colors          []uint8
	Intensities     []float32
	Classifications []uint8
	Extras          map[string]*ExtraColumn

	PointCount int64
	Origin     geometry.Coordinate
	Bounds     *geometry.BoundingBox

	HasColor          bool
	HasIntensity      bool
	HasClassification bool

	CrsDescription string
}

// Snapshot returns views over the first loadedCount points. Safe to call mid
// load: ranges past loadedCount may be mid write but are not included. After
// release an empty snapshot is returned.
func (s *BufferStore) Snapshot(loadedCount int64) *Snapshot {
	if s.released || loadedCount < 0 {
		return &Snapshot{Extras: map[string]*ExtraColumn{}}
	}
	if loadedCount > s.budget {
		loadedCount = s.budget
	}

	snap := &Snapshot{
		Positions:         s.positions[:loadedCount*3],
		PointCount:        loadedCount,
		Origin:            s.Origin,
		Extras:            make(map[string]*ExtraColumn, len(s.extras)),
		HasColor:          s.hasColor,
		HasIntensity:      s.hasIntensity,
		HasClassification: s.hasClassification,
	}
	if s.hasColor {
		snap.Colors = s.colors[:loadedCount*4]
	}
	if s.hasIntensity {
		snap.Intensities = s.intensities[:loadedCount]
	}
	if s.hasClassification {
		snap.Classifications = s.classifications[:loadedCount]
	}
	for name, col := range s.extras {
		snap.Extras[name] = col.trimmed(loadedCount)
	}
	return snap
}

// Release drops every buffer reference. Idempotent; writes after release are
// silently discarded so late decode completions cannot touch freed memory.
func (s *BufferStore) Release() {
	s.released = true
	s.positions = nil
	s.colors = nil
	s.intensities = nil
	s.classifications = nil
	s.extras = make(map[string]*ExtraColumn)
}
