package decoder

// Core dimension names shared by both hierarchical formats. Everything else
// a source exposes is carried as an extra column.
const (
	DimX              = "X"
	DimY              = "Y"
	DimZ              = "Z"
	DimIntensity      = "Intensity"
	DimClassification = "Classification"
	DimRed            = "Red"
	DimGreen          = "Green"
	DimBlue           = "Blue"
)

// PointBatch holds the decoded per point values of one node as columns.
// Coordinates are in the source CRS, colors and intensity in their raw 16 bit
// domain; normalization and reprojection happen at buffer commit time.
type PointBatch struct {
	NumPoints int

	X []float64
	Y []float64
	Z []float64

	Intensity      []uint16
	Classification []uint8
	Red            []uint16
	Green          []uint16
	Blue           []uint16

	HasIntensity      bool
	HasClassification bool
	HasColor          bool

	// Extra named dimensions as generic numeric columns, in schema order
	ExtraNames []string
	Extras     map[string][]float64
}

func NewPointBatch(numPoints int) *PointBatch {
	return &PointBatch{
		NumPoints: numPoints,
		X:         make([]float64, numPoints),
		Y:         make([]float64, numPoints),
		Z:         make([]float64, numPoints),
		Extras:    make(map[string][]float64),
	}
}

// BatchDecoder turns the raw bytes of one node into named columns. One
// implementation per payload layout, selected once per dataset.
type BatchDecoder interface {
	Decode(raw []byte, numPoints int) (*PointBatch, error)
}
