package decoder

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// SchemaField describes one dimension of a flat binary record layout: its
// numeric kind, byte width and the optional scale/offset applied on read
type SchemaField struct {
	Name   string
	Kind   string // "signed", "unsigned" or "float"
	Size   int
	Scale  float64
	Offset float64
}

type fieldReader struct {
	name   string
	offset int
	scale  float64
	shift  float64
	get    func([]byte) float64
}

// SchemaRecordDecoder decodes flat little-endian point records driven by an
// explicit field schema. The schema is compiled once into byte-offset/getter
// pairs before any node is decoded.
type SchemaRecordDecoder struct {
	recordLength int
	readers      []fieldReader
}

func NewSchemaRecordDecoder(fields []SchemaField) (*SchemaRecordDecoder, error) {
	d := &SchemaRecordDecoder{}
	offset := 0
	for _, field := range fields {
		get, err := compileGetter(field.Kind, field.Size)
		if err != nil {
			return nil, errors.Wrapf(err, "dimension [%s]", field.Name)
		}
		scale := field.Scale
		if scale == 0 {
			scale = 1
		}
		d.readers = append(d.readers, fieldReader{
			name:   field.Name,
			offset: offset,
			scale:  scale,
			shift:  field.Offset,
			get:    get,
		})
		offset += field.Size
	}
	d.recordLength = offset
	if d.recordLength == 0 {
		return nil, errors.New("empty schema")
	}
	return d, nil
}

func compileGetter(kind string, size int) (func([]byte) float64, error) {
	switch kind {
	case "signed":
		switch size {
		case 1:
			return func(b []byte) float64 { return float64(int8(b[0])) }, nil
		case 2:
			return func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) }, nil
		case 4:
			return func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) }, nil
		case 8:
			return func(b []byte) float64 { return float64(int64(binary.LittleEndian.Uint64(b))) }, nil
		}
	case "unsigned":
		switch size {
		case 1:
			return func(b []byte) float64 { return float64(b[0]) }, nil
		case 2:
			return func(b []byte) float64 { return float64(binary.LittleEndian.Uint16(b)) }, nil
		case 4:
			return func(b []byte) float64 { return float64(binary.LittleEndian.Uint32(b)) }, nil
		case 8:
			return func(b []byte) float64 { return float64(binary.LittleEndian.Uint64(b)) }, nil
		}
	case "float":
		switch size {
		case 4:
			return func(b []byte) float64 {
				return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
			}, nil
		case 8:
			return func(b []byte) float64 {
				return math.Float64frombits(binary.LittleEndian.Uint64(b))
			}, nil
		}
	}
	return nil, errors.Errorf("unsupported dimension kind [%s] of size %d", kind, size)
}

func (d *SchemaRecordDecoder) RecordLength() int {
	return d.recordLength
}

func (d *SchemaRecordDecoder) Decode(raw []byte, numPoints int) (*PointBatch, error) {
	if len(raw) < numPoints*d.recordLength {
		return nil, errors.Errorf("payload of %d bytes shorter than %d records of %d bytes",
			len(raw), numPoints, d.recordLength)
	}

	batch := NewPointBatch(numPoints)
	hasRed, hasGreen, hasBlue := false, false, false
	for _, reader := range d.readers {
		switch reader.name {
		case DimIntensity:
			batch.HasIntensity = true
			batch.Intensity = make([]uint16, numPoints)
		case DimClassification:
			batch.HasClassification = true
			batch.Classification = make([]uint8, numPoints)
		case DimRed:
			hasRed = true
			batch.Red = make([]uint16, numPoints)
		case DimGreen:
			hasGreen = true
			batch.Green = make([]uint16, numPoints)
		case DimBlue:
			hasBlue = true
			batch.Blue = make([]uint16, numPoints)
		case DimX, DimY, DimZ:
		default:
			batch.ExtraNames = append(batch.ExtraNames, reader.name)
			batch.Extras[reader.name] = make([]float64, numPoints)
		}
	}
	// color requires the full triplet; a lone channel stays decoded but unused
	batch.HasColor = hasRed && hasGreen && hasBlue

	for i := 0; i < numPoints; i++ {
		record := raw[i*d.recordLength : (i+1)*d.recordLength]
		for _, reader := range d.readers {
			v := reader.get(record[reader.offset:])*reader.scale + reader.shift
			switch reader.name {
			case DimX:
				batch.X[i] = v
			case DimY:
				batch.Y[i] = v
			case DimZ:
				batch.Z[i] = v
			case DimIntensity:
				batch.Intensity[i] = uint16(v)
			case DimClassification:
				batch.Classification[i] = uint8(v)
			case DimRed:
				batch.Red[i] = uint16(v)
			case DimGreen:
				batch.Green[i] = uint16(v)
			case DimBlue:
				batch.Blue[i] = uint16(v)
			default:
				batch.Extras[reader.name][i] = v
			}
		}
	}
	return batch, nil
}
