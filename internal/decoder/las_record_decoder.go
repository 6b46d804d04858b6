package decoder

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// LasRecordDecoder decodes uncompressed LAS point data records, formats 0 to
// 10. Coordinates are de-quantized with the header scale and offset triplets.
// Compressed (laszip) chunks are outside this decoder: they require an
// injected BatchDecoder wrapping an external decompressor.
type LasRecordDecoder struct {
	formatID     byte
	recordLength int

	scaleX, scaleY, scaleZ    float64
	offsetX, offsetY, offsetZ float64
}

func NewLasRecordDecoder(formatID byte, recordLength int, scale, offset [3]float64) (*LasRecordDecoder, error) {
	if formatID > 10 {
		return nil, errors.Errorf("unsupported LAS point record format %d", formatID)
	}
	if recordLength < minRecordLength(formatID) {
		return nil, errors.Errorf("record length %d too short for point format %d", recordLength, formatID)
	}
	return &LasRecordDecoder{
		formatID:     formatID,
		recordLength: recordLength,
		scaleX:       scale[0],
		scaleY:       scale[1],
		scaleZ:       scale[2],
		offsetX:      offset[0],
		offsetY:      offset[1],
		offsetZ:      offset[2],
	}, nil
}

func minRecordLength(formatID byte) int {
	switch formatID {
	case 0:
		return 20
	case 1:
		return 28
	case 2:
		return 26
	case 3:
		return 34
	case 4:
		return 57
	case 5:
		return 63
	case 6:
		return 30
	case 7:
		return 36
	case 8:
		return 38
	default:
		return 30
	}
}

func (d *LasRecordDecoder) hasGpsTime() bool {
	return d.formatID == 1 || d.formatID >= 3
}

func (d *LasRecordDecoder) hasColor() bool {
	switch d.formatID {
	case 2, 3, 5, 7, 8, 10:
		return true
	}
	return false
}

// byte offset of the RGB triplet within a record
func (d *LasRecordDecoder) colorOffset() int {
	switch d.formatID {
	case 2:
		return 20
	case 3, 5:
		return 28
	default: // 7, 8, 10
		return 30
	}
}

func (d *LasRecordDecoder) Decode(raw []byte, numPoints int) (*PointBatch, error) {
	if len(raw) < numPoints*d.recordLength {
		return nil, errors.Errorf("payload of %d bytes shorter than %d records of %d bytes",
			len(raw), numPoints, d.recordLength)
	}

	batch := NewPointBatch(numPoints)
	batch.HasIntensity = true
	batch.Intensity = make([]uint16, numPoints)
	batch.HasClassification = true
	batch.Classification = make([]uint8, numPoints)
	if d.hasColor() {
		batch.HasColor = true
		batch.Red = make([]uint16, numPoints)
		batch.Green = make([]uint16, numPoints)
		batch.Blue = make([]uint16, numPoints)
	}

	extended := d.formatID >= 6
	batch.ExtraNames = []string{"ReturnNumber", "NumberOfReturns", "UserData", "PointSourceId"}
	if d.hasGpsTime() {
		batch.ExtraNames = append(batch.ExtraNames, "GpsTime")
	}
	for _, name := range batch.ExtraNames {
		batch.Extras[name] = make([]float64, numPoints)
	}

	for i := 0; i < numPoints; i++ {
		record := raw[i*d.recordLength : (i+1)*d.recordLength]

		batch.X[i] = float64(int32(binary.LittleEndian.Uint32(record[0:])))*d.scaleX + d.offsetX
		batch.Y[i] = float64(int32(binary.LittleEndian.Uint32(record[4:])))*d.scaleY + d.offsetY
		batch.Z[i] = float64(int32(binary.LittleEndian.Uint32(record[8:])))*d.scaleZ + d.offsetZ
		batch.Intensity[i] = binary.LittleEndian.Uint16(record[12:])

		if extended {
			returns := record[14]
			batch.Extras["ReturnNumber"][i] = float64(returns & 0x0f)
			batch.Extras["NumberOfReturns"][i] = float64(returns >> 4)
			batch.Classification[i] = record[16]
			batch.Extras["UserData"][i] = float64(record[17])
			batch.Extras["PointSourceId"][i] = float64(binary.LittleEndian.Uint16(record[20:]))
			if d.hasGpsTime() {
				batch.Extras["GpsTime"][i] = getFloat64(record[22:])
			}
		} else {
			returns := record[14]
			batch.Extras["ReturnNumber"][i] = float64(returns & 0x07)
			batch.Extras["NumberOfReturns"][i] = float64((returns >> 3) & 0x07)
			// classification bit field: low 5 bits are the class code
			batch.Classification[i] = record[15] & 0x1f
			batch.Extras["UserData"][i] = float64(record[17])
			batch.Extras["PointSourceId"][i] = float64(binary.LittleEndian.Uint16(record[18:]))
			if d.hasGpsTime() {
				batch.Extras["GpsTime"][i] = getFloat64(record[20:])
			}
		}

		if d.hasColor() {
			co := d.colorOffset()
			batch.Red[i] = binary.LittleEndian.Uint16(record[co:])
			batch.Green[i] = binary.LittleEndian.Uint16(record[co+2:])
			batch.Blue[i] = binary.LittleEndian.Uint16(record[co+4:])
		}
	}
	return batch, nil
}

func getFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}
