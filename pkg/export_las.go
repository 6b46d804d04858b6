package pkg

import (
	"github.com/edaniels/lidario"
	"github.com/pkg/errors"

	"github.com/ecopia-map/cloud_stream/internal/data"
)

// ExportSnapshotToLas writes a loaded snapshot to a LAS file. Positions are
// restored to absolute coordinates by adding back the storage origin.
func ExportSnapshotToLas(snapshot *data.Snapshot, filePath string) error {
	if snapshot == nil || snapshot.PointCount == 0 {
		return errors.New("nothing to export: snapshot is empty")
	}

	lasFile, err := lidario.NewLasFile(filePath, "w")
	if err != nil {
		return errors.Wrapf(err, "creating LAS file [%s]", filePath)
	}
	defer lasFile.Close()

	pointFormatID := byte(0)
	if snapshot.HasColor {
		pointFormatID = 2
	}
	if err := lasFile.AddHeader(lidario.LasHeader{
		PointFormatID: pointFormatID,
	}); err != nil {
		return errors.Wrap(err, "writing LAS header")
	}

	for i := int64(0); i < snapshot.PointCount; i++ {
		record := &lidario.PointRecord0{
			X: float64(snapshot.Positions[i*3]) + snapshot.Origin.X,
			Y: float64(snapshot.Positions[i*3+1]) + snapshot.Origin.Y,
			Z: float64(snapshot.Positions[i*3+2]) + snapshot.Origin.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			PointSourceID: 1,
		}
		if snapshot.HasIntensity {
			record.Intensity = uint16(snapshot.Intensities[i] * 65535.0)
		}
		if snapshot.HasClassification {
			record.ClassBitField = lidario.ClassificationBitField{
				Value: snapshot.Classifications[i],
			}
		}

		var point lidario.LasPointer = record
		if snapshot.HasColor {
			point = &lidario.PointRecord2{
				PointRecord0: record,
				RGB: &lidario.RgbData{
					Red:   uint16(snapshot.Colors[i*4]) * 256,
					Green: uint16(snapshot.Colors[i*4+1]) * 256,
					Blue:  uint16(snapshot.Colors[i*4+2]) * 256,
				},
			}
		}
		if err := lasFile.AddLasPoint(point); err != nil {
			return errors.Wrapf(err, "writing point %d", i)
		}
	}
	return nil
}
