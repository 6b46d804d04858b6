package decoder

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func eptCoreSchema() []SchemaField {
	return []SchemaField{
		{Name: DimX, Kind: "signed", Size: 4, Scale: 0.01, Offset: 1000},
		{Name: DimY, Kind: "signed", Size: 4, Scale: 0.01, Offset: 2000},
		{Name: DimZ, Kind: "signed", Size: 4, Scale: 0.01, Offset: 100},
		{Name: DimIntensity, Kind: "unsigned", Size: 2},
		{Name: DimClassification, Kind: "unsigned", Size: 1},
	}
}

func TestSchemaDecoderAppliesScaleAndOffset(t *testing.T) {
	d, err := NewSchemaRecordDecoder(eptCoreSchema())
	require.NoError(t, err)
	require.Equal(t, 15, d.RecordLength())

	record := make([]byte, 15)
	rawY := int32(-500)
	binary.LittleEndian.PutUint32(record[0:], uint32(int32(12345))) // 123.45 + 1000
	binary.LittleEndian.PutUint32(record[4:], uint32(rawY))         // -5 + 2000
	binary.LittleEndian.PutUint32(record[8:], uint32(int32(250)))   // 2.5 + 100
	binary.LittleEndian.PutUint16(record[12:], 32768)
	record[14] = 6

	batch, err := d.Decode(record, 1)
	require.NoError(t, err)
	require.InDelta(t, 1123.45, batch.X[0], 1e-9)
	require.InDelta(t, 1995.0, batch.Y[0], 1e-9)
	require.InDelta(t, 102.5, batch.Z[0], 1e-9)
	require.Equal(t, uint16(32768), batch.Intensity[0])
	require.Equal(t, uint8(6), batch.Classification[0])
	require.True(t, batch.HasIntensity)
	require.True(t, batch.HasClassification)
	require.False(t, batch.HasColor)
}

func TestSchemaDecoderColorAndExtras(t *testing.T) {
	fields := []SchemaField{
		{Name: DimX, Kind: "signed", Size: 4, Scale: 1},
		{Name: DimY, Kind: "signed", Size: 4, Scale: 1},
		{Name: DimZ, Kind: "signed", Size: 4, Scale: 1},
		{Name: DimRed, Kind: "unsigned", Size: 2},
		{Name: DimGreen, Kind: "unsigned", Size: 2},
		{Name: DimBlue, Kind: "unsigned", Size: 2},
		{Name: "GpsTime", Kind: "float", Size: 8},
	}
	d, err := NewSchemaRecordDecoder(fields)
	require.NoError(t, err)

	record := make([]byte, d.RecordLength())
	binary.LittleEndian.PutUint16(record[12:], 65280)
	binary.LittleEndian.PutUint16(record[14:], 512)
	binary.LittleEndian.PutUint16(record[16:], 7)
	binary.LittleEndian.PutUint64(record[18:], math.Float64bits(315964800.5))

	batch, err := d.Decode(record, 1)
	require.NoError(t, err)
	require.True(t, batch.HasColor)
	require.Equal(t, uint16(65280), batch.Red[0])
	require.Equal(t, uint16(512), batch.Green[0])
	require.Equal(t, uint16(7), batch.Blue[0])
	require.Equal(t, []string{"GpsTime"}, batch.ExtraNames)
	require.Equal(t, 315964800.5, batch.Extras["GpsTime"][0])
}

func TestSchemaDecoderLoneColorChannel(t *testing.T) {
	fields := []SchemaField{
		{Name: DimX, Kind: "signed", Size: 4, Scale: 1},
		{Name: DimY, Kind: "signed", Size: 4, Scale: 1},
		{Name: DimZ, Kind: "signed", Size: 4, Scale: 1},
		{Name: DimRed, Kind: "unsigned", Size: 2},
	}
	d, err := NewSchemaRecordDecoder(fields)
	require.NoError(t, err)

	record := make([]byte, d.RecordLength())
	binary.LittleEndian.PutUint16(record[12:], 65280)

	// a red channel without green and blue is not a color triplet
	batch, err := d.Decode(record, 1)
	require.NoError(t, err)
	require.False(t, batch.HasColor)
	require.Nil(t, batch.Green)
	require.Nil(t, batch.Blue)
}

func TestSchemaDecoderMultipleRecords(t *testing.T) {
	fields := []SchemaField{
		{Name: DimX, Kind: "float", Size: 8},
		{Name: DimY, Kind: "float", Size: 8},
		{Name: DimZ, Kind: "float", Size: 8},
	}
	d, err := NewSchemaRecordDecoder(fields)
	require.NoError(t, err)

	raw := make([]byte, 3*24)
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint64(raw[i*24:], math.Float64bits(float64(i)*10))
		binary.LittleEndian.PutUint64(raw[i*24+8:], math.Float64bits(float64(i)*20))
		binary.LittleEndian.PutUint64(raw[i*24+16:], math.Float64bits(float64(i)*30))
	}

	batch, err := d.Decode(raw, 3)
	require.NoError(t, err)
	require.Equal(t, 3, batch.NumPoints)
	require.Equal(t, 20.0, batch.X[2])
	require.Equal(t, 40.0, batch.Y[2])
	require.Equal(t, 60.0, batch.Z[2])
}

func TestSchemaDecoderRejectsShortPayload(t *testing.T) {
	d, err := NewSchemaRecordDecoder(eptCoreSchema())
	require.NoError(t, err)

	_, err = d.Decode(make([]byte, 14), 1)
	require.Error(t, err)
}

func TestSchemaDecoderRejectsUnknownKind(t *testing.T) {
	_, err := NewSchemaRecordDecoder([]SchemaField{
		{Name: DimX, Kind: "complex", Size: 4},
	})
	require.Error(t, err)

	_, err = NewSchemaRecordDecoder([]SchemaField{
		{Name: DimX, Kind: "float", Size: 3},
	})
	require.Error(t, err)

	_, err = NewSchemaRecordDecoder(nil)
	require.Error(t, err)
}
