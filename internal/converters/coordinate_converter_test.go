package converters

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectVerticalUnitUsSurveyFoot(t *testing.T) {
	desc := `PROJCS["NAD83 / Pennsylvania South (ftUS)",UNIT["US survey foot",0.304800609601219]]`
	require.Equal(t, UsSurveyFootToMeter, DetectVerticalUnit(desc))
}

func TestDetectVerticalUnitGenericFoot(t *testing.T) {
	desc := `VERT_CS["elevation",UNIT["foot",0.3048]]`
	require.Equal(t, InternationalFootToMeter, DetectVerticalUnit(desc))
}

func TestDetectVerticalUnitDefaultsToMeters(t *testing.T) {
	desc := `PROJCS["WGS 84 / UTM zone 33N",UNIT["metre",1]]`
	require.Equal(t, 1.0, DetectVerticalUnit(desc))
	require.Equal(t, 1.0, DetectVerticalUnit(""))
}

func TestDetectVerticalUnitDoesNotMatchInsideWords(t *testing.T) {
	// "shift" must not trigger the "ft" token
	require.Equal(t, 1.0, DetectVerticalUnit(`PROJCS["datum shift grid",UNIT["metre",1]]`))
}

func TestExtractProjectedCSFromCompound(t *testing.T) {
	compound := `COMPD_CS["combined",PROJCS["NAD83",GEOGCS["NAD83",DATUM["D"]],AUTHORITY["EPSG","2272"]],VERT_CS["NAVD88"]]`
	projected := ExtractProjectedCS(compound)
	require.Equal(t, `PROJCS["NAD83",GEOGCS["NAD83",DATUM["D"]],AUTHORITY["EPSG","2272"]]`, projected)
}

func TestExtractProjectedCSPassesThroughPlainWkt(t *testing.T) {
	plain := `PROJCS["WGS 84 / UTM zone 33N",AUTHORITY["EPSG","32633"]]`
	require.Equal(t, plain, ExtractProjectedCS(plain))
}

func TestExtractEpsgCode(t *testing.T) {
	require.Equal(t, 32633, ExtractEpsgCode(`PROJCS["UTM 33N",AUTHORITY["EPSG","32633"]]`))
	require.Equal(t, 0, ExtractEpsgCode(`PROJCS["local",UNIT["metre",1]]`))
	// the last authority token wins: inner members carry their own codes
	wkt := `PROJCS["p",GEOGCS["g",AUTHORITY["EPSG","4326"]],AUTHORITY["EPSG","2272"]]`
	require.Equal(t, 2272, ExtractEpsgCode(wkt))
}

func TestPassthroughConverter(t *testing.T) {
	conv := NewPassthroughConverter(`GEOGCS["WGS 84",UNIT["foot",0.3048]]`)
	require.True(t, conv.IsPassthrough())
	require.Equal(t, InternationalFootToMeter, conv.VerticalScale())

	lon, lat, err := conv.Forward(12.5, 41.9)
	require.NoError(t, err)
	require.Equal(t, 12.5, lon)
	require.Equal(t, 41.9, lat)
}
