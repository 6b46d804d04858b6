package data

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecopia-map/cloud_stream/internal/geometry"
)

func TestPositionsAreOriginRelative(t *testing.T) {
	store := NewBufferStore(10, geometry.Coordinate{X: 100, Y: 200, Z: 50})

	require.NoError(t, store.SetPosition(0, 100.5, 199.0, 52.0))

	snap := store.Snapshot(1)
	require.Equal(t, int64(1), snap.PointCount)
	require.InDelta(t, 0.5, float64(snap.Positions[0]), 1e-6)
	require.InDelta(t, -1.0, float64(snap.Positions[1]), 1e-6)
	require.InDelta(t, 2.0, float64(snap.Positions[2]), 1e-6)
}

func TestSetPositionRejectsOutOfBudgetIndex(t *testing.T) {
	store := NewBufferStore(2, geometry.Coordinate{})
	require.Error(t, store.SetPosition(2, 0, 0, 0))
	require.Error(t, store.SetPosition(-1, 0, 0, 0))
}

func TestResolveSchemaIsFixedAfterFirstCall(t *testing.T) {
	store := NewBufferStore(4, geometry.Coordinate{})

	store.ResolveSchema(true, true, false, []string{"GpsTime"})
	require.True(t, store.SchemaResolved())

	// a later call with a different shape must not change the session schema
	store.ResolveSchema(false, false, true, []string{"UserData"})

	snap := store.Snapshot(0)
	require.True(t, snap.HasColor)
	require.True(t, snap.HasIntensity)
	require.False(t, snap.HasClassification)
	require.Contains(t, snap.Extras, "GpsTime")
	require.NotContains(t, snap.Extras, "UserData")
}

func TestExtraColumnTypes(t *testing.T) {
	require.Equal(t, ExtraFloat64, ExtraKindFor("GpsTime"))
	require.Equal(t, ExtraUint8, ExtraKindFor("ReturnNumber"))
	require.Equal(t, ExtraUint16, ExtraKindFor("PointSourceId"))
	require.Equal(t, ExtraInt8, ExtraKindFor("ScanAngleRank"))
	// unknown names fall back to float32
	require.Equal(t, ExtraFloat32, ExtraKindFor("Reflectance"))
}

func TestExtraValuesRoundTrip(t *testing.T) {
	store := NewBufferStore(4, geometry.Coordinate{})
	store.ResolveSchema(false, false, false, []string{"GpsTime", "ReturnNumber", "Reflectance"})

	store.SetExtra("GpsTime", 1, 123456.789)
	store.SetExtra("ReturnNumber", 1, 3)
	store.SetExtra("Reflectance", 1, 0.25)

	snap := store.Snapshot(2)
	require.Equal(t, 123456.789, snap.Extras["GpsTime"].Float64s[1])
	require.Equal(t, uint8(3), snap.Extras["ReturnNumber"].Uint8s[1])
	require.InDelta(t, 0.25, float64(snap.Extras["Reflectance"].Float32s[1]), 1e-6)
}

func TestSnapshotTrimsToLoadedCount(t *testing.T) {
	store := NewBufferStore(10, geometry.Coordinate{})
	store.ResolveSchema(true, true, true, nil)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, store.SetPosition(i, float64(i), 0, 0))
		store.SetIntensity(i, 0.5)
		store.SetClassification(i, 2)
		store.SetColor(i, 10, 20, 30, 255)
	}

	snap := store.Snapshot(3)
	require.Len(t, snap.Positions, 9)
	require.Len(t, snap.Colors, 12)
	require.Len(t, snap.Intensities, 3)
	require.Len(t, snap.Classifications, 3)
}

func TestReleaseYieldsEmptySnapshots(t *testing.T) {
	store := NewBufferStore(10, geometry.Coordinate{})
	store.ResolveSchema(true, true, true, []string{"GpsTime"})
	require.NoError(t, store.SetPosition(0, 1, 2, 3))

	store.Release()
	store.Release() // idempotent

	snap := store.Snapshot(5)
	require.Equal(t, int64(0), snap.PointCount)
	require.Empty(t, snap.Positions)

	// writes after release are discarded, not panics
	require.Error(t, store.SetPosition(0, 1, 2, 3))
	store.SetColor(0, 1, 2, 3, 4)
	store.SetIntensity(0, 0.5)
	store.SetExtra("GpsTime", 0, 1)
}
