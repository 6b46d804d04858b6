package proj4_crs_converter

import (
	"math"
	"strconv"

	"github.com/golang/glog"
	proj "github.com/xeonx/proj4"

	"github.com/ecopia-map/cloud_stream/internal/converters"
)

const toDeg = 180 / math.Pi

// Proj4CrsConverter reprojects source coordinates to WGS84 through the proj4
// library. Construction failures are not fatal: the dataset degrades to a
// passthrough converter and source coordinates are used as lon/lat directly.
type Proj4CrsConverter struct {
	source        *proj.Proj
	target        *proj.Proj
	verticalScale float64
}

// NewProj4CrsConverter builds a converter for the dataset CRS description.
// The projected member of a compound description is extracted first; the
// EPSG authority code drives the proj4 initialization. epsgHint, when non
// zero, wins over the code found in the description.
func NewProj4CrsConverter(crsDescription string, epsgHint int) converters.CoordinateConverter {
	projected := converters.ExtractProjectedCS(crsDescription)

	code := epsgHint
	if code == 0 {
		code = converters.ExtractEpsgCode(projected)
	}
	if code == 0 || code == 4326 {
		return converters.NewPassthroughConverter(crsDescription)
	}

	source, err := proj.InitPlus("+init=epsg:" + strconv.Itoa(code))
	if err != nil {
		glog.Warningf("cannot initialize proj4 for epsg:%d, using source coordinates as lon/lat: %v", code, err)
		return converters.NewPassthroughConverter(crsDescription)
	}

	target, err := proj.InitPlus("+proj=longlat +datum=WGS84 +no_defs")
	if err != nil {
		source.Close()
		glog.Warningf("cannot initialize proj4 WGS84 target, using source coordinates as lon/lat: %v", err)
		return converters.NewPassthroughConverter(crsDescription)
	}

	return &Proj4CrsConverter{
		source:        source,
		target:        target,
		verticalScale: converters.DetectVerticalUnit(crsDescription),
	}
}

func (c *Proj4CrsConverter) Forward(x, y float64) (float64, float64, error) {
	xs := []float64{x}
	ys := []float64{y}
	if err := proj.TransformRaw(c.source, c.target, xs, ys, nil); err != nil {
		return 0, 0, err
	}
	// proj4 lat/long output is in radians
	return xs[0] * toDeg, ys[0] * toDeg, nil
}

func (c *Proj4CrsConverter) VerticalScale() float64 {
	return c.verticalScale
}

func (c *Proj4CrsConverter) IsPassthrough() bool {
	return false
}

func (c *Proj4CrsConverter) Cleanup() {
	c.source.Close()
	c.target.Close()
}
