package converters

// PassthroughConverter treats source coordinates as WGS84 degrees already.
// Used for geographic datasets and as the degraded mode when no reprojector
// can be built from the CRS description.
type PassthroughConverter struct {
	verticalScale float64
}

func NewPassthroughConverter(crsDescription string) CoordinateConverter {
	return &PassthroughConverter{
		verticalScale: DetectVerticalUnit(crsDescription),
	}
}

func (c *PassthroughConverter) Forward(x, y float64) (float64, float64, error) {
	return x, y, nil
}

func (c *PassthroughConverter) VerticalScale() float64 {
	return c.verticalScale
}

func (c *PassthroughConverter) IsPassthrough() bool {
	return true
}

func (c *PassthroughConverter) Cleanup() {}
