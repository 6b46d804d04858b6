package geometry

// Coordinate models a X, Y, Z coordinate triplet in an arbitrary CRS
type Coordinate struct {
	X float64
	Y float64
	Z float64
}
