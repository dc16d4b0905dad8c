package geocode

import (
	"math"

	"github.com/twpayne/go-geom"
)

const earthRadiusKm = 6371.0088

// DistanceKm returns the great-circle distance between two XY points
// whose X is longitude and Y is latitude in degrees.
func DistanceKm(a, b *geom.Point) float64 {
	lat1, lat2 := radians(a.Y()), radians(b.Y())
	dLat := lat2 - lat1
	dLng := radians(b.X() - a.X())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
