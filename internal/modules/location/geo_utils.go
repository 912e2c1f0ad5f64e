// README: Pure geographic helpers (distance, radius checks, ordering).
package location

import (
	"math"

	"roadhelper/internal/types"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two locations.
func DistanceKm(a, b types.Location) float64 {
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

// WithinRadius reports whether p lies within radiusKm of origin. A
// non-positive radius matches everything.
func WithinRadius(origin, p types.Location, radiusKm float64) bool {
	if radiusKm <= 0 {
		return true
	}
	return DistanceKm(origin, p) <= radiusKm
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	a := sinLat*sinLat + math.Cos(radians(lat1))*math.Cos(radians(lat2))*sinLng*sinLng

	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// sortByDistance is a stable insertion sort, closest first. Presence lists
// are short so the simple sort wins.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for ; j >= 0 && dist(items[j]) > dist(key); j-- {
			items[j+1] = items[j]
		}
		items[j+1] = key
	}
}
