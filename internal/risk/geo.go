package risk

import (
	"math"
	"time"
)

const earthRadiusKm = 6371.0

// maxFeasibleSpeedKmh is the implied travel speed above which two sighting
// locations are considered physically unreachable from one another.
const maxFeasibleSpeedKmh = 1000.0

// Location is a coarse geographic fix for a request or session.
type Location struct {
	Country   string
	City      string
	Latitude  float64
	Longitude float64
}

// known reports whether the location carries usable coordinates.
func (l *Location) known() bool {
	return l != nil && (l.Latitude != 0 || l.Longitude != 0)
}

// haversineKm returns the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// impliedSpeedKmh returns the travel speed required to cover the distance
// between two fixes in the elapsed time. Non-positive elapsed time is treated
// as one second to avoid division blowup on near-simultaneous sightings.
func impliedSpeedKmh(distanceKm float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		elapsed = time.Second
	}
	return distanceKm / elapsed.Hours()
}

// circularHourDistance returns the distance between two hours on the 24h
// clock, always in [0,12].
func circularHourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}
