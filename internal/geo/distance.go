package geo

import "math"

// EarthRadiusMi is the mean Earth radius used by Distance.
const EarthRadiusMi = 3959.0

// Point is a geocoded stop. ID is the booking id it wraps.
type Point struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance returns the great-circle (Haversine) distance in miles.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}

	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lng2 - lng1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// float error can push a past 1 for antipodal points
	a = math.Min(1, a)

	return EarthRadiusMi * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceTo is Distance between two points.
func (p Point) DistanceTo(o Point) float64 {
	return Distance(p.Lat, p.Lng, o.Lat, o.Lng)
}

// ValidCoordinates reports whether lat/lng are finite and within range.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
