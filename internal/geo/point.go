package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DefaultFallback is used when an address cannot be resolved in time.
var DefaultFallback = Point{Lat: 6.45, Lng: 3.4}

// Valid reports whether p is inside coordinate bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DistanceKm is the great-circle distance between p and q.
func (p Point) DistanceKm(q Point) float64 {
	lat1, lat2 := p.Lat*math.Pi/180, q.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLng := (q.Lng - p.Lng) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// String formats p as "lat,lng".
func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

// ParsePoint parses "lat,lng".
func ParsePoint(value string) (Point, error) {
	parts := strings.Split(strings.TrimSpace(value), ",")
	if len(parts) != 2 {
		return Point{}, errors.New("geo: expected lat,lng")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("geo: lat: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("geo: lng: %w", err)
	}
	p := Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return Point{}, errors.New("geo: coordinate out of range")
	}
	return p, nil
}
