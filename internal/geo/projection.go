// Package geo converts WGS-84 coordinates into the spherical Mercator plane
// (EPSG:3857) used by the reporting sink.
package geo

import (
	"errors"
	"math"
	"strconv"
)

// EarthRadius is the WGS-84 semi-major axis in metres.
const EarthRadius = 6378137.0

var (
	ErrPole      = errors.New("latitude at or beyond a pole has no projection")
	ErrNonFinite = errors.New("projection is not finite")
)

// ToProjected returns the easting x and northing y of the given fix.
func ToProjected(lat, lon float64) (x, y float64, err error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return 0, 0, ErrNonFinite
	}
	if math.Abs(lat) >= 90 {
		return 0, 0, ErrPole
	}

	sin := math.Sin(lat * math.Pi / 180)
	y = EarthRadius / 2 * math.Log((1+sin)/(1-sin))
	x = lon * math.Pi / 180 * EarthRadius

	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, 0, ErrNonFinite
	}
	return x, y, nil
}

// FormatProjected renders a projected coordinate with six decimals.
func FormatProjected(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
