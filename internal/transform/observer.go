package transform

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378.137              // semi-major axis (km)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

const deg2rad = math.Pi / 180.0

// ErrInvalidObserver is returned for coordinates outside the geodetic ranges.
var ErrInvalidObserver = errors.New("invalid observer position")

// Observer is a ground observer's geodetic position.
type Observer struct {
	LatDeg     float64 `json:"latitude"`  // -90..90
	LonDeg     float64 `json:"longitude"` // -180..180
	ElevationM float64 `json:"elevation"` // meters above the WGS-84 ellipsoid
}

// Validate checks latitude and longitude ranges and rejects non-finite values.
func (o Observer) Validate() error {
	for _, v := range []float64{o.LatDeg, o.LonDeg, o.ElevationM} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidObserver)
		}
	}
	if o.LatDeg < -90 || o.LatDeg > 90 {
		return fmt.Errorf("%w: latitude %.4f outside [-90, 90]", ErrInvalidObserver, o.LatDeg)
	}
	if o.LonDeg < -180 || o.LonDeg > 180 {
		return fmt.Errorf("%w: longitude %.4f outside [-180, 180]", ErrInvalidObserver, o.LonDeg)
	}
	return nil
}

// EarthFixed returns the observer's ECEF position in km via the standard
// geodetic-to-Cartesian transform.
func (o Observer) EarthFixed() Vector3 {
	lat := o.LatDeg * deg2rad
	lon := o.LonDeg * deg2rad
	h := o.ElevationM / 1000.0

	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Vector3{
		X: (N + h) * cosLat * cosLon,
		Y: (N + h) * cosLat * sinLon,
		Z: (N*(1-wgs84E2) + h) * sinLat,
	}
}

// HorizonRotation maps an Earth-fixed relative vector into local
// east-north-up components. It depends on latitude and longitude only.
func (o Observer) HorizonRotation() Matrix3 {
	lat := o.LatDeg * deg2rad
	lon := o.LonDeg * deg2rad
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	return Matrix3{
		{-sinLon, cosLon, 0},
		{-sinLat * cosLon, -sinLat * sinLon, cosLat},
		{cosLat * cosLon, cosLat * sinLon, sinLat},
	}
}

// Inertial returns the observer's position in TEME at t.
func (o Observer) Inertial(t time.Time) Vector3 {
	return ECEFToTEME(o.EarthFixed(), GMST(t))
}

// Geodetic is a geodetic position with altitude in km.
type Geodetic struct {
	LatDeg, LonDeg, AltKm float64
}

// ECEFToGeodetic converts an Earth-fixed position (km) to geodetic
// coordinates with Bowring's iteration. Converges in 2-3 iterations for
// Earth orbits.
func ECEFToGeodetic(r Vector3) Geodetic {
	lon := math.Atan2(r.Y, r.X)
	p := math.Sqrt(r.X*r.X + r.Y*r.Y)
	lat := math.Atan2(r.Z, p*(1-wgs84E2))

	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(r.Z+wgs84E2*N*sinLat, p)
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - N
	} else {
		alt = math.Abs(r.Z)/math.Abs(sinLat) - N*(1-wgs84E2)
	}

	return Geodetic{
		LatDeg: lat / deg2rad,
		LonDeg: lon / deg2rad,
		AltKm:  alt,
	}
}
