package transform

import (
	"math"
	"time"
)

// LookAngles holds azimuth, elevation, and range from observer to object.
type LookAngles struct {
	AzimuthDeg   float64 `json:"azimuth"`   // [0, 360), 0 = north, clockwise
	ElevationDeg float64 `json:"elevation"` // 0 = horizon, 90 = zenith
	RangeKm      float64 `json:"range_km"`
}

// Topocentric computes look angles to an object at TEME position sat (km)
// as seen by obs at t.
func Topocentric(obs Observer, sat Vector3, t time.Time) LookAngles {
	return TopocentricWithGMST(obs, sat, GMST(t))
}

// TopocentricWithGMST is Topocentric with a precomputed GMST angle, for
// evaluating many objects at the same instant.
//
// The observer is rotated into the inertial frame at the query instant, the
// relative vector is formed there, then rotated back to Earth-fixed axes and
// projected onto the local horizon.
func TopocentricWithGMST(obs Observer, sat Vector3, gmst float64) LookAngles {
	obsInertial := ECEFToTEME(obs.EarthFixed(), gmst)
	rel := sat.Sub(obsInertial)
	enu := obs.HorizonRotation().Apply(TEMEToECEF(rel, gmst))
	return LookAnglesFromENU(enu)
}

// LookAnglesFromENU derives look angles from a local east-north-up vector.
func LookAnglesFromENU(enu Vector3) LookAngles {
	rng := enu.Norm()
	if rng == 0 {
		return LookAngles{ElevationDeg: 90}
	}

	el := math.Asin(math.Max(-1, math.Min(1, enu.Z/rng)))
	az := math.Atan2(enu.X, enu.Y) / deg2rad
	if az < 0 {
		az += 360
	}
	if az >= 360 {
		az -= 360
	}

	return LookAngles{
		AzimuthDeg:   az,
		ElevationDeg: el / deg2rad,
		RangeKm:      rng,
	}
}
