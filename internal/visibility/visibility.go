// Package visibility decides which catalogued objects a ground observer can
// currently see above an elevation threshold.
package visibility

import (
	"time"

	"github.com/dzeleniak/tleme/internal/transform"
)

// DefaultThreshold is the elevation gate in degrees when none is configured.
const DefaultThreshold = 30.0

// Result is one object's position on the observer's sky.
type Result struct {
	CatalogID    string  `json:"catalog_id"`
	Name         string  `json:"name"`
	MeanMotion   float64 `json:"mean_motion"` // rev/day
	ElevationDeg float64 `json:"elevation"`
	AzimuthDeg   float64 `json:"azimuth"`
	RangeKm      float64 `json:"range_km"`
	RangeRateKmS float64 `json:"range_rate_km_s"` // positive when receding
	AltitudeKm   float64 `json:"altitude_km"`
	EpochAgeDays float64 `json:"epoch_age_days"`
	Visible      bool    `json:"visible"`
}

// IsVisible applies the visibility gate. Elevation exactly at the threshold
// is not visible.
func IsVisible(elevationDeg, thresholdDeg float64) bool {
	return elevationDeg > thresholdDeg
}

// Evaluate computes look angles from obs to an object at state and applies
// thresholdDeg. Catalog fields of the result are left for the caller.
//
// t is truncated to the second, the resolution propagated states carry.
func Evaluate(state transform.StateVector, obs transform.Observer, t time.Time, thresholdDeg float64) Result {
	return evaluateWithGMST(state, obs, transform.GMST(t.UTC().Truncate(time.Second)), thresholdDeg)
}

func evaluateWithGMST(state transform.StateVector, obs transform.Observer, gmst, thresholdDeg float64) Result {
	look := transform.TopocentricWithGMST(obs, state.Position, gmst)
	fixed := transform.TEMEToECEF(state.Position, gmst)
	geo := transform.ECEFToGeodetic(fixed)

	var rangeRate float64
	los := fixed.Sub(obs.EarthFixed())
	if n := los.Norm(); n > 0 {
		rangeRate = los.Dot(transform.TEMEVelocityToECEF(state.Position, state.Velocity, gmst)) / n
	}

	return Result{
		ElevationDeg: look.ElevationDeg,
		AzimuthDeg:   look.AzimuthDeg,
		RangeKm:      look.RangeKm,
		RangeRateKmS: rangeRate,
		AltitudeKm:   geo.AltKm,
		Visible:      IsVisible(look.ElevationDeg, thresholdDeg),
	}
}
