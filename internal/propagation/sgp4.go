package propagation

import (
	"fmt"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/transform"
)

// SGP4 library choice: github.com/joshuaferrara/go-satellite
//
// Pure Go, SGP4 with the SDP4 deep-space branch, explicit TEME output.
// WGS-72 constants are used because the element sets are fitted with them.
//
// Propagate() takes Satellite by value so SGP4 error codes are not visible
// to the caller. We detect propagation failures by checking output for NaN/Inf
// and unreasonable position magnitudes.

// SGP4Propagator wraps the go-satellite library for a single record.
type SGP4Propagator struct {
	sat       satellite.Satellite
	elements  Elements
	catalogID string
}

// NewSGP4Propagator decodes, validates, and initializes SGP4 for one record.
//
// Elements are decoded and range-checked before the library sees them,
// because go-satellite calls log.Fatal on malformed input.
func NewSGP4Propagator(rec tle.Record) (*SGP4Propagator, error) {
	line1 := strings.TrimSpace(rec.Line1)
	line2 := strings.TrimSpace(rec.Line2)

	el, err := ParseElements(line1, line2)
	if err != nil {
		return nil, newError(rec.CatalogID, "invalid element lines", err)
	}
	if err := el.Validate(); err != nil {
		return nil, newError(rec.CatalogID, "elements out of range", err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, newError(rec.CatalogID, "sgp4 init failed",
			fmt.Errorf("code=%d %s", sat.Error, sat.ErrorStr))
	}
	return &SGP4Propagator{sat: sat, elements: el, catalogID: rec.CatalogID}, nil
}

// Elements returns the decoded element set.
func (p *SGP4Propagator) Elements() Elements {
	return p.elements
}

// CheckEpochAge rejects instants more than maxAge from the element epoch.
func (p *SGP4Propagator) CheckEpochAge(t time.Time, maxAge time.Duration) error {
	return checkEpochAge(p.catalogID, p.elements, t, maxAge)
}

// Propagate computes the TEME state vector (km, km/s) at t. The library
// resolves time to whole seconds; t is truncated to match.
func (p *SGP4Propagator) Propagate(t time.Time) (transform.StateVector, error) {
	t = t.UTC().Truncate(time.Second)
	pos, vel := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	r := transform.Vector3{X: pos.X, Y: pos.Y, Z: pos.Z}
	v := transform.Vector3{X: vel.X, Y: vel.Y, Z: vel.Z}

	if !r.IsFinite() || !v.IsFinite() {
		return transform.StateVector{}, newError(p.catalogID, "output is NaN/Inf", nil)
	}
	if !transform.ValidateOrbitRadius(r) {
		return transform.StateVector{}, newError(p.catalogID,
			fmt.Sprintf("unreasonable position magnitude %.1f km", r.Norm()), nil)
	}

	return transform.StateVector{Time: t, Position: r, Velocity: v}, nil
}
