// Package location discovers the observer's position when no coordinates
// are given: public IP, then IP geolocation, then terrain elevation.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dzeleniak/tleme/internal/transform"
)

// ErrLocationUnavailable is returned when any step of the lookup chain fails.
// Callers should fall back to explicit coordinates.
var ErrLocationUnavailable = errors.New("location unavailable")

// IPResolver returns the caller's public IP address.
type IPResolver interface {
	PublicIP(ctx context.Context) (string, error)
}

// Geolocator maps an IP address to approximate coordinates in degrees.
type Geolocator interface {
	Locate(ctx context.Context, ip string) (lat, lon float64, err error)
}

// ElevationProvider returns terrain elevation in meters at a coordinate.
type ElevationProvider interface {
	Elevation(ctx context.Context, lat, lon float64) (float64, error)
}

// Resolver chains the three providers into an observer position.
type Resolver struct {
	ip        IPResolver
	geo       Geolocator
	elevation ElevationProvider
	logger    *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(ip IPResolver, geo Geolocator, elevation ElevationProvider, logger *slog.Logger) *Resolver {
	return &Resolver{ip: ip, geo: geo, elevation: elevation, logger: logger}
}

// Observer locates this host by its public IP.
func (r *Resolver) Observer(ctx context.Context) (transform.Observer, error) {
	return r.ObserverForIP(ctx, "")
}

// ObserverForIP locates the given IP address. An empty ip means this host's
// public address.
func (r *Resolver) ObserverForIP(ctx context.Context, ip string) (transform.Observer, error) {
	if ip == "" {
		var err error
		if ip, err = r.ip.PublicIP(ctx); err != nil {
			return transform.Observer{}, r.fail("public ip", err)
		}
	}

	lat, lon, err := r.geo.Locate(ctx, ip)
	if err != nil {
		return transform.Observer{}, r.fail("geolocation", err)
	}

	elev, err := r.elevation.Elevation(ctx, lat, lon)
	if err != nil {
		return transform.Observer{}, r.fail("elevation", err)
	}

	obs := transform.Observer{LatDeg: lat, LonDeg: lon, ElevationM: elev}
	if err := obs.Validate(); err != nil {
		return transform.Observer{}, r.fail("geolocation", err)
	}

	r.logger.Debug("observer located",
		"ip", ip,
		"latitude", lat,
		"longitude", lon,
		"elevation_m", elev,
	)
	return obs, nil
}

func (r *Resolver) fail(step string, err error) error {
	r.logger.Warn("location lookup failed", "step", step, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrLocationUnavailable, step, err)
}
