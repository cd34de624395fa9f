// Package transform provides the coordinate frames used to turn an SGP4 state
// vector into what a ground observer sees.
//
// SGP4 outputs TEME (True Equator Mean Equinox). Earth-fixed positions are
// obtained with a GMST-only rotation (TEME → PEF ≈ ECEF), ignoring polar
// motion and the equation of the equinoxes. The error is tens of meters at
// most, far below anything that matters for a visibility threshold.
//
// All distances in this package are kilometers.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3-4.
package transform

import (
	"math"
	"time"
)

// Vector3 is a Cartesian vector in kilometers (or km/s).
type Vector3 struct {
	X, Y, Z float64
}

// Sub returns v - o.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Dot returns the scalar product of v and o.
func (v Vector3) Dot(o Vector3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Norm returns the Euclidean length of v.
func (v Vector3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// IsFinite reports whether no component is NaN or Inf.
func (v Vector3) IsFinite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Matrix3 is a row-major 3x3 matrix.
type Matrix3 [3][3]float64

// Apply returns m·v.
func (m Matrix3) Apply(v Vector3) Vector3 {
	return Vector3{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Transpose returns mᵀ, the inverse of a rotation.
func (m Matrix3) Transpose() Matrix3 {
	var t Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] = m[j][i]
		}
	}
	return t
}

// RotZ is the frame rotation R3(θ) about the z-axis.
func RotZ(theta float64) Matrix3 {
	c, s := math.Cos(theta), math.Sin(theta)
	return Matrix3{
		{c, s, 0},
		{-s, c, 0},
		{0, 0, 1},
	}
}

// StateVector is a position (km) and velocity (km/s) in the TEME inertial
// frame at a specific instant.
type StateVector struct {
	Time     time.Time
	Position Vector3
	Velocity Vector3
}

// TEMEToECEF rotates a TEME position into the Earth-fixed frame using a
// precomputed GMST angle (radians).
func TEMEToECEF(r Vector3, gmst float64) Vector3 {
	return RotZ(gmst).Apply(r)
}

// ECEFToTEME rotates an Earth-fixed position into TEME.
func ECEFToTEME(r Vector3, gmst float64) Vector3 {
	return RotZ(gmst).Transpose().Apply(r)
}

// TEMEVelocityToECEF converts a TEME velocity at TEME position r into the
// rotating Earth-fixed frame: v_ECEF = R3(θ)·v_TEME − ω × r_ECEF.
func TEMEVelocityToECEF(r, v Vector3, gmst float64) Vector3 {
	rot := RotZ(gmst)
	rf := rot.Apply(r)
	vf := rot.Apply(v)
	return Vector3{
		X: vf.X + OmegaEarth*rf.Y,
		Y: vf.Y - OmegaEarth*rf.X,
		Z: vf.Z,
	}
}

// Earth-orbit sanity bounds on geocentric distance (km).
const (
	MinOrbitRadiusKm = 6200.0
	MaxOrbitRadiusKm = 500000.0
)

// ValidateOrbitRadius checks that a position is finite and at a plausible
// geocentric distance for a catalogued Earth-orbiting object.
func ValidateOrbitRadius(r Vector3) bool {
	if !r.IsFinite() {
		return false
	}
	mag := r.Norm()
	return mag >= MinOrbitRadiusKm && mag <= MaxOrbitRadiusKm
}
