package propagation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// tleLineLength is the fixed width of a NORAD element line.
const tleLineLength = 69

// Physical bounds on decoded elements.
const (
	MinMeanMotion = 0.05 // rev/day; slower than this is beyond any catalogued Earth orbit
	MaxMeanMotion = 17.0 // rev/day; faster than this is below the surface

	earthRadiusKm = 6378.135 // WGS-72, the gravity model used for propagation
	muKm3s2       = 398600.8 // WGS-72 gravitational parameter (km³/s²)
)

// Elements is the classical element set decoded from a TLE.
type Elements struct {
	SatNum         int
	Epoch          time.Time
	NDot           float64 // rev/day², first derivative of mean motion / 2
	NDDot          float64 // rev/day³, second derivative of mean motion / 6
	BStar          float64 // 1/earth radii
	InclinationDeg float64
	RAANDeg        float64
	Eccentricity   float64
	ArgPerigeeDeg  float64
	MeanAnomalyDeg float64
	MeanMotion     float64 // rev/day
}

// ParseElements decodes both element lines by column.
//
// Fields are decoded the same way the SGP4 library decodes them, so lines
// accepted here never reach its fatal parse path.
func ParseElements(line1, line2 string) (Elements, error) {
	if len(line1) != tleLineLength {
		return Elements{}, fmt.Errorf("line 1 length %d, expected %d", len(line1), tleLineLength)
	}
	if len(line2) != tleLineLength {
		return Elements{}, fmt.Errorf("line 2 length %d, expected %d", len(line2), tleLineLength)
	}
	if line1[0] != '1' {
		return Elements{}, fmt.Errorf("line 1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return Elements{}, fmt.Errorf("line 2 must start with '2', got '%c'", line2[0])
	}

	var (
		el  Elements
		err error
	)

	satnum, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return Elements{}, fmt.Errorf("satellite number %q: not numeric", line1[2:7])
	}
	el.SatNum = satnum

	if el.Epoch, err = parseEpoch(line1[18:20], line1[20:32]); err != nil {
		return Elements{}, err
	}

	// Blank-stripping matches the SGP4 library per field: it removes up to
	// two spaces everywhere except eccentricity, which it parses verbatim.
	fields := []struct {
		name  string
		raw   string
		strip bool
		dst   *float64
	}{
		{"ndot", line1[33:43], true, &el.NDot},
		{"nddot", line1[44:45] + "." + line1[45:50] + "e" + line1[50:52], true, &el.NDDot},
		{"bstar", line1[53:54] + "." + line1[54:59] + "e" + line1[59:61], true, &el.BStar},
		{"inclination", line2[8:16], true, &el.InclinationDeg},
		{"raan", line2[17:25], true, &el.RAANDeg},
		{"eccentricity", "." + line2[26:33], false, &el.Eccentricity},
		{"argument of perigee", line2[34:42], true, &el.ArgPerigeeDeg},
		{"mean anomaly", line2[43:51], true, &el.MeanAnomalyDeg},
		{"mean motion", line2[52:63], true, &el.MeanMotion},
	}
	for _, f := range fields {
		raw := f.raw
		if f.strip {
			raw = strings.Replace(raw, " ", "", 2)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Elements{}, fmt.Errorf("%s field %q: not a number", f.name, f.raw)
		}
		*f.dst = v
	}

	return el, nil
}

// parseEpoch converts the two-digit year and fractional day-of-year fields.
// Years 57-99 are 19xx, 00-56 are 20xx.
func parseEpoch(yy, days string) (time.Time, error) {
	year, err := strconv.Atoi(yy)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch year %q: not numeric", yy)
	}
	if year < 57 {
		year += 2000
	} else {
		year += 1900
	}

	dayOfYear, err := strconv.ParseFloat(days, 64)
	if err != nil || dayOfYear < 1 || dayOfYear >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %q: out of range", days)
	}

	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	offset := time.Duration((dayOfYear - 1) * float64(24*time.Hour))
	return start.Add(offset), nil
}

// Validate checks that the elements describe a physically possible bound
// Earth orbit.
func (e Elements) Validate() error {
	switch {
	case e.Eccentricity < 0 || e.Eccentricity >= 1:
		return fmt.Errorf("eccentricity %.7f outside [0, 1)", e.Eccentricity)
	case e.MeanMotion <= 0:
		return fmt.Errorf("mean motion %.8f rev/day is not positive", e.MeanMotion)
	case e.MeanMotion < MinMeanMotion:
		return fmt.Errorf("mean motion %.8f rev/day below %.2f (near escape)", e.MeanMotion, MinMeanMotion)
	case e.MeanMotion > MaxMeanMotion:
		return fmt.Errorf("mean motion %.8f rev/day above %.1f", e.MeanMotion, MaxMeanMotion)
	case e.InclinationDeg < 0 || e.InclinationDeg > 180:
		return fmt.Errorf("inclination %.4f outside [0, 180]", e.InclinationDeg)
	}

	if perigee := e.SemiMajorAxisKm() * (1 - e.Eccentricity); perigee < earthRadiusKm {
		return fmt.Errorf("perigee radius %.1f km is below the Earth's surface", perigee)
	}
	return nil
}

// SemiMajorAxisKm derives the semi-major axis from mean motion (Kepler's
// third law, two-body).
func (e Elements) SemiMajorAxisKm() float64 {
	n := e.MeanMotion * 2 * math.Pi / 86400.0 // rad/s
	return math.Cbrt(muKm3s2 / (n * n))
}

// EpochAge returns the time elapsed from the element epoch to t. Negative
// when t precedes the epoch.
func (e Elements) EpochAge(t time.Time) time.Duration {
	return t.Sub(e.Epoch)
}
