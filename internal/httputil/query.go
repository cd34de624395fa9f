package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dzeleniak/tleme/internal/transform"
)

// ErrBadQuery marks a malformed query parameter.
var ErrBadQuery = errors.New("bad query")

// VisibilityQuery holds the parameters of a visibility request.
type VisibilityQuery struct {
	Observer    transform.Observer
	HasObserver bool // lat and lon were given; otherwise the caller locates the observer
	Threshold   float64
	At          time.Time
}

// ParseVisibilityQuery reads lat, lon, el (meters), threshold (degrees) and
// at (RFC 3339) from q. lat and lon must be given together.
func ParseVisibilityQuery(q url.Values, defaultThreshold float64, now time.Time) (VisibilityQuery, error) {
	vq := VisibilityQuery{Threshold: defaultThreshold, At: now}

	lat, hasLat, err := floatParam(q, "lat")
	if err != nil {
		return vq, err
	}
	lon, hasLon, err := floatParam(q, "lon")
	if err != nil {
		return vq, err
	}
	el, _, err := floatParam(q, "el")
	if err != nil {
		return vq, err
	}
	if hasLat != hasLon {
		return vq, fmt.Errorf("%w: lat and lon must be given together", ErrBadQuery)
	}
	if hasLat {
		vq.Observer = transform.Observer{LatDeg: lat, LonDeg: lon, ElevationM: el}
		vq.HasObserver = true
		if err := vq.Observer.Validate(); err != nil {
			return vq, fmt.Errorf("%w: %w", ErrBadQuery, err)
		}
	}

	if th, ok, err := floatParam(q, "threshold"); err != nil {
		return vq, err
	} else if ok {
		if th < -90 || th > 90 {
			return vq, fmt.Errorf("%w: threshold %.2f outside [-90, 90]", ErrBadQuery, th)
		}
		vq.Threshold = th
	}

	if v := q.Get("at"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return vq, fmt.Errorf("%w: at must be RFC 3339: %v", ErrBadQuery, err)
		}
		vq.At = at
	}

	return vq, nil
}

func floatParam(q url.Values, name string) (float64, bool, error) {
	v := q.Get(name)
	if v == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("%w: %s must be a number", ErrBadQuery, name)
	}
	return f, true, nil
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
