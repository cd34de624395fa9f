// Package passes finds the windows in which one catalog object stays above
// an observer's elevation threshold.
package passes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dzeleniak/tleme/internal/metrics"
	"github.com/dzeleniak/tleme/internal/propagation"
	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/transform"
	"github.com/dzeleniak/tleme/internal/visibility"
)

const (
	DefaultWindow    = 24 * time.Hour
	MaxWindow        = 7 * 24 * time.Hour
	DefaultMaxPasses = 10

	coarseStep = 30 * time.Second // while below the threshold
	trackStep  = 10 * time.Second // while above; also the ground track spacing
)

// ErrInvalidRequest marks a request that cannot be searched.
var ErrInvalidRequest = errors.New("invalid pass request")

// TrackPoint is the sub-satellite point at one instant of a pass.
type TrackPoint struct {
	Time         time.Time `json:"time"`
	LatDeg       float64   `json:"latitude"`
	LonDeg       float64   `json:"longitude"`
	AltitudeKm   float64   `json:"altitude_km"`
	ElevationDeg float64   `json:"elevation"`
}

// Pass is one interval during which the object is above the threshold.
// Rise is the first whole second above it and Set the first second back
// below. A pass already in progress at the window start rises at the start;
// one still in progress at the window end sets at the end.
type Pass struct {
	Rise                  time.Time    `json:"rise"`
	Culmination           time.Time    `json:"culmination"`
	Set                   time.Time    `json:"set"`
	DurationSeconds       float64      `json:"duration_seconds"`
	MaxElevationDeg       float64      `json:"max_elevation"`
	RiseAzimuthDeg        float64      `json:"rise_azimuth"`
	CulminationAzimuthDeg float64      `json:"culmination_azimuth"`
	SetAzimuthDeg         float64      `json:"set_azimuth"`
	GroundTrack           []TrackPoint `json:"ground_track"`
}

// Request holds the parameters for a pass search.
type Request struct {
	Observer     transform.Observer
	Start        time.Time
	Window       time.Duration // default DefaultWindow, at most MaxWindow
	ThresholdDeg float64
	MaxPasses    int           // default DefaultMaxPasses
	MaxEpochAge  time.Duration // <= 0 disables the check
}

func (r Request) normalize() (Request, error) {
	if err := r.Observer.Validate(); err != nil {
		return r, err
	}
	if math.IsNaN(r.ThresholdDeg) || r.ThresholdDeg < -90 || r.ThresholdDeg > 90 {
		return r, fmt.Errorf("%w: threshold %v outside [-90, 90]", ErrInvalidRequest, r.ThresholdDeg)
	}
	if r.Window == 0 {
		r.Window = DefaultWindow
	}
	if r.Window < 0 || r.Window > MaxWindow {
		return r, fmt.Errorf("%w: window %s outside (0, %s]", ErrInvalidRequest, r.Window, MaxWindow)
	}
	if r.MaxPasses <= 0 {
		r.MaxPasses = DefaultMaxPasses
	}
	r.Start = r.Start.UTC().Truncate(time.Second)
	return r, nil
}

type sample struct {
	t       time.Time
	el, az  float64
	geo     transform.Geodetic
	visible bool
}

func (s sample) point() TrackPoint {
	return TrackPoint{Time: s.t, LatDeg: s.geo.LatDeg, LonDeg: s.geo.LonDeg, AltitudeKm: s.geo.AltKm, ElevationDeg: s.el}
}

type sampler struct {
	prop      *propagation.SGP4Propagator
	obs       transform.Observer
	threshold float64
}

func (s sampler) at(t time.Time) (sample, error) {
	state, err := s.prop.Propagate(t)
	if err != nil {
		return sample{}, err
	}
	gmst := transform.GMST(state.Time)
	look := transform.TopocentricWithGMST(s.obs, state.Position, gmst)
	return sample{
		t:       state.Time,
		el:      look.ElevationDeg,
		az:      look.AzimuthDeg,
		geo:     transform.ECEFToGeodetic(transform.TEMEToECEF(state.Position, gmst)),
		visible: visibility.IsVisible(look.ElevationDeg, s.threshold),
	}, nil
}

// crossing bisects (lo, hi] for the first whole second whose visibility
// differs from lo's. lo and hi must disagree.
func (s sampler) crossing(lo, hi sample) (sample, error) {
	for hi.t.Sub(lo.t) > time.Second {
		mid, err := s.at(lo.t.Add(hi.t.Sub(lo.t) / 2).Truncate(time.Second))
		if err != nil {
			return sample{}, err
		}
		if mid.visible == lo.visible {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi, nil
}

// refinePeak rescans the track step around the coarse culmination at one
// second resolution.
func (s sampler) refinePeak(p *Pass) error {
	from := p.Culmination.Add(-trackStep)
	if from.Before(p.Rise) {
		from = p.Rise
	}
	to := p.Culmination.Add(trackStep)
	if to.After(p.Set) {
		to = p.Set
	}
	for t := from; !t.After(to); t = t.Add(time.Second) {
		smp, err := s.at(t)
		if err != nil {
			return err
		}
		if smp.el > p.MaxElevationDeg {
			p.MaxElevationDeg = smp.el
			p.Culmination = smp.t
			p.CulminationAzimuthDeg = smp.az
		}
	}
	return nil
}

func openPass(rise sample) *Pass {
	return &Pass{
		Rise:                  rise.t,
		Culmination:           rise.t,
		MaxElevationDeg:       rise.el,
		RiseAzimuthDeg:        rise.az,
		CulminationAzimuthDeg: rise.az,
		GroundTrack:           []TrackPoint{rise.point()},
	}
}

func (p *Pass) observe(smp sample) {
	p.GroundTrack = append(p.GroundTrack, smp.point())
	if smp.el > p.MaxElevationDeg {
		p.MaxElevationDeg = smp.el
		p.Culmination = smp.t
		p.CulminationAzimuthDeg = smp.az
	}
}

func (p *Pass) close(set sample) {
	p.Set = set.t
	p.SetAzimuthDeg = set.az
	p.DurationSeconds = set.t.Sub(p.Rise).Seconds()
	if !p.GroundTrack[len(p.GroundTrack)-1].Time.Equal(set.t) {
		p.GroundTrack = append(p.GroundTrack, set.point())
	}
}

// Predict searches [req.Start, req.Start+req.Window] for the passes of rec
// over req.Observer, in time order, stopping after req.MaxPasses.
//
// Below the threshold the object is sampled every 30 s, so an excursion
// above it shorter than that can be missed.
func Predict(ctx context.Context, rec tle.Record, req Request) ([]Pass, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}

	prop, err := propagation.NewSGP4Propagator(rec)
	if err != nil {
		return nil, err
	}
	if err := prop.CheckEpochAge(req.Start, req.MaxEpochAge); err != nil {
		return nil, err
	}
	if err := prop.CheckEpochAge(req.Start.Add(req.Window), req.MaxEpochAge); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { metrics.RecordPassPrediction(time.Since(start)) }()

	s := sampler{prop: prop, obs: req.Observer, threshold: req.ThresholdDeg}
	end := req.Start.Add(req.Window)

	prev, err := s.at(req.Start)
	if err != nil {
		return nil, err
	}

	passes := []Pass{}
	var cur *Pass
	if prev.visible {
		cur = openPass(prev)
	}

	for prev.t.Before(end) && len(passes) < req.MaxPasses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		step := coarseStep
		if cur != nil {
			step = trackStep
		}
		next := prev.t.Add(step)
		if next.After(end) {
			next = end
		}

		smp, err := s.at(next)
		if err != nil {
			return nil, err
		}

		switch {
		case cur == nil && smp.visible:
			rise, err := s.crossing(prev, smp)
			if err != nil {
				return nil, err
			}
			cur = openPass(rise)
			if !rise.t.Equal(smp.t) {
				cur.observe(smp)
			}
		case cur != nil && smp.visible:
			cur.observe(smp)
		case cur != nil:
			set, err := s.crossing(prev, smp)
			if err != nil {
				return nil, err
			}
			cur.close(set)
			if err := s.refinePeak(cur); err != nil {
				return nil, err
			}
			passes = append(passes, *cur)
			cur = nil
		}
		prev = smp
	}

	if cur != nil && len(passes) < req.MaxPasses {
		cur.close(prev)
		if err := s.refinePeak(cur); err != nil {
			return nil, err
		}
		passes = append(passes, *cur)
	}
	return passes, nil
}
