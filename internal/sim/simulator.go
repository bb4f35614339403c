package sim

import (
	"fmt"
	"math"

	"schoolbus-tracker/internal/geo"
	"schoolbus-tracker/internal/route"
)

type Status string

const (
	StatusAtOrigin Status = "at_origin"
	StatusEnRoute  Status = "en_route"
	StatusDwelling Status = "dwelling"
	StatusArrived  Status = "arrived"
)

// State is the simulated bus position along its route.
type State struct {
	Lat             float64 `json:"lat"`
	Lon             float64 `json:"lon"`
	SegmentIndex    int     `json:"segmentIndex"`
	SegmentProgress float64 `json:"segmentProgressMeters"`
	Stopped         bool    `json:"stopped"`
	Complete        bool    `json:"complete"`
}

// Step is the outcome of a single Advance.
type Step struct {
	State State
	// Reached is the index of the waypoint the bus snapped to during this
	// step, or -1.
	Reached int
}

// ETA is the estimated remaining travel to a waypoint ahead of the bus.
type ETA struct {
	Waypoint int     `json:"waypoint"`
	Name     string  `json:"name"`
	Meters   float64 `json:"meters"`
	Seconds  float64 `json:"seconds"`
	Minutes  int     `json:"minutes"`
}

// Simulator advances a point along a route at a constant distance per tick.
// It is not safe for concurrent use.
type Simulator struct {
	route      *route.Route
	stepMeters float64
	speedMps   float64
	state      State
}

func NewSimulator(r *route.Route, stepMeters, speedMps float64) (*Simulator, error) {
	if r == nil {
		return nil, fmt.Errorf("nil route")
	}
	if stepMeters <= 0 || math.IsNaN(stepMeters) || math.IsInf(stepMeters, 0) {
		return nil, fmt.Errorf("invalid step distance %v", stepMeters)
	}
	if speedMps <= 0 || math.IsNaN(speedMps) || math.IsInf(speedMps, 0) {
		return nil, fmt.Errorf("invalid speed %v", speedMps)
	}
	s := &Simulator{route: r, stepMeters: stepMeters, speedMps: speedMps}
	s.Reset()
	return s, nil
}

func (s *Simulator) Route() *route.Route { return s.route }
func (s *Simulator) State() State        { return s.state }

// Reset puts the bus back on the route origin.
func (s *Simulator) Reset() {
	o := s.route.Origin()
	s.state = State{Lat: o.Lat, Lon: o.Lon}
}

func (s *Simulator) SetStopped(stopped bool) { s.state.Stopped = stopped }

// Advance moves the bus one step along the current segment. Reaching the
// segment end snaps to its waypoint and resets the segment progress; on the
// last segment the route is marked complete and further calls do nothing.
func (s *Simulator) Advance() Step {
	if s.state.Complete {
		return Step{State: s.state, Reached: -1}
	}
	i := s.state.SegmentIndex
	from := s.route.Waypoints[i]
	to := s.route.Waypoints[i+1]
	d := s.route.SegmentLength(i)

	progress := s.state.SegmentProgress + s.stepMeters
	if progress >= d {
		s.state.Lat, s.state.Lon = to.Lat, to.Lon
		s.state.SegmentProgress = 0
		if i+1 < s.route.Segments() {
			s.state.SegmentIndex = i + 1
		} else {
			s.state.Complete = true
		}
		return Step{State: s.state, Reached: i + 1}
	}

	s.state.Lat, s.state.Lon = geo.Interpolate(from.Lat, from.Lon, to.Lat, to.Lon, progress/d)
	s.state.SegmentProgress = progress
	return Step{State: s.state, Reached: -1}
}

// ETA estimates the travel to waypoint j at the constant speed. It reports
// false when j is not ahead of the bus. Once complete, only the destination
// has an ETA, and it is zero.
func (s *Simulator) ETA(j int) (ETA, bool) {
	n := len(s.route.Waypoints)
	if j < 0 || j >= n {
		return ETA{}, false
	}
	name := s.route.Waypoints[j].Name
	if s.state.Complete {
		if j == n-1 {
			return ETA{Waypoint: j, Name: name}, true
		}
		return ETA{}, false
	}
	if j <= s.state.SegmentIndex {
		return ETA{}, false
	}

	total := 0.0
	for i := s.state.SegmentIndex; i < j; i++ {
		total += s.route.SegmentLength(i)
	}
	total -= s.state.SegmentProgress
	if total < 0 {
		total = 0
	}
	secs := total / s.speedMps
	return ETA{
		Waypoint: j,
		Name:     name,
		Meters:   total,
		Seconds:  secs,
		Minutes:  int(math.Round(secs / 60)),
	}, true
}

// ETAToWaypoint looks the waypoint up by its coordinates.
func (s *Simulator) ETAToWaypoint(w route.Waypoint) (ETA, bool) {
	return s.ETA(s.route.IndexOf(w.Lat, w.Lon))
}

// ETAs lists the estimates for every waypoint still ahead.
func (s *Simulator) ETAs() []ETA {
	var out []ETA
	for j := range s.route.Waypoints {
		if eta, ok := s.ETA(j); ok {
			out = append(out, eta)
		}
	}
	return out
}

func (s *Simulator) Status() Status {
	switch {
	case s.state.Complete:
		return StatusArrived
	case s.state.Stopped:
		return StatusDwelling
	case s.state.SegmentIndex == 0 && s.state.SegmentProgress == 0:
		return StatusAtOrigin
	default:
		return StatusEnRoute
	}
}

// Progress is the fraction of the route length covered, in [0,1].
func (s *Simulator) Progress() float64 {
	if s.state.Complete {
		return 1
	}
	total := s.route.Length()
	if total == 0 {
		return 0
	}
	done := s.state.SegmentProgress
	for i := 0; i < s.state.SegmentIndex; i++ {
		done += s.route.SegmentLength(i)
	}
	return math.Min(done/total, 1)
}

// Bearing of the current segment.
func (s *Simulator) Bearing() float64 {
	i := s.state.SegmentIndex
	a, b := s.route.Waypoints[i], s.route.Waypoints[i+1]
	return geo.Bearing(a.Lat, a.Lon, b.Lat, b.Lon)
}
