package route

import (
	"errors"
	"fmt"
	"slices"

	"schoolbus-tracker/internal/geo"
)

var ErrTooFewWaypoints = errors.New("route needs at least 2 waypoints")

// Waypoint is a fixed stop on a route, in itinerary order.
type Waypoint struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name"`
}

func (w Waypoint) Point() geo.Point { return geo.Point{Lat: w.Lat, Lon: w.Lon} }

// Route is an ordered list of waypoints from origin to destination.
// A Route is immutable once built with New.
type Route struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Waypoints []Waypoint `json:"waypoints"`

	segments []float64 // haversine length of segment i (waypoint i -> i+1)
}

func New(id, name string, waypoints []Waypoint) (*Route, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("route %q: %w", id, ErrTooFewWaypoints)
	}
	for i, w := range waypoints {
		if !w.Point().Valid() {
			return nil, fmt.Errorf("route %q: waypoint %d has invalid coordinates (%v, %v)", id, i, w.Lat, w.Lon)
		}
	}
	wps := slices.Clone(waypoints)
	segs := make([]float64, len(wps)-1)
	for i := range segs {
		segs[i] = geo.Haversine(wps[i].Lat, wps[i].Lon, wps[i+1].Lat, wps[i+1].Lon)
	}
	return &Route{ID: id, Name: name, Waypoints: wps, segments: segs}, nil
}

func (r *Route) Origin() Waypoint      { return r.Waypoints[0] }
func (r *Route) Destination() Waypoint { return r.Waypoints[len(r.Waypoints)-1] }

// Segments returns the number of segments (len(waypoints)-1).
func (r *Route) Segments() int { return len(r.segments) }

// SegmentLength is the haversine length in meters of segment i.
func (r *Route) SegmentLength(i int) float64 {
	if i < 0 || i >= len(r.segments) {
		return 0
	}
	return r.segments[i]
}

// Length is the total route length in meters.
func (r *Route) Length() float64 {
	total := 0.0
	for _, d := range r.segments {
		total += d
	}
	return total
}

// IndexOf returns the index of the waypoint at exactly lat/lon, or -1.
func (r *Route) IndexOf(lat, lon float64) int {
	for i, w := range r.Waypoints {
		if w.Lat == lat && w.Lon == lon {
			return i
		}
	}
	return -1
}

// Reverse builds the return trip. Names travel with their coordinates.
func (r *Route) Reverse() *Route {
	wps := slices.Clone(r.Waypoints)
	slices.Reverse(wps)
	segs := slices.Clone(r.segments)
	slices.Reverse(segs)
	return &Route{ID: r.ID + "-return", Name: r.Name + " (retour)", Waypoints: wps, segments: segs}
}

func (r *Route) Points() []geo.Point {
	pts := make([]geo.Point, len(r.Waypoints))
	for i, w := range r.Waypoints {
		pts[i] = w.Point()
	}
	return pts
}

// Polyline returns the route geometry in Google encoded polyline format.
func (r *Route) Polyline() string { return geo.EncodePolyline(r.Points()) }
