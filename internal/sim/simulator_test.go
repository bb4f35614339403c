package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbus-tracker/internal/route"
)

func twoStopRoute(t *testing.T) *route.Route {
	t.Helper()
	r, err := route.New("r", "R", []route.Waypoint{
		{Lat: 35.6212102, Lon: 10.759478, Name: "A"},
		{Lat: 35.6301472, Lon: 10.7469969, Name: "B"},
	})
	require.NoError(t, err)
	return r
}

func TestNewSimulatorValidation(t *testing.T) {
	r := twoStopRoute(t)
	_, err := NewSimulator(nil, 20, 8.33)
	assert.Error(t, err)
	_, err = NewSimulator(r, 0, 8.33)
	assert.Error(t, err)
	_, err = NewSimulator(r, 20, -1)
	assert.Error(t, err)
	_, err = NewSimulator(r, math.NaN(), 8.33)
	assert.Error(t, err)
}

func TestTwoStopScenario(t *testing.T) {
	r := twoStopRoute(t)
	s, err := NewSimulator(r, 20, 8.33)
	require.NoError(t, err)

	ticks := int(math.Ceil(r.SegmentLength(0) / 20))
	require.Equal(t, 76, ticks)

	for i := 1; i < ticks; i++ {
		st := s.Advance()
		require.Equal(t, -1, st.Reached, "tick %d", i)
		require.Equal(t, 0, st.State.SegmentIndex)
		require.False(t, st.State.Complete)
	}
	assert.InDelta(t, 1500, s.State().SegmentProgress, 1e-9)

	st := s.Advance()
	assert.Equal(t, 1, st.Reached)
	assert.True(t, st.State.Complete)
	assert.Equal(t, 0, st.State.SegmentIndex)
	assert.Equal(t, r.Destination().Lat, st.State.Lat)
	assert.Equal(t, r.Destination().Lon, st.State.Lon)

	eta, ok := s.ETA(1)
	require.True(t, ok)
	assert.Equal(t, 0.0, eta.Meters)
	assert.Equal(t, 0, eta.Minutes)
	assert.Equal(t, StatusArrived, s.Status())

	// complete simulators stay put
	again := s.Advance()
	assert.Equal(t, -1, again.Reached)
	assert.Equal(t, st.State, again.State)
}

func TestSegmentTransitionOnExactLength(t *testing.T) {
	r := route.Builtin()["trajet-1"]
	half := r.SegmentLength(0) / 2
	s, err := NewSimulator(r, half, 8.33)
	require.NoError(t, err)

	st := s.Advance()
	assert.Equal(t, 0, st.State.SegmentIndex)
	assert.Equal(t, half, st.State.SegmentProgress)

	st = s.Advance()
	assert.Equal(t, 1, st.Reached)
	assert.Equal(t, 1, st.State.SegmentIndex)
	assert.Equal(t, 0.0, st.State.SegmentProgress)
	assert.Equal(t, r.Waypoints[1].Lat, st.State.Lat)
	assert.Equal(t, r.Waypoints[1].Lon, st.State.Lon)
	assert.False(t, st.State.Complete)
}

func TestAdvanceInterpolates(t *testing.T) {
	r := twoStopRoute(t)
	s, err := NewSimulator(r, 20, 8.33)
	require.NoError(t, err)

	st := s.Advance()
	ratio := 20 / r.SegmentLength(0)
	a, b := r.Waypoints[0], r.Waypoints[1]
	assert.InDelta(t, a.Lat+(b.Lat-a.Lat)*ratio, st.State.Lat, 1e-12)
	assert.InDelta(t, a.Lon+(b.Lon-a.Lon)*ratio, st.State.Lon, 1e-12)
	assert.Equal(t, StatusEnRoute, s.Status())
}

func TestETAStrictlyDecreases(t *testing.T) {
	r := route.Builtin()["trajet-1"]
	s, err := NewSimulator(r, 150, 8.33)
	require.NoError(t, err)

	last := len(r.Waypoints) - 1
	prev, ok := s.ETA(last)
	require.True(t, ok)
	assert.InDelta(t, r.Length(), prev.Meters, 1e-6)
	assert.InDelta(t, r.Length()/8.33, prev.Seconds, 1e-6)

	for !s.State().Complete {
		s.Advance()
		cur, ok := s.ETA(last)
		require.True(t, ok)
		require.Less(t, cur.Seconds, prev.Seconds)
		prev = cur
	}
	assert.Equal(t, 0.0, prev.Seconds)
}

func TestETANotAhead(t *testing.T) {
	r := route.Builtin()["trajet-1"]
	s, err := NewSimulator(r, r.SegmentLength(0), 8.33)
	require.NoError(t, err)

	_, ok := s.ETA(0)
	assert.False(t, ok, "origin is never ahead")
	_, ok = s.ETA(99)
	assert.False(t, ok)

	s.Advance() // at waypoint 1, now on segment 1
	_, ok = s.ETA(1)
	assert.False(t, ok)

	eta, ok := s.ETA(2)
	require.True(t, ok)
	assert.InDelta(t, r.SegmentLength(1), eta.Meters, 1e-6)
	assert.Equal(t, int(math.Round(r.SegmentLength(1)/8.33/60)), eta.Minutes)

	_, ok = s.ETAToWaypoint(route.Waypoint{Lat: 1, Lon: 1})
	assert.False(t, ok)
	byCoord, ok := s.ETAToWaypoint(r.Waypoints[3])
	require.True(t, ok)
	assert.Equal(t, 3, byCoord.Waypoint)

	etas := s.ETAs()
	require.Len(t, etas, 4)
	assert.Equal(t, 2, etas[0].Waypoint)
	assert.Equal(t, r.Waypoints[5].Name, etas[3].Name)
}

func TestETASubtractsPartialProgress(t *testing.T) {
	r := route.Builtin()["trajet-1"]
	s, err := NewSimulator(r, 100, 10)
	require.NoError(t, err)
	s.Advance()
	s.Advance()

	eta, ok := s.ETA(2)
	require.True(t, ok)
	assert.InDelta(t, r.SegmentLength(0)+r.SegmentLength(1)-200, eta.Meters, 1e-6)
	assert.InDelta(t, eta.Meters/10, eta.Seconds, 1e-9)
}

func TestReturnTripUsesReversedOrdering(t *testing.T) {
	r := route.Builtin()["trajet-1"].Reverse()
	s, err := NewSimulator(r, 20, 8.33)
	require.NoError(t, err)

	eta, ok := s.ETA(1)
	require.True(t, ok)
	assert.Equal(t, "Arrêt 4 : حانوة زياد سعد", eta.Name)
	assert.InDelta(t, 932.56, eta.Meters, 0.01)
}

func TestResetAndStatus(t *testing.T) {
	r := route.Builtin()["trajet-2"]
	s, err := NewSimulator(r, 500, 8.33)
	require.NoError(t, err)
	assert.Equal(t, StatusAtOrigin, s.Status())
	assert.Equal(t, 0.0, s.Progress())

	for i := 0; i < 5; i++ {
		s.Advance()
	}
	s.SetStopped(true)
	assert.Equal(t, StatusDwelling, s.Status())
	assert.Greater(t, s.Progress(), 0.0)

	s.Reset()
	assert.Equal(t, State{Lat: r.Origin().Lat, Lon: r.Origin().Lon}, s.State())
	assert.Equal(t, StatusAtOrigin, s.Status())
}
