package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbus-tracker/internal/geo"
)

func TestNew(t *testing.T) {
	t.Run("rejects a single waypoint", func(t *testing.T) {
		_, err := New("r", "R", []Waypoint{{35.6, 10.7, "A"}})
		require.ErrorIs(t, err, ErrTooFewWaypoints)
	})

	t.Run("rejects invalid coordinates", func(t *testing.T) {
		_, err := New("r", "R", []Waypoint{{35.6, 10.7, "A"}, {135.6, 10.7, "B"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "waypoint 1")
	})

	t.Run("copies waypoints", func(t *testing.T) {
		wps := []Waypoint{{35.6212102, 10.759478, "A"}, {35.6301472, 10.7469969, "B"}}
		r, err := New("r", "R", wps)
		require.NoError(t, err)
		wps[0].Name = "changed"
		assert.Equal(t, "A", r.Origin().Name)
		assert.Equal(t, "B", r.Destination().Name)
		assert.Equal(t, 1, r.Segments())
	})
}

func TestLengths(t *testing.T) {
	r := Builtin()["trajet-1"]
	require.NotNil(t, r)

	assert.Equal(t, 5, r.Segments())
	assert.InDelta(t, 1503.369, r.SegmentLength(0), 0.01)
	assert.Equal(t, 0.0, r.SegmentLength(-1))
	assert.Equal(t, 0.0, r.SegmentLength(5))

	sum := 0.0
	for i := 0; i < r.Segments(); i++ {
		sum += geo.Haversine(r.Waypoints[i].Lat, r.Waypoints[i].Lon, r.Waypoints[i+1].Lat, r.Waypoints[i+1].Lon)
	}
	assert.InDelta(t, sum, r.Length(), 1e-6)
	assert.InDelta(t, 14363.816, r.Length(), 0.01)
}

func TestReverse(t *testing.T) {
	r := Builtin()["trajet-2"]
	rev := r.Reverse()

	assert.Equal(t, "trajet-2-return", rev.ID)
	require.Len(t, rev.Waypoints, len(r.Waypoints))
	n := len(r.Waypoints)
	for i := range r.Waypoints {
		assert.Equal(t, r.Waypoints[i], rev.Waypoints[n-1-i])
	}
	for i := 0; i < r.Segments(); i++ {
		assert.InDelta(t, r.SegmentLength(i), rev.SegmentLength(r.Segments()-1-i), 1e-6)
	}
	assert.Equal(t, "Arrivée : Société EMKA MED", rev.Origin().Name)
	// receiver untouched
	assert.Equal(t, "Départ : Boulangerie Ben Ticha", r.Origin().Name)
}

func TestIndexOf(t *testing.T) {
	r := Builtin()["trajet-1"]
	assert.Equal(t, 3, r.IndexOf(35.6518278, 10.6935104))
	assert.Equal(t, -1, r.IndexOf(0, 0))
}

func TestPolyline(t *testing.T) {
	r, err := New("r", "R", []Waypoint{{38.5, -120.2, "a"}, {40.7, -120.95, "b"}, {43.252, -126.453, "c"}})
	require.NoError(t, err)
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", r.Polyline())
}
