package sim

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbus-tracker/internal/logging"
	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/publisher"
	"schoolbus-tracker/internal/route"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []publisher.PositionMessage
	err  error
}

func (c *capturePublisher) PublishPosition(routeID, busID string, msg publisher.PositionMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.err
}

func (c *capturePublisher) messages() []publisher.PositionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publisher.PositionMessage(nil), c.msgs...)
}

type captureRecorder struct {
	mu    sync.Mutex
	count int
}

func (c *captureRecorder) RecordPosition(ctx context.Context, msg publisher.PositionMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func threeStopRoute(t *testing.T) *route.Route {
	t.Helper()
	r, err := route.New("r", "R", []route.Waypoint{
		{Lat: 35.6212102, Lon: 10.759478, Name: "A"},
		{Lat: 35.6301472, Lon: 10.7469969, Name: "B"},
		{Lat: 35.6305079, Lon: 10.7319542, Name: "C"},
	})
	require.NoError(t, err)
	return r
}

func newTestManager(t *testing.T, pub PositionPublisher, rec PositionRecorder, cfg ManagerConfig) *Manager {
	t.Helper()
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 2 * time.Millisecond
	}
	if cfg.StepMeters == 0 {
		cfg.StepMeters = 600
	}
	if cfg.SpeedMps == 0 {
		cfg.SpeedMps = 8.33
	}
	logger := logging.NewStructuredLogger(&bytes.Buffer{}, slog.LevelDebug)
	m, err := NewManager(pub, rec, cfg, metrics.NewCollector(1, cfg.TickInterval, cfg.StepMeters, cfg.Dwell), logger)
	require.NoError(t, err)
	return m
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil, nil, ManagerConfig{}, nil, nil)
	assert.Error(t, err)
	_, err = NewManager(nil, nil, ManagerConfig{TickInterval: time.Second, Dwell: -time.Second}, nil, nil)
	assert.Error(t, err)
}

func TestManagerRunsToArrival(t *testing.T) {
	pub := &capturePublisher{}
	rec := &captureRecorder{}
	m := newTestManager(t, pub, rec, ManagerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := threeStopRoute(t)
	require.NoError(t, m.Start(ctx, []Assignment{{BusID: "bus-1", Route: r}}))
	defer m.Stop()

	require.Eventually(t, func() bool {
		s, err := m.Snapshot("bus-1")
		return err == nil && !s.Running
	}, 2*time.Second, time.Millisecond)

	snap, err := m.Snapshot("bus-1")
	require.NoError(t, err)
	assert.Equal(t, StatusArrived, snap.Status)
	assert.Equal(t, 1.0, snap.Progress)
	assert.Equal(t, r.Destination().Lat, snap.State.Lat)
	require.Len(t, snap.ETAs, 1)
	assert.Equal(t, 0.0, snap.ETAs[0].Meters)

	msgs := pub.messages()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "arrived", last.Status)
	assert.Equal(t, 0.0, last.SpeedMps)
	assert.Nil(t, last.NextStopMin)
	assert.Equal(t, snap.RunID, last.RunID)

	first := msgs[0]
	assert.Equal(t, "en_route", first.Status)
	assert.Equal(t, "B", first.NextStop)
	require.NotNil(t, first.NextStopMin)
	assert.InDelta(t, 600/0.002, first.SpeedMps, 1e-6)

	rec.mu.Lock()
	assert.Equal(t, len(msgs), rec.count)
	rec.mu.Unlock()
}

func TestManagerPublishErrorsAreNotFatal(t *testing.T) {
	pub := &capturePublisher{err: errors.New("nats down")}
	m := newTestManager(t, pub, nil, ManagerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx, []Assignment{{BusID: "bus-1", Route: threeStopRoute(t)}}))
	defer m.Stop()

	require.Eventually(t, func() bool {
		s, _ := m.Snapshot("bus-1")
		return s.Status == StatusArrived
	}, 2*time.Second, time.Millisecond)
}

func TestManagerDwell(t *testing.T) {
	m := newTestManager(t, &capturePublisher{}, nil, ManagerConfig{Dwell: 300 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx, []Assignment{{BusID: "bus-1", Route: threeStopRoute(t)}}))
	defer m.Stop()

	require.Eventually(t, func() bool {
		s, _ := m.Snapshot("bus-1")
		return s.Status == StatusDwelling
	}, 2*time.Second, time.Millisecond)

	s, err := m.Snapshot("bus-1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.State.SegmentIndex)
	assert.True(t, s.State.Stopped)
	assert.Equal(t, 0.0, s.State.SegmentProgress)
}

func TestManagerRestart(t *testing.T) {
	m := newTestManager(t, &capturePublisher{}, nil, ManagerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.ErrorIs(t, m.Restart("nope"), ErrBusNotFound)

	r := threeStopRoute(t)
	require.NoError(t, m.Start(ctx, []Assignment{{BusID: "bus-1", Route: r}}))
	defer m.Stop()

	require.Eventually(t, func() bool {
		s, _ := m.Snapshot("bus-1")
		return !s.Running
	}, 2*time.Second, time.Millisecond)
	before, err := m.Snapshot("bus-1")
	require.NoError(t, err)

	require.NoError(t, m.Restart("bus-1"))
	after, err := m.Snapshot("bus-1")
	require.NoError(t, err)
	assert.NotEqual(t, before.RunID, after.RunID)
	assert.Equal(t, "r", after.RouteID)
}

func TestManagerReturnTrip(t *testing.T) {
	m := newTestManager(t, &capturePublisher{}, nil, ManagerConfig{ReturnTrip: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx, []Assignment{{BusID: "bus-1", Route: threeStopRoute(t)}}))
	defer m.Stop()

	require.Eventually(t, func() bool {
		s, _ := m.Snapshot("bus-1")
		return s.RouteID == "r-return"
	}, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		s, _ := m.Snapshot("bus-1")
		return s.RouteID == "r"
	}, 2*time.Second, time.Millisecond, "the return leg leads back to the assigned route")
}

func TestManagerReturnTripBalancesRunCounters(t *testing.T) {
	m := newTestManager(t, nil, nil, ManagerConfig{ReturnTrip: true, TickInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx, []Assignment{{BusID: "bus-1", Route: threeStopRoute(t)}}))

	require.Eventually(t, func() bool {
		s, _ := m.Snapshot("bus-1")
		return s.RouteID == "r-return"
	}, 2*time.Second, time.Millisecond)

	m.mu.Lock()
	started, finished := counterValue(t, m, "tracker_runs_started_total"), counterValue(t, m, "tracker_runs_finished_total")
	m.mu.Unlock()
	assert.Equal(t, started-1, finished, "only the current leg is still running")

	m.Stop()
	assert.Equal(t, counterValue(t, m, "tracker_runs_started_total"), counterValue(t, m, "tracker_runs_finished_total"))
}

func counterValue(t *testing.T, m *Manager, name string) float64 {
	t.Helper()
	families, err := m.metrics.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestManagerETAAndSnapshots(t *testing.T) {
	m := newTestManager(t, nil, nil, ManagerConfig{TickInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := threeStopRoute(t)
	require.NoError(t, m.Start(ctx, []Assignment{
		{BusID: "bus-2", Route: r},
		{BusID: "bus-1", Route: r},
	}))
	defer m.Stop()

	snaps := m.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "bus-1", snaps[0].BusID)
	assert.Equal(t, StatusAtOrigin, snaps[0].Status)

	eta, err := m.ETA("bus-1", 2)
	require.NoError(t, err)
	assert.InDelta(t, r.Length(), eta.Meters, 1e-6)

	_, err = m.ETA("bus-1", 0)
	assert.ErrorIs(t, err, ErrWaypointNotNext)
	_, err = m.ETA("ghost", 1)
	assert.ErrorIs(t, err, ErrBusNotFound)
}

func TestStartRejectsBadAssignments(t *testing.T) {
	m := newTestManager(t, nil, nil, ManagerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer m.Stop()

	assert.Error(t, m.Start(ctx, []Assignment{{BusID: "", Route: threeStopRoute(t)}}))
	assert.Error(t, m.Start(ctx, []Assignment{{BusID: "bus-1", Route: nil}}))
}
