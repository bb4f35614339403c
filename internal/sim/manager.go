package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolbus-tracker/internal/logging"
	mmetrics "schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/publisher"
	"schoolbus-tracker/internal/route"
)

var (
	ErrBusNotFound     = errors.New("bus not found")
	ErrWaypointNotNext = errors.New("waypoint is not ahead of the bus")
	ErrNotStarted      = errors.New("manager not started")
)

type PositionPublisher interface {
	PublishPosition(routeID, busID string, msg publisher.PositionMessage) error
}

type PositionRecorder interface {
	RecordPosition(ctx context.Context, msg publisher.PositionMessage) error
}

// Assignment puts one bus on one route.
type Assignment struct {
	BusID string
	Route *route.Route
}

type ManagerConfig struct {
	TickInterval    time.Duration
	StepMeters      float64
	SpeedMps        float64
	SpeedMultiplier float64
	// Dwell pauses the bus at every intermediate waypoint. Zero disables it.
	Dwell time.Duration
	// ReturnTrip sends the bus back along the reversed route on arrival.
	ReturnTrip bool
}

// Snapshot is a read-only view of one bus.
type Snapshot struct {
	BusID     string    `json:"busId"`
	RunID     string    `json:"runId"`
	RouteID   string    `json:"routeId"`
	RouteName string    `json:"routeName"`
	State     State     `json:"state"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	Bearing   float64   `json:"bearing"`
	ETAs      []ETA     `json:"etas"`
	Running   bool      `json:"running"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type bus struct {
	id       string
	assigned *route.Route
	runID    string
	sim      *Simulator
	running  bool
	updated  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

type Manager struct {
	pub     PositionPublisher
	rec     PositionRecorder
	cfg     ManagerConfig
	metrics *mmetrics.Collector
	logger  *slog.Logger

	mu    sync.Mutex
	base  context.Context
	buses map[string]*bus
	wg    sync.WaitGroup
}

func NewManager(pub PositionPublisher, rec PositionRecorder, cfg ManagerConfig, metrics *mmetrics.Collector, logger *slog.Logger) (*Manager, error) {
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("invalid tick interval %s", cfg.TickInterval)
	}
	if cfg.SpeedMultiplier <= 0 {
		cfg.SpeedMultiplier = 1
	}
	if cfg.Dwell < 0 {
		return nil, fmt.Errorf("invalid dwell %s", cfg.Dwell)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pub:     pub,
		rec:     rec,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		buses:   make(map[string]*bus),
	}, nil
}

// Start launches one simulation goroutine per assignment. Buses stop when
// ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context, assignments []Assignment) error {
	m.mu.Lock()
	m.base = ctx
	m.mu.Unlock()
	for _, a := range assignments {
		if err := m.startBus(a.BusID, a.Route); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) newSimulator(r *route.Route) (*Simulator, error) {
	return NewSimulator(r, m.cfg.StepMeters*m.cfg.SpeedMultiplier, m.cfg.SpeedMps)
}

func (m *Manager) startBus(busID string, r *route.Route) error {
	if busID == "" {
		return fmt.Errorf("empty bus id")
	}
	s, err := m.newSimulator(r)
	if err != nil {
		return fmt.Errorf("bus %s: %w", busID, err)
	}

	m.mu.Lock()
	if m.base == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if b, exists := m.buses[busID]; exists && b.running {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(m.base)
	b := &bus{
		id:       busID,
		assigned: r,
		runID:    uuid.NewString(),
		sim:      s,
		running:  true,
		updated:  time.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	m.buses[busID] = b
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.RunsStarted.Inc()
		m.metrics.ActiveBuses.Set(float64(m.countRunningLocked()))
	}
	m.mu.Unlock()

	m.logger.Info("starting bus run",
		slog.String("bus", busID),
		slog.String("route", r.ID),
		slog.String("run", b.runID))
	go func() {
		defer m.wg.Done()
		defer close(b.done)
		start := time.Now()
		if err := m.runBus(ctx, b); err != nil && !errors.Is(err, context.Canceled) {
			logging.LogError(m.logger, "bus run error", err, slog.String("bus", busID))
		}
		m.mu.Lock()
		b.running = false
		if m.metrics != nil {
			m.metrics.RunsFinished.Inc()
			m.metrics.ActiveBuses.Set(float64(m.countRunningLocked()))
		}
		m.mu.Unlock()
		logging.LogOperation(m.logger, "bus run ended",
			slog.String("bus", busID),
			slog.Duration("duration", time.Since(start)))
	}()
	return nil
}

func (m *Manager) countRunningLocked() int {
	n := 0
	for _, b := range m.buses {
		if b.running {
			n++
		}
	}
	return n
}

func (m *Manager) runBus(ctx context.Context, b *bus) error {
	tick := time.NewTicker(m.cfg.TickInterval)
	defer tick.Stop()

	speed := m.cfg.StepMeters * m.cfg.SpeedMultiplier / m.cfg.TickInterval.Seconds()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			tickStart := time.Now()

			m.mu.Lock()
			step := b.sim.Advance()
			b.updated = now
			r := b.sim.Route()
			msg := m.positionMessageLocked(b, now, speed)
			m.mu.Unlock()

			m.emit(ctx, r.ID, b.id, msg)
			if m.metrics != nil {
				m.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
			}

			if step.Reached >= 0 {
				if m.metrics != nil {
					m.metrics.WaypointsReached.Inc()
				}
				m.logger.Debug("waypoint reached",
					slog.String("bus", b.id),
					slog.Int("waypoint", step.Reached),
					slog.String("name", r.Waypoints[step.Reached].Name))
			}

			if step.State.Complete {
				m.logger.Info("bus arrived",
					slog.String("bus", b.id),
					slog.String("route", r.ID),
					slog.String("destination", r.Destination().Name))
				if !m.cfg.ReturnTrip {
					return nil
				}
				if err := m.dwell(ctx, b); err != nil {
					return err
				}
				if err := m.turnAround(b); err != nil {
					return err
				}
				tick.Reset(m.cfg.TickInterval)
				continue
			}

			if step.Reached > 0 && m.cfg.Dwell > 0 {
				if err := m.dwell(ctx, b); err != nil {
					return err
				}
				// restart the cadence after the pause
				tick.Reset(m.cfg.TickInterval)
			}
		}
	}
}

// dwell holds the bus at its current waypoint for the configured duration.
func (m *Manager) dwell(ctx context.Context, b *bus) error {
	if m.cfg.Dwell <= 0 {
		return nil
	}
	m.mu.Lock()
	b.sim.SetStopped(true)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		b.sim.SetStopped(false)
		m.mu.Unlock()
	}()

	timer := time.NewTimer(m.cfg.Dwell)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// turnAround ends the current leg and starts the reversed one as a new run.
func (m *Manager) turnAround(b *bus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := b.assigned
	if b.sim.Route() == b.assigned {
		next = b.assigned.Reverse()
	}
	s, err := m.newSimulator(next)
	if err != nil {
		return err
	}
	b.sim = s
	b.runID = uuid.NewString()
	if m.metrics != nil {
		m.metrics.RunsFinished.Inc()
		m.metrics.RunsStarted.Inc()
	}
	m.logger.Info("turning around",
		slog.String("bus", b.id),
		slog.String("route", s.Route().ID),
		slog.String("run", b.runID))
	return nil
}

func (m *Manager) positionMessageLocked(b *bus, now time.Time, speed float64) publisher.PositionMessage {
	st := b.sim.State()
	status := b.sim.Status()
	if st.Complete || st.Stopped {
		speed = 0
	}
	msg := publisher.PositionMessage{
		BusID:        b.id,
		RunID:        b.runID,
		RouteID:      b.sim.Route().ID,
		Timestamp:    now,
		Lat:          st.Lat,
		Lon:          st.Lon,
		Bearing:      b.sim.Bearing(),
		Progress:     b.sim.Progress(),
		SpeedMps:     speed,
		SegmentIndex: st.SegmentIndex,
		Status:       string(status),
	}
	if !st.Complete {
		if eta, ok := b.sim.ETA(st.SegmentIndex + 1); ok {
			mins := eta.Minutes
			msg.NextStop = eta.Name
			msg.NextStopMin = &mins
		}
	}
	return msg
}

// emit publishes and records a position. Failures are logged, never fatal.
func (m *Manager) emit(ctx context.Context, routeID, busID string, msg publisher.PositionMessage) {
	if m.pub != nil {
		if err := m.pub.PublishPosition(routeID, busID, msg); err != nil {
			logging.LogError(m.logger, "publish position failed", err, slog.String("bus", busID))
		}
	}
	if m.rec != nil {
		err := m.rec.RecordPosition(ctx, msg)
		if m.metrics != nil {
			if err != nil {
				m.metrics.PositionWriteErrs.Inc()
			} else {
				m.metrics.PositionWrites.Inc()
			}
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.LogError(m.logger, "record position failed", err, slog.String("bus", busID))
		}
	}
}

// Restart stops the bus run, if any, and starts it again from the origin of
// its assigned route with a fresh run id.
func (m *Manager) Restart(busID string) error {
	m.mu.Lock()
	b, ok := m.buses[busID]
	m.mu.Unlock()
	if !ok {
		return ErrBusNotFound
	}
	b.cancel()
	<-b.done

	m.mu.Lock()
	if cur := m.buses[busID]; cur == b {
		delete(m.buses, busID)
	}
	m.mu.Unlock()
	return m.startBus(busID, b.assigned)
}

func (m *Manager) snapshotLocked(b *bus) Snapshot {
	r := b.sim.Route()
	return Snapshot{
		BusID:     b.id,
		RunID:     b.runID,
		RouteID:   r.ID,
		RouteName: r.Name,
		State:     b.sim.State(),
		Status:    b.sim.Status(),
		Progress:  b.sim.Progress(),
		Bearing:   b.sim.Bearing(),
		ETAs:      b.sim.ETAs(),
		Running:   b.running,
		UpdatedAt: b.updated,
	}
}

func (m *Manager) Snapshot(busID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buses[busID]
	if !ok {
		return Snapshot{}, ErrBusNotFound
	}
	return m.snapshotLocked(b), nil
}

// Snapshots returns every bus, ordered by bus id.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.buses))
	for _, b := range m.buses {
		out = append(out, m.snapshotLocked(b))
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BusID < out[j].BusID })
	return out
}

// ETA estimates the arrival of a bus at waypoint index j of its current route.
func (m *Manager) ETA(busID string, j int) (ETA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buses[busID]
	if !ok {
		return ETA{}, ErrBusNotFound
	}
	eta, ok := b.sim.ETA(j)
	if !ok {
		return ETA{}, ErrWaypointNotNext
	}
	return eta, nil
}

// Stop cancels every bus and waits for the goroutines to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, b := range m.buses {
		b.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
