package alerts

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolbus-tracker/internal/apiclient"
	"schoolbus-tracker/internal/logging"
	"schoolbus-tracker/internal/metrics"
)

const DefaultInterval = 30 * time.Second

var ErrAlertNotFound = errors.New("alert not found")

type Kind string

const (
	KindDriverAlert Kind = "driver_alert"
	KindMessage     Kind = "message"
)

// Alert is a driver alert or a message as shown in the dashboard feed.
type Alert struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Type      string `json:"type,omitempty"`
	Message   string `json:"message"`
	From      string `json:"from,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	Read      bool   `json:"read"`
}

// Lister is one polled collection.
type Lister[T any] interface {
	List(ctx context.Context) ([]T, error)
}

type Poller struct {
	driverAlerts Lister[apiclient.DriverAlert]
	messages     Lister[apiclient.Message]
	interval     time.Duration
	metrics      *metrics.Collector
	logger       *slog.Logger

	mu     sync.RWMutex
	byKey  map[alertKey]*Alert
	onNew  []func(Alert)
	seeded map[Kind]bool
}

// Driver alerts and messages live in separate collections and may share ids.
type alertKey struct {
	kind Kind
	id   string
}

func NewPoller(driverAlerts Lister[apiclient.DriverAlert], messages Lister[apiclient.Message], interval time.Duration, m *metrics.Collector, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		driverAlerts: driverAlerts,
		messages:     messages,
		interval:     interval,
		metrics:      m,
		logger:       logger.With(slog.String("component", "alerts")),
		byKey:        make(map[alertKey]*Alert),
		seeded:       make(map[Kind]bool),
	}
}

// OnNew registers fn for alerts seen for the first time. The first
// successful fetch of each collection only fills the list.
func (p *Poller) OnNew(fn func(Alert)) {
	p.mu.Lock()
	p.onNew = append(p.onNew, fn)
	p.mu.Unlock()
}

// Run polls now and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			logging.LogError(p.logger, "alert poll failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Poll fetches both collections once and merges them. Whatever could be
// fetched is merged even when the other collection fails.
func (p *Poller) Poll(ctx context.Context) ([]Alert, error) {
	var (
		fresh []Alert
		errs  []error
	)
	if das, err := p.driverAlerts.List(ctx); err != nil {
		errs = append(errs, err)
	} else {
		fetched := make([]Alert, 0, len(das))
		for _, a := range das {
			fetched = append(fetched, fromDriverAlert(a))
		}
		fresh = append(fresh, p.merge(KindDriverAlert, fetched)...)
	}
	if msgs, err := p.messages.List(ctx); err != nil {
		errs = append(errs, err)
	} else {
		fetched := make([]Alert, 0, len(msgs))
		for _, m := range msgs {
			fetched = append(fetched, fromMessage(m))
		}
		fresh = append(fresh, p.merge(KindMessage, fetched)...)
	}
	err := errors.Join(errs...)
	p.count(err)

	for _, a := range fresh {
		for _, fn := range p.callbacks() {
			fn(a)
		}
	}
	return fresh, err
}

func (p *Poller) count(err error) {
	if p.metrics == nil {
		return
	}
	if err != nil {
		p.metrics.AlertPolls.WithLabelValues("error").Inc()
	} else {
		p.metrics.AlertPolls.WithLabelValues("ok").Inc()
	}
}

func (p *Poller) callbacks() []func(Alert) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.onNew)
}

// merge stores a successful fetch of one collection and returns the alerts
// not seen before. Nothing is fresh on the first fetch of a collection.
func (p *Poller) merge(kind Kind, fetched []Alert) []Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	first := !p.seeded[kind]
	p.seeded[kind] = true

	var fresh []Alert
	for _, a := range fetched {
		k := alertKey{kind: a.Kind, id: a.ID}
		if old, ok := p.byKey[k]; ok {
			a.Read = old.Read
			*old = a
			continue
		}
		p.byKey[k] = &a
		if !first {
			fresh = append(fresh, a)
		}
	}
	return fresh
}

// List returns the feed newest first.
func (p *Poller) List() []Alert {
	p.mu.RLock()
	out := make([]Alert, 0, len(p.byKey))
	for _, a := range p.byKey {
		out = append(out, *a)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func (p *Poller) Unread() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, a := range p.byKey {
		if !a.Read {
			n++
		}
	}
	return n
}

// MarkRead marks every alert with this id as read, whatever its kind.
func (p *Poller) MarkRead(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	found := false
	for _, kind := range []Kind{KindDriverAlert, KindMessage} {
		if a, ok := p.byKey[alertKey{kind: kind, id: id}]; ok {
			a.Read = true
			found = true
		}
	}
	if !found {
		return ErrAlertNotFound
	}
	return nil
}

func fromDriverAlert(a apiclient.DriverAlert) Alert {
	out := Alert{
		ID:        a.ID,
		Kind:      KindDriverAlert,
		Type:      a.Type,
		Message:   a.Message,
		From:      a.Driver,
		CreatedAt: a.Timestamp,
	}
	if out.ID == "" {
		out.ID = contentID(out)
	}
	return out
}

func fromMessage(m apiclient.Message) Alert {
	out := Alert{
		ID:        m.ID,
		Kind:      KindMessage,
		Message:   m.Content,
		From:      m.Sender,
		CreatedAt: m.CreatedAt,
	}
	if out.ID == "" {
		out.ID = contentID(out)
	}
	return out
}

// contentID derives a stable id for records the API returned without one,
// so the same record keeps its id across polls.
func contentID(a Alert) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(a.Kind)+"\x00"+a.From+"\x00"+a.CreatedAt+"\x00"+a.Message)).String()
}
