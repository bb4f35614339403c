package admin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"schoolbus-tracker/internal/logging"
)

// Entity is anything a panel can list and edit.
type Entity interface {
	EntityID() string
	Validate() error
}

// Backend is the REST collection behind a panel; apiclient.Resource
// satisfies it.
type Backend[T Entity] interface {
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, v T) (T, error)
	Update(ctx context.Context, id string, v T) (T, error)
	Delete(ctx context.Context, id string) error
}

// Panel keeps the last fetched list of one entity kind plus the error
// banner shown above it.
type Panel[T Entity] struct {
	name    string
	backend Backend[T]
	logger  *slog.Logger

	mu     sync.RWMutex
	items  []T
	banner string
}

func NewPanel[T Entity](name string, backend Backend[T], logger *slog.Logger) *Panel[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Panel[T]{name: name, backend: backend, logger: logger.With(slog.String("panel", name))}
}

func (p *Panel[T]) Name() string { return p.name }

// Items returns a copy of the cached list.
func (p *Panel[T]) Items() []T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]T, len(p.items))
	copy(out, p.items)
	return out
}

// Banner is the last error message, empty after a successful action.
func (p *Panel[T]) Banner() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.banner
}

func (p *Panel[T]) fail(op string, err error) error {
	logging.LogError(p.logger, op+" failed", err)
	p.mu.Lock()
	p.banner = err.Error()
	p.mu.Unlock()
	return fmt.Errorf("%s %s: %w", p.name, op, err)
}

func (p *Panel[T]) clearBanner() {
	p.mu.Lock()
	p.banner = ""
	p.mu.Unlock()
}

// Load replaces the cache with the server list.
func (p *Panel[T]) Load(ctx context.Context) ([]T, error) {
	items, err := p.backend.List(ctx)
	if err != nil {
		return nil, p.fail("load", err)
	}
	p.mu.Lock()
	p.items = items
	p.banner = ""
	p.mu.Unlock()
	return p.Items(), nil
}

// Save creates the item when it has no id yet and updates it otherwise.
// The cache takes the server's copy.
func (p *Panel[T]) Save(ctx context.Context, v T) (T, error) {
	var zero T
	if err := v.Validate(); err != nil {
		return zero, p.fail("save", err)
	}

	var (
		saved T
		err   error
	)
	id := v.EntityID()
	if id == "" {
		saved, err = p.backend.Create(ctx, v)
	} else {
		saved, err = p.backend.Update(ctx, id, v)
	}
	if err != nil {
		return zero, p.fail("save", err)
	}

	p.mu.Lock()
	replaced := false
	if id != "" {
		for i := range p.items {
			if p.items[i].EntityID() == id {
				p.items[i] = saved
				replaced = true
				break
			}
		}
	}
	if !replaced {
		p.items = append(p.items, saved)
	}
	p.banner = ""
	p.mu.Unlock()
	return saved, nil
}

// Remove deletes the item on the server and drops it from the cache.
func (p *Panel[T]) Remove(ctx context.Context, id string) error {
	if err := p.backend.Delete(ctx, id); err != nil {
		return p.fail("remove", err)
	}
	p.mu.Lock()
	kept := p.items[:0]
	for _, it := range p.items {
		if it.EntityID() != id {
			kept = append(kept, it)
		}
	}
	p.items = kept
	p.banner = ""
	p.mu.Unlock()
	return nil
}
