package terminal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"sync"
	"time"

	"counterpos/backend/internal/session"
)

var terminalIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Manager owns the engines of every terminal served by this process.
type Manager struct {
	deps   Deps
	maxAge time.Duration

	mu      sync.Mutex
	engines map[string]*Engine
	opening map[string]*pendingOpen
	closed  bool
}

// pendingOpen lets concurrent callers share one Open of a terminal.
type pendingOpen struct {
	done   chan struct{}
	engine *Engine
	err    error
}

func NewManager(deps Deps, sessionMaxAge time.Duration) *Manager {
	if sessionMaxAge <= 0 {
		sessionMaxAge = session.DefaultMaxAge
	}
	return &Manager{
		deps:    deps.withDefaults(),
		maxAge:  sessionMaxAge,
		engines: map[string]*Engine{},
		opening: map[string]*pendingOpen{},
	}
}

func ValidTerminalID(id string) bool {
	return terminalIDPattern.MatchString(id)
}

// Get returns the engine for a terminal, opening it on first use. Opening
// a terminal reaps the sessions other terminals left idle.
func (m *Manager) Get(ctx context.Context, terminalID string) (*Engine, error) {
	if !ValidTerminalID(terminalID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTerminal, terminalID)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := m.engines[terminalID]; ok {
		m.mu.Unlock()
		return e, nil
	}
	if op, ok := m.opening[terminalID]; ok {
		m.mu.Unlock()
		select {
		case <-op.done:
			return op.engine, op.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	op := &pendingOpen{done: make(chan struct{})}
	m.opening[terminalID] = op
	m.mu.Unlock()

	e, err := m.open(ctx, terminalID)

	m.mu.Lock()
	delete(m.opening, terminalID)
	if err == nil && m.closed {
		err = ErrClosed
	}
	if err == nil {
		m.engines[terminalID] = e
	}
	m.mu.Unlock()

	if err != nil && e != nil {
		if cerr := e.Close(ctx); cerr != nil {
			log.Printf("[terminal] WARN: close %s after manager shutdown: %v", terminalID, cerr)
		}
		e = nil
	}
	op.engine, op.err = e, err
	close(op.done)
	return e, err
}

func (m *Manager) open(ctx context.Context, terminalID string) (*Engine, error) {
	if n, err := m.deps.Sessions.ReapStale(ctx, terminalID, m.maxAge); err != nil {
		log.Printf("[terminal] WARN: reap stale sessions: %v", err)
	} else if n > 0 {
		log.Printf("[terminal] reaped %d stale sessions", n)
	}
	return Open(ctx, terminalID, m.deps)
}

// Terminals lists the terminals with a live engine, sorted by id.
func (m *Manager) Terminals() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.engines))
	for id := range m.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RefreshCatalog reloads the shared catalog. Carts keep their prices;
// only new lines and stock checks see the refreshed data.
func (m *Manager) RefreshCatalog(ctx context.Context) error {
	return m.deps.Catalog.Refresh(ctx)
}

// EnsureCatalog loads the catalog once if no terminal has done so yet.
func (m *Manager) EnsureCatalog(ctx context.Context) error {
	return m.deps.Catalog.ensureLoaded(ctx)
}

func (m *Manager) Catalog() *Catalog {
	return m.deps.Catalog
}

// Close releases every terminal. It keeps going past failures and reports
// them together.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.Unlock()

	var errs []error
	for _, e := range engines {
		if err := e.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
