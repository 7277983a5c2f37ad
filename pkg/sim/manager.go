package sim

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns the live runs and hands out ids. Terminal runs stay
// queryable until the process exits.
type Manager struct {
	log     zerolog.Logger
	metrics *Metrics
	hooks   Hooks

	mu   sync.RWMutex
	runs map[string]*Run
}

// NewManager creates an empty run manager.
func NewManager(log zerolog.Logger, metrics *Metrics, hooks Hooks) *Manager {
	return &Manager{
		log:     log,
		metrics: metrics,
		hooks:   hooks,
		runs:    make(map[string]*Run),
	}
}

// Start creates a run and begins advancing it in real time. The run is
// canceled when ctx ends.
func (m *Manager) Start(ctx context.Context, cfg Config) *Run {
	id := uuid.New().String()
	r := NewRun(id, cfg, m.log, m.metrics, m.hooks)

	m.mu.Lock()
	m.runs[id] = r
	m.mu.Unlock()

	m.log.Info().Str("simulation_id", id).Msg("simulation started")
	go r.Loop(ctx)
	return r
}

// Get looks up a run by id.
func (m *Manager) Get(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r, nil
}

// CancelAll moves every live run to Canceled. Called on shutdown.
func (m *Manager) CancelAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runs {
		r.Cancel()
	}
}
