// Package manager tracks the live sessions of the process and ties their
// lifetime to the application's.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gofrs/uuid"
	tally "github.com/uber-go/tally"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/polyls/polyls/src/polyls/controller/session"
	"github.com/polyls/polyls/src/polyls/entity"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Info describes one live session.
type Info struct {
	ID            uuid.UUID
	LanguageID    string
	WorkspaceRoot string
	State         entity.SessionState
}

// Manager creates, looks up, and stops sessions.
type Manager interface {
	CreateSession(ctx context.Context, workspaceRoot string, binding entity.Binding) (uuid.UUID, *session.Session, error)
	Get(id uuid.UUID) (*session.Session, error)
	List() []Info
	StopSession(ctx context.Context, id uuid.UUID) error
	StopAll(ctx context.Context) error
}

// Params define values used to build a Manager.
type Params struct {
	fx.In

	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	Factory   *session.Factory
	Lifecycle fx.Lifecycle `optional:"true"`
}

type tracked struct {
	session       *session.Session
	languageID    string
	workspaceRoot string
}

type manager struct {
	logger  *zap.SugaredLogger
	gauge   tally.Gauge
	factory *session.Factory

	mu       sync.RWMutex
	sessions map[uuid.UUID]tracked
}

// New creates a Manager. When wired into an Fx app, all sessions are
// stopped on application shutdown.
func New(p Params) Manager {
	m := &manager{
		logger:   p.Logger,
		gauge:    p.Stats.SubScope("manager").Gauge("active_sessions"),
		factory:  p.Factory,
		sessions: make(map[uuid.UUID]tracked),
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: m.StopAll,
		})
	}
	return m
}

// CreateSession builds and starts a session, returning its id. A session
// that fails to start is not registered.
func (m *manager) CreateSession(ctx context.Context, workspaceRoot string, binding entity.Binding) (uuid.UUID, *session.Session, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("generating session id: %w", err)
	}

	s, err := m.factory.New(workspaceRoot, binding)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if err := s.Start(ctx); err != nil {
		return uuid.Nil, nil, err
	}

	m.mu.Lock()
	m.sessions[id] = tracked{session: s, languageID: binding.LanguageID(), workspaceRoot: workspaceRoot}
	m.gauge.Update(float64(len(m.sessions)))
	m.mu.Unlock()

	m.logger.Infow("session created", "id", id, "language", binding.LanguageID(), "workspace", workspaceRoot)
	return id, s, nil
}

// Get returns a session by id.
func (m *manager) Get(id uuid.UUID) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no session with id %s", id)
	}
	return t.session, nil
}

// List returns all live sessions ordered by id.
func (m *manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.sessions))
	for id, t := range m.sessions {
		out = append(out, Info{
			ID:            id,
			LanguageID:    t.languageID,
			WorkspaceRoot: t.workspaceRoot,
			State:         t.session.State(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// StopSession stops a session and forgets it.
func (m *manager) StopSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	t, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.gauge.Update(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no session with id %s", id)
	}
	return t.session.Stop(ctx)
}

// StopAll stops every live session, collecting all errors.
func (m *manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]tracked)
	m.gauge.Update(0)
	m.mu.Unlock()

	var err error
	for id, t := range sessions {
		if e := t.session.Stop(ctx); e != nil {
			err = multierr.Append(err, fmt.Errorf("stopping session %s: %w", id, e))
		}
	}
	return err
}
