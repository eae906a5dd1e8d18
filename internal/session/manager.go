// Package session keeps the live conversations of this process, keyed by a
// random id, and drops the ones left idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"thinkchat/internal/models"
	"thinkchat/internal/service/conversation"
)

const (
	DefaultIdleTimeout   = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

var ErrSessionNotFound = errors.New("session not found")

type Manager struct {
	factory conversation.Factory
	idle    time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*conversation.Controller
}

func NewManager(factory conversation.Factory, idle time.Duration) *Manager {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Manager{
		factory:  factory,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*conversation.Controller),
	}
}

// Create starts a new conversation. An empty modelID keeps the default model.
func (m *Manager) Create(modelID string) (string, *conversation.Controller, error) {
	ctrl := m.factory()
	if modelID != "" {
		if err := ctrl.SelectModel(modelID); err != nil {
			return "", nil, err
		}
	}
	id := uuid.NewString()

	m.mu.Lock()
	m.sessions[id] = ctrl
	total := len(m.sessions)
	m.mu.Unlock()

	slog.Info("session created", "session", id, "model", ctrl.SelectedModel(), "sessions", total)
	return id, ctrl, nil
}

func (m *Manager) Get(id string) (*conversation.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ctrl, nil
}

// List returns summaries ordered by creation time.
func (m *Manager) List() []models.Session {
	m.mu.Lock()
	out := make([]models.Session, 0, len(m.sessions))
	for id, ctrl := range m.sessions {
		out = append(out, ctrl.Summary(id))
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweeper evicts idle sessions every interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go m.sweepLoop(ctx, interval)
}

func (m *Manager) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.sweep(); n > 0 {
				slog.Info("idle sessions evicted", "count", n, "remaining", m.Len())
			}
		}
	}
}

// sweep removes sessions idle for at least the idle timeout. A session with a
// reply in flight is kept.
func (m *Manager) sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, ctrl := range m.sessions {
		if ctrl.State() == conversation.StateProcessing {
			continue
		}
		if now.Sub(ctrl.LastActive()) >= m.idle {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}
