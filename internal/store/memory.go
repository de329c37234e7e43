package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"notifyd/internal/domain"
)

// Memory is an in-process Store. It backs tests and simulation
// deployments where no database is configured.
type Memory struct {
	mu sync.RWMutex

	users    []memUser
	settings map[string]*domain.Settings
	attempts map[string]*domain.Attempt
	requests map[string]*domain.Request

	// order preserves attempt insertion order for listings.
	order []string
}

type memUser struct {
	rec    domain.Recipient
	active bool
}

func NewMemory() *Memory {
	return &Memory{
		settings: map[string]*domain.Settings{},
		attempts: map[string]*domain.Attempt{},
		requests: map[string]*domain.Request{},
	}
}

func (m *Memory) Close() error { return nil }

// ---- seeding (tests / simulation mode) ----

func (m *Memory) AddUser(rec domain.Recipient, active bool) {
	m.mu.Lock()
	m.users = append(m.users, memUser{rec: rec, active: active})
	m.mu.Unlock()
}

func (m *Memory) PutSettings(s *domain.Settings) {
	m.mu.Lock()
	m.settings[s.UserID] = s
	m.mu.Unlock()
}

func (m *Memory) PutRequest(r *domain.Request) {
	m.mu.Lock()
	m.requests[r.ID] = r
	m.mu.Unlock()
}

// ---- Directory ----

func (m *Memory) ActiveByRole(ctx context.Context, role domain.Role) ([]domain.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Recipient
	for _, u := range m.users {
		if u.active && u.rec.Role == role {
			out = append(out, u.rec)
		}
	}
	return out, nil
}

func (m *Memory) AllActive(ctx context.Context) ([]domain.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Recipient
	for _, u := range m.users {
		if u.active {
			out = append(out, u.rec)
		}
	}
	return out, nil
}

// ---- SettingsSource ----

func (m *Memory) SettingsFor(ctx context.Context, userID string) (*domain.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[userID]
	if !ok {
		return nil, nil
	}
	return s, nil
}

// ---- AttemptStore ----

func (m *Memory) CreateAttempt(ctx context.Context, a *domain.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.StatusPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	m.attempts[a.ID] = &cp
	m.order = append(m.order, a.ID)
	return nil
}

func (m *Memory) MarkSent(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != domain.StatusPending {
		return ErrNotPending
	}
	a.Status = domain.StatusSent
	a.SentAt = &at
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != domain.StatusPending {
		return ErrNotPending
	}
	a.Status = domain.StatusFailed
	a.ErrorMessage = errMsg
	return nil
}

func (m *Memory) AttemptsByEntity(ctx context.Context, entityType, entityID string) ([]domain.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Attempt
	for _, id := range m.order {
		a := m.attempts[id]
		if a.RelatedEntityType == entityType && a.RelatedEntityID == entityID {
			out = append(out, *a)
		}
	}
	return out, nil
}

// Attempts returns every stored attempt in insertion order.
func (m *Memory) Attempts() []domain.Attempt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Attempt, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.attempts[id])
	}
	return out
}

// ---- RequestSource ----

func (m *Memory) OverdueOpen(ctx context.Context, asOf time.Time) ([]domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Request
	for _, r := range m.requests {
		if r.Status != "done" && !r.DueAt.IsZero() && r.DueAt.Before(asOf) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}
