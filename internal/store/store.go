// Package store defines the narrow read/write contracts the delivery
// core holds against the document store, plus the bundled memory and
// sqlite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"notifyd/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrNotPending is returned when an attempt is updated twice; an
	// attempt transitions out of pending exactly once.
	ErrNotPending = errors.New("attempt is not pending")
)

// Directory resolves active users. Users without a phone number are
// still returned; channel applicability is the orchestrator's job.
type Directory interface {
	ActiveByRole(ctx context.Context, role domain.Role) ([]domain.Recipient, error)
	AllActive(ctx context.Context) ([]domain.Recipient, error)
}

// SettingsSource reads per-user delivery settings. Absent settings
// yield (nil, nil); the policy engine fails open on nil.
type SettingsSource interface {
	SettingsFor(ctx context.Context, userID string) (*domain.Settings, error)
}

// AttemptStore persists delivery attempts. Create writes the record in
// pending state; MarkSent/MarkFailed move it to its terminal state.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, a *domain.Attempt) error
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	AttemptsByEntity(ctx context.Context, entityType, entityID string) ([]domain.Attempt, error)
}

// RequestSource exposes the request collection reads the overdue
// sweeper needs.
type RequestSource interface {
	OverdueOpen(ctx context.Context, asOf time.Time) ([]domain.Request, error)
}

// Store is the full surface a deployment-grade backend implements.
type Store interface {
	Directory
	SettingsSource
	AttemptStore
	RequestSource

	Close() error
}
