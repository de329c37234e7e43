package channel

import (
	"context"
	"fmt"
	"time"

	"notifyd/internal/domain"
)

// PermissionState mirrors the browser notification permission model.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionDefault PermissionState = "default"
)

// DisplayOptions controls how an in-app notification is shown.
type DisplayOptions struct {
	// RequireInteraction keeps the notification on screen until the
	// user dismisses it. Set for urgent events.
	RequireInteraction bool

	// DismissAfter auto-dismisses the notification when
	// RequireInteraction is off.
	DismissAfter time.Duration
}

// Presenter is the in-app display surface the push channel talks to.
// The websocket hub implements it; tests substitute a stub.
type Presenter interface {
	PermissionState(userID string) PermissionState
	Display(userID, title, body string, opts DisplayOptions) (handle string, err error)
}

const pushDismissAfter = 5 * time.Second

// Push delivers in-app notifications to connected sessions. It makes
// no external network call.
type Push struct {
	presenter Presenter
}

func NewPush(p Presenter) *Push {
	return &Push{presenter: p}
}

func (c *Push) Descriptor() Descriptor {
	return Descriptor{Key: domain.ChannelPush, Name: "in-app push", RequiresContact: ""}
}

func (c *Push) Send(ctx context.Context, r domain.Recipient, msg Message) Outcome {
	if c.presenter == nil {
		return Failed(CodeConfigMissing, "push presenter not configured")
	}
	if err := ctx.Err(); err != nil {
		return Failed(CodeTransport, err.Error())
	}

	switch c.presenter.PermissionState(r.ID) {
	case PermissionGranted:
	default:
		// Not granted: fail fast, no display attempt.
		return Failed(CodePermissionDenied, fmt.Sprintf("notification permission not granted for user %s", r.ID))
	}

	opts := DisplayOptions{DismissAfter: pushDismissAfter}
	if msg.Urgent {
		opts.RequireInteraction = true
		opts.DismissAfter = 0
	}

	handle, err := c.presenter.Display(r.ID, msg.Title, msg.Body, opts)
	if err != nil {
		return Failed(CodeTransport, err.Error())
	}
	return Sent(handle)
}

func (c *Push) CheckStatus(ctx context.Context) error {
	if c.presenter == nil {
		return fmt.Errorf("push: %s", CodeConfigMissing)
	}
	return nil
}
