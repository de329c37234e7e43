// Package channel implements the four delivery transports behind one
// capability surface. The channel set is fixed and known at compile
// time; adapters never raise past Send — every failure mode is folded
// into the returned Outcome.
package channel

import (
	"context"

	"notifyd/internal/domain"
)

// Error codes carried on failed outcomes.
const (
	CodePermissionDenied = "permission_denied"
	CodeConfigMissing    = "config_missing"
	CodeValidation       = "validation"
	CodeTransport        = "transport"
)

// Message is the rendered, channel-agnostic payload an adapter turns
// into its transport-specific shape.
type Message struct {
	TemplateID string

	Title string
	Body  string

	Event  domain.EventType
	Urgent bool

	// Correlation ties the attempt back to the triggering business
	// object.
	EntityType string
	EntityID   string

	Variables map[string]string
}

// Outcome is the result of one adapter call.
type Outcome struct {
	Success      bool
	MessageID    string
	ErrorCode    string
	ErrorMessage string

	// Simulated marks outcomes produced without a real network call.
	Simulated bool
}

func Sent(messageID string) Outcome {
	return Outcome{Success: true, MessageID: messageID}
}

func Failed(code, msg string) Outcome {
	return Outcome{ErrorCode: code, ErrorMessage: msg}
}

// Descriptor declares a channel's identity and its contact-field
// requirement, checked once by the orchestrator rather than per call
// site.
type Descriptor struct {
	Key  domain.ChannelKey
	Name string

	// RequiresContact names the recipient field the channel cannot
	// work without: "email", "phone", or "" for none.
	RequiresContact string
}

// Applicable reports whether the recipient carries the contact field
// this channel requires.
func (d Descriptor) Applicable(r domain.Recipient) bool {
	switch d.RequiresContact {
	case "email":
		return r.Email != ""
	case "phone":
		return r.Phone != ""
	default:
		return true
	}
}

// Channel is one delivery transport.
type Channel interface {
	Descriptor() Descriptor
	Send(ctx context.Context, r domain.Recipient, msg Message) Outcome
	CheckStatus(ctx context.Context) error
}
