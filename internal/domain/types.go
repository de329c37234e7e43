package domain

import "time"

// Role is the workflow role a user acts in.
type Role string

const (
	RoleOperations Role = "operations"
	RoleLogistics  Role = "logistics"
	RoleAdmin      Role = "admin"
)

// EventType is the business trigger category driving template and
// policy selection.
type EventType string

const (
	EventRequestCreated EventType = "request_created"
	EventUrgent         EventType = "urgent"
	EventStatusChanged  EventType = "status_changed"
	EventOverdue        EventType = "overdue"
	EventSystem         EventType = "system"
)

// ChannelKey identifies one delivery transport.
type ChannelKey string

const (
	ChannelPush    ChannelKey = "push"
	ChannelChatBot ChannelKey = "chatbot"
	ChannelEmail   ChannelKey = "email"
	ChannelKakao   ChannelKey = "kakao"
)

// Recipient is a resolved user record. Produced fresh per dispatch;
// never cached across calls.
type Recipient struct {
	ID    string
	Name  string
	Email string
	Phone string
	Role  Role
}

// Contact returns the contact field value for the given channel,
// or "" when the recipient has none.
func (r Recipient) Contact(ch ChannelKey) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelKakao:
		return r.Phone
	default:
		// push and chatbot address the recipient by ID.
		return r.ID
	}
}

// QuietHours is a possibly midnight-wrapping time-of-day window.
type QuietHours struct {
	Enabled bool
	Start   TimeOfDay
	End     TimeOfDay
}

// TimeOfDay is minutes since midnight (0..1439).
type TimeOfDay int

func TOD(hour, minute int) TimeOfDay { return TimeOfDay(hour*60 + minute) }

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// Contains reports whether now falls inside the window, boundaries
// inclusive. If Start >= End the window wraps midnight.
func (q QuietHours) Contains(now time.Time) bool {
	if !q.Enabled {
		return false
	}
	cur := TOD(now.Hour(), now.Minute())
	if q.Start < q.End {
		return cur >= q.Start && cur <= q.End
	}
	return cur >= q.Start || cur <= q.End
}

// RoleFilter holds the role-based delivery scoping flags.
type RoleFilter struct {
	Enabled              bool
	OperationsReceiveAll bool
	LogisticsReceiveAll  bool

	// Refinements for operations users when OperationsReceiveAll is off.
	OnlyMyRequests            bool
	AllRequestsInMyDepartment bool
}

// Settings is the per-user delivery policy. Owned and mutated by the
// settings-management collaborator; read-only here.
type Settings struct {
	UserID string

	Channels map[ChannelKey]bool
	Events   map[EventType]bool
	Quiet    QuietHours
	Roles    RoleFilter
}

// DefaultSettings returns the lazily-created defaults used when a user
// has never saved settings. All channels on; urgent on.
func DefaultSettings(userID string) *Settings {
	return &Settings{
		UserID: userID,
		Channels: map[ChannelKey]bool{
			ChannelPush:    true,
			ChannelChatBot: true,
			ChannelEmail:   true,
			ChannelKakao:   true,
		},
		Events: map[EventType]bool{
			EventRequestCreated: true,
			EventUrgent:         true,
			EventStatusChanged:  true,
			EventOverdue:        true,
			EventSystem:         false,
		},
	}
}

// ChannelEnabled reports the channel toggle: default true unless
// explicitly false.
func (s *Settings) ChannelEnabled(ch ChannelKey) bool {
	if s == nil || s.Channels == nil {
		return true
	}
	v, ok := s.Channels[ch]
	if !ok {
		return true
	}
	return v
}

// EventEnabled reports the per-type toggle. Missing entries count as
// enabled; only an explicit false denies.
func (s *Settings) EventEnabled(ev EventType) bool {
	if s == nil || s.Events == nil {
		return true
	}
	v, ok := s.Events[ev]
	if !ok {
		return true
	}
	return v
}

// Request is the business object whose lifecycle triggers events.
// Only the fields the delivery core reads are modeled here.
type Request struct {
	ID            string
	PartName      string
	RequesterID   string
	RequesterName string
	AssigneeName  string
	Importance    string
	Status        string
	CreatedAt     time.Time
	DueAt         time.Time
}

// AttemptStatus is the lifecycle state of one delivery attempt.
// pending transitions exactly once to sent or failed.
type AttemptStatus string

const (
	StatusPending AttemptStatus = "pending"
	StatusSent    AttemptStatus = "sent"
	StatusFailed  AttemptStatus = "failed"
)

// Attempt is the audit record of one channel's try at reaching one
// recipient for one event. Created pending before the adapter call and
// updated to a terminal status exactly once after it resolves.
type Attempt struct {
	ID          string
	TemplateID  string
	Channel     ChannelKey
	RecipientID string
	Email       string
	Phone       string
	Variables   map[string]string

	Status       AttemptStatus
	SentAt       *time.Time
	ErrorMessage string

	RelatedEntityType string
	RelatedEntityID   string

	CreatedAt time.Time
}
