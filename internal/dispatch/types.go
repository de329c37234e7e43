package dispatch

import (
	"sync"
	"time"

	"notifyd/internal/channel"
	"notifyd/internal/domain"
)

// Config controls the fan-out worker pool.
//
// All durations are set as Go duration strings in the config file.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - send_timeout: 15s
type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration

	// BaseURL is the web origin action URLs are built from.
	BaseURL string
}

// task is one (recipient, channel) pair scheduled on the pool.
type task struct {
	ch  channel.Channel
	rec domain.Recipient
	msg channel.Message

	sum *Summary
	wg  *sync.WaitGroup
}

// ChannelTally aggregates outcomes for one channel across a dispatch.
type ChannelTally struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Summary is the per-channel aggregate returned to the caller. There
// is deliberately no single pass/fail verdict: channels succeed and
// fail independently.
type Summary struct {
	Event      domain.EventType               `json:"event"`
	EntityType string                         `json:"entityType,omitempty"`
	EntityID   string                         `json:"entityId,omitempty"`
	Recipients int                            `json:"recipients"`
	SkippedByPolicy int                       `json:"skippedByPolicy"`
	Channels   map[domain.ChannelKey]*ChannelTally `json:"channels"`

	mu sync.Mutex
}

func newSummary(ev domain.EventType, entityType, entityID string) *Summary {
	return &Summary{
		Event:      ev,
		EntityType: entityType,
		EntityID:   entityID,
		Channels:   map[domain.ChannelKey]*ChannelTally{},
	}
}

func (s *Summary) tally(ch domain.ChannelKey) *ChannelTally {
	t, ok := s.Channels[ch]
	if !ok {
		t = &ChannelTally{}
		s.Channels[ch] = t
	}
	return t
}

func (s *Summary) markSent(ch domain.ChannelKey) {
	s.mu.Lock()
	s.tally(ch).Sent++
	s.mu.Unlock()
}

func (s *Summary) markFailed(ch domain.ChannelKey) {
	s.mu.Lock()
	s.tally(ch).Failed++
	s.mu.Unlock()
}

func (s *Summary) markSkipped(ch domain.ChannelKey) {
	s.mu.Lock()
	s.tally(ch).Skipped++
	s.mu.Unlock()
}

// snapshot returns a copy detached from the pool. Callers that stop
// waiting get this instead of the live struct, which workers keep
// tallying until the fan-out drains.
func (s *Summary) snapshot() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &Summary{
		Event:           s.Event,
		EntityType:      s.EntityType,
		EntityID:        s.EntityID,
		Recipients:      s.Recipients,
		SkippedByPolicy: s.SkippedByPolicy,
		Channels:        make(map[domain.ChannelKey]*ChannelTally, len(s.Channels)),
	}
	for key, t := range s.Channels {
		c := *t
		out.Channels[key] = &c
	}
	return out
}
