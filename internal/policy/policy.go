// Package policy decides whether a recipient should receive a given
// event. It is a pure function over the recipient, their settings and
// the clock; per-channel enablement is evaluated separately by the
// orchestrator.
package policy

import (
	"time"

	"notifyd/internal/domain"
)

// Clock supplies "now" for quiet-hours checks. Injected so tests can
// pin the time of day.
type Clock func() time.Time

// ShouldDeliver evaluates the delivery policy in order, short-circuiting
// on the first denial:
//
//  1. absent settings allow (fail-open default)
//  2. quiet hours deny non-urgent events inside the window
//  3. an explicit per-type opt-out denies
//  4. role-based filtering scopes logistics and operations users
//  5. default allow
func ShouldDeliver(r domain.Recipient, s *domain.Settings, ev domain.EventType, triggeringUserID string, now Clock) bool {
	if s == nil {
		return true
	}
	if now == nil {
		now = time.Now
	}

	if ev != domain.EventUrgent && s.Quiet.Contains(now()) {
		return false
	}

	if !s.EventEnabled(ev) {
		return false
	}

	if s.Roles.Enabled {
		switch r.Role {
		case domain.RoleLogistics:
			return s.Roles.LogisticsReceiveAll
		case domain.RoleOperations:
			if !s.Roles.OperationsReceiveAll {
				if s.Roles.OnlyMyRequests && triggeringUserID != r.ID {
					return false
				}
				// Known gap carried over from the settings UI: the
				// department branch allows without comparing the
				// requester's department to the recipient's.
				if s.Roles.AllRequestsInMyDepartment {
					return true
				}
			}
		}
	}

	return true
}
