package policy

import (
	"testing"
	"time"

	"notifyd/internal/domain"
)

func clockAt(h, m int) Clock {
	return func() time.Time {
		return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
	}
}

func quietNight() domain.QuietHours {
	return domain.QuietHours{Enabled: true, Start: domain.TOD(22, 0), End: domain.TOD(8, 0)}
}

func TestShouldDeliverNilSettingsAllows(t *testing.T) {
	t.Parallel()
	r := domain.Recipient{ID: "u1", Role: domain.RoleOperations}
	if !ShouldDeliver(r, nil, domain.EventRequestCreated, "", clockAt(23, 0)) {
		t.Fatal("absent settings must fail open")
	}
}

func TestShouldDeliverQuietHours(t *testing.T) {
	t.Parallel()
	r := domain.Recipient{ID: "u1", Role: domain.RoleAdmin}
	s := &domain.Settings{UserID: "u1", Quiet: quietNight()}

	if ShouldDeliver(r, s, domain.EventRequestCreated, "", clockAt(23, 30)) {
		t.Fatal("non-urgent event inside quiet hours must be denied")
	}
	if !ShouldDeliver(r, s, domain.EventRequestCreated, "", clockAt(12, 0)) {
		t.Fatal("outside quiet hours must be allowed")
	}
	if !ShouldDeliver(r, s, domain.EventUrgent, "", clockAt(23, 30)) {
		t.Fatal("urgent events are exempt from quiet hours")
	}
}

func TestShouldDeliverEventOptOut(t *testing.T) {
	t.Parallel()
	r := domain.Recipient{ID: "u1", Role: domain.RoleAdmin}
	s := &domain.Settings{
		UserID: "u1",
		Events: map[domain.EventType]bool{domain.EventStatusChanged: false},
	}
	if ShouldDeliver(r, s, domain.EventStatusChanged, "", clockAt(12, 0)) {
		t.Fatal("explicit opt-out must deny")
	}
	if !ShouldDeliver(r, s, domain.EventOverdue, "", clockAt(12, 0)) {
		t.Fatal("unlisted event types default enabled")
	}
}

func TestShouldDeliverRoleFiltering(t *testing.T) {
	t.Parallel()

	ops := domain.Recipient{ID: "ops1", Role: domain.RoleOperations}
	logi := domain.Recipient{ID: "log1", Role: domain.RoleLogistics}
	admin := domain.Recipient{ID: "adm1", Role: domain.RoleAdmin}

	tests := []struct {
		name      string
		rec       domain.Recipient
		roles     domain.RoleFilter
		triggered string
		want      bool
	}{
		{
			name:  "filtering disabled allows everyone",
			rec:   ops,
			roles: domain.RoleFilter{},
			want:  true,
		},
		{
			name:  "logistics receive-all on",
			rec:   logi,
			roles: domain.RoleFilter{Enabled: true, LogisticsReceiveAll: true},
			want:  true,
		},
		{
			name:  "logistics receive-all off",
			rec:   logi,
			roles: domain.RoleFilter{Enabled: true, LogisticsReceiveAll: false},
			want:  false,
		},
		{
			name:  "operations receive-all on",
			rec:   ops,
			roles: domain.RoleFilter{Enabled: true, OperationsReceiveAll: true},
			want:  true,
		},
		{
			name:      "operations only-my-requests, own trigger",
			rec:       ops,
			roles:     domain.RoleFilter{Enabled: true, OnlyMyRequests: true},
			triggered: "ops1",
			want:      true,
		},
		{
			name:      "operations only-my-requests, someone else's trigger",
			rec:       ops,
			roles:     domain.RoleFilter{Enabled: true, OnlyMyRequests: true},
			triggered: "other",
			want:      false,
		},
		{
			// The department branch allows without a department
			// comparison; the test pins the behavior as implemented.
			name:      "operations department branch allows",
			rec:       ops,
			roles:     domain.RoleFilter{Enabled: true, AllRequestsInMyDepartment: true},
			triggered: "other",
			want:      true,
		},
		{
			name:  "admin unaffected by role filtering",
			rec:   admin,
			roles: domain.RoleFilter{Enabled: true, LogisticsReceiveAll: false},
			want:  true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := &domain.Settings{UserID: tt.rec.ID, Roles: tt.roles}
			got := ShouldDeliver(tt.rec, s, domain.EventRequestCreated, tt.triggered, clockAt(12, 0))
			if got != tt.want {
				t.Fatalf("ShouldDeliver = %v, want %v", got, tt.want)
			}
		})
	}
}
