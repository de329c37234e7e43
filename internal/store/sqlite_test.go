package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"notifyd/internal/domain"
	"notifyd/pkg/logx"
)

func openTestSQLite(t *testing.T) *sqliteStore {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st.(*sqliteStore)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSQLiteDirectory(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	ctx := context.Background()

	seed := `INSERT INTO users(id, name, email, phone, role, is_active) VALUES
		('u1', 'Kim', 'kim@example.com', '01011112222', 'operations', 1),
		('u2', 'Lee', NULL, NULL, 'logistics', 1),
		('u3', 'Park', 'park@example.com', NULL, 'operations', 0)`
	if _, err := s.db.ExecContext(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	all, err := s.AllActive(ctx)
	if err != nil {
		t.Fatalf("AllActive: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 active users, got %d", len(all))
	}

	ops, err := s.ActiveByRole(ctx, domain.RoleOperations)
	if err != nil {
		t.Fatalf("ActiveByRole: %v", err)
	}
	if len(ops) != 1 || ops[0].ID != "u1" || ops[0].Phone != "01011112222" {
		t.Fatalf("unexpected operations set: %+v", ops)
	}
}

func TestSQLiteSettingsDocMapping(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	ctx := context.Background()

	doc := `{
		"channels": {"email": false},
		"events": {"status_changed": false},
		"quietHours": {"enabled": true, "start": "22:00", "end": "08:30"},
		"roleBasedFiltering": {"enabled": true, "onlyMyRequests": true}
	}`
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_settings(user_id, doc) VALUES('u1', ?)`, doc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := s.SettingsFor(ctx, "u1")
	if err != nil {
		t.Fatalf("SettingsFor: %v", err)
	}
	if got == nil {
		t.Fatal("expected settings")
	}
	if got.ChannelEnabled(domain.ChannelEmail) {
		t.Fatal("email channel must be disabled")
	}
	if got.EventEnabled(domain.EventStatusChanged) {
		t.Fatal("status_changed must be disabled")
	}
	if !got.Quiet.Enabled || got.Quiet.Start != domain.TOD(22, 0) || got.Quiet.End != domain.TOD(8, 30) {
		t.Fatalf("quiet hours: %+v", got.Quiet)
	}
	if !got.Roles.Enabled || !got.Roles.OnlyMyRequests {
		t.Fatalf("role filter: %+v", got.Roles)
	}
}

func TestSQLiteSettingsAbsentAndCorrupt(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	ctx := context.Background()

	got, err := s.SettingsFor(ctx, "nobody")
	if err != nil || got != nil {
		t.Fatalf("absent settings: %v, %v", got, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_settings(user_id, doc) VALUES('u1', 'not-json')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err = s.SettingsFor(ctx, "u1")
	if err != nil || got != nil {
		t.Fatalf("corrupt settings must read as absent: %v, %v", got, err)
	}
}

func TestSQLiteAttemptLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	ctx := context.Background()

	a := &domain.Attempt{
		TemplateID:        "urgent_request",
		Channel:           domain.ChannelKakao,
		RecipientID:       "u1",
		Phone:             "01011112222",
		Variables:         map[string]string{"partName": "bearing"},
		RelatedEntityType: "request",
		RelatedEntityID:   "r1",
	}
	if err := s.CreateAttempt(ctx, a); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	if err := s.MarkFailed(ctx, a.ID, "gateway timeout"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := s.MarkSent(ctx, a.ID, time.Now()); !errors.Is(err, ErrNotPending) {
		t.Fatalf("second transition: got %v, want ErrNotPending", err)
	}
	if err := s.MarkSent(ctx, "missing", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: got %v, want ErrNotFound", err)
	}

	got, err := s.AttemptsByEntity(ctx, "request", "r1")
	if err != nil {
		t.Fatalf("AttemptsByEntity: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(got))
	}
	if got[0].Status != domain.StatusFailed || got[0].ErrorMessage != "gateway timeout" {
		t.Fatalf("unexpected record: %+v", got[0])
	}
	if got[0].Variables["partName"] != "bearing" {
		t.Fatalf("variables round trip: %+v", got[0].Variables)
	}
}

func TestSQLiteOverdueOpen(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := func(id, status string, due time.Time) {
		t.Helper()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO requests(id, part_name, status, created_at, due_at) VALUES(?, 'part', ?, ?, ?)`,
			id, status, now.Add(-96*time.Hour).Format(time.RFC3339Nano), due.Format(time.RFC3339Nano))
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	seed("r1", "open", now.Add(-48*time.Hour))
	seed("r2", "in_progress", now.Add(-24*time.Hour))
	seed("r3", "done", now.Add(-72*time.Hour))
	seed("r4", "open", now.Add(24*time.Hour))

	got, err := s.OverdueOpen(ctx, now)
	if err != nil {
		t.Fatalf("OverdueOpen: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r1" || got[1].ID != "r2" {
		t.Fatalf("unexpected overdue set: %+v", got)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	if v, ok := parseHHMM("07:05"); !ok || v != domain.TOD(7, 5) {
		t.Fatalf("parseHHMM(07:05) = %v, %v", v, ok)
	}
	for _, bad := range []string{"", "24:00", "12:60", "noon"} {
		if _, ok := parseHHMM(bad); ok {
			t.Fatalf("parseHHMM(%q) accepted", bad)
		}
	}
}
