package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"notifyd/internal/domain"
	"notifyd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config selects and tunes the backing store.
type Config struct {
	Driver      string // "sqlite" or "memory"
	Path        string
	BusyTimeout time.Duration
}

// Open returns the configured Store implementation.
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Directory ----

func (s *sqliteStore) ActiveByRole(ctx context.Context, role domain.Role) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, phone, role FROM users WHERE is_active = 1 AND role = ? ORDER BY name`,
		string(role),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecipients(rows)
}

func (s *sqliteStore) AllActive(ctx context.Context) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, phone, role FROM users WHERE is_active = 1 ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecipients(rows)
}

func scanRecipients(rows *sql.Rows) ([]domain.Recipient, error) {
	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		var email, phone sql.NullString
		var role string
		if err := rows.Scan(&r.ID, &r.Name, &email, &phone, &role); err != nil {
			return nil, err
		}
		r.Email = email.String
		r.Phone = phone.String
		r.Role = domain.Role(role)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- SettingsSource ----

// settingsDoc is the JSON shape the settings UI writes.
type settingsDoc struct {
	Channels map[string]bool `json:"channels,omitempty"`
	Events   map[string]bool `json:"events,omitempty"`
	Quiet    struct {
		Enabled bool   `json:"enabled"`
		Start   string `json:"start,omitempty"` // "HH:MM"
		End     string `json:"end,omitempty"`
	} `json:"quietHours"`
	Roles struct {
		Enabled                   bool `json:"enabled"`
		OperationsReceiveAll      bool `json:"operationsReceiveAll"`
		LogisticsReceiveAll       bool `json:"logisticsReceiveAll"`
		OnlyMyRequests            bool `json:"onlyMyRequests"`
		AllRequestsInMyDepartment bool `json:"allRequestsInMyDepartment"`
	} `json:"roleBasedFiltering"`
}

func (s *sqliteStore) SettingsFor(ctx context.Context, userID string) (*domain.Settings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM notification_settings WHERE user_id = ?`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc settingsDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		// A corrupt settings document must not block delivery; treat as
		// absent (fail-open) but make it visible.
		s.log.Warn("settings document unreadable", logx.String("user", userID), logx.Err(err))
		return nil, nil
	}

	out := &domain.Settings{UserID: userID}
	if doc.Channels != nil {
		out.Channels = make(map[domain.ChannelKey]bool, len(doc.Channels))
		for k, v := range doc.Channels {
			out.Channels[domain.ChannelKey(k)] = v
		}
	}
	if doc.Events != nil {
		out.Events = make(map[domain.EventType]bool, len(doc.Events))
		for k, v := range doc.Events {
			out.Events[domain.EventType(k)] = v
		}
	}
	out.Quiet.Enabled = doc.Quiet.Enabled
	if t, ok := parseHHMM(doc.Quiet.Start); ok {
		out.Quiet.Start = t
	}
	if t, ok := parseHHMM(doc.Quiet.End); ok {
		out.Quiet.End = t
	}
	out.Roles = domain.RoleFilter{
		Enabled:                   doc.Roles.Enabled,
		OperationsReceiveAll:      doc.Roles.OperationsReceiveAll,
		LogisticsReceiveAll:       doc.Roles.LogisticsReceiveAll,
		OnlyMyRequests:            doc.Roles.OnlyMyRequests,
		AllRequestsInMyDepartment: doc.Roles.AllRequestsInMyDepartment,
	}
	return out, nil
}

func parseHHMM(v string) (domain.TimeOfDay, bool) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return domain.TOD(h, m), true
}

// ---- AttemptStore ----

func (s *sqliteStore) CreateAttempt(ctx context.Context, a *domain.Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.StatusPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	vars, err := json.Marshal(a.Variables)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, template_id, channel, recipient_id, email, phone, variables, status, entity_type, entity_id, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.TemplateID, string(a.Channel), a.RecipientID, nullStr(a.Email), nullStr(a.Phone),
		string(vars), string(a.Status), nullStr(a.RelatedEntityType), nullStr(a.RelatedEntityID),
		a.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, sent_at = ? WHERE id = ? AND status = ?`,
		string(domain.StatusSent), at.Format(time.RFC3339Nano), id, string(domain.StatusPending),
	)
	if err != nil {
		return err
	}
	return requireUpdated(ctx, s.db, res, id)
}

func (s *sqliteStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, error_message = ? WHERE id = ? AND status = ?`,
		string(domain.StatusFailed), nullStr(errMsg), id, string(domain.StatusPending),
	)
	if err != nil {
		return err
	}
	return requireUpdated(ctx, s.db, res, id)
}

// requireUpdated distinguishes "no such attempt" from "already terminal"
// when a guarded UPDATE touched no rows.
func requireUpdated(ctx context.Context, db *sql.DB, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM notifications WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrNotPending
}

func (s *sqliteStore) AttemptsByEntity(ctx context.Context, entityType, entityID string) ([]domain.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, template_id, channel, recipient_id, email, phone, variables, status, sent_at, error_message, entity_type, entity_id, created_at
		 FROM notifications WHERE entity_type = ? AND entity_id = ? ORDER BY created_at`,
		entityType, entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var email, phone, vars, sentAt, errMsg, etype, eid sql.NullString
		var channel, status, createdAt string
		if err := rows.Scan(&a.ID, &a.TemplateID, &channel, &a.RecipientID, &email, &phone, &vars, &status, &sentAt, &errMsg, &etype, &eid, &createdAt); err != nil {
			return nil, err
		}
		a.Channel = domain.ChannelKey(channel)
		a.Status = domain.AttemptStatus(status)
		a.Email = email.String
		a.Phone = phone.String
		a.ErrorMessage = errMsg.String
		a.RelatedEntityType = etype.String
		a.RelatedEntityID = eid.String
		if vars.Valid && vars.String != "" {
			_ = json.Unmarshal([]byte(vars.String), &a.Variables)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			a.CreatedAt = t
		}
		if sentAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, sentAt.String); err == nil {
				a.SentAt = &t
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- RequestSource ----

func (s *sqliteStore) OverdueOpen(ctx context.Context, asOf time.Time) ([]domain.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, part_name, requester_id, requester_name, assignee_name, importance, status, created_at, due_at
		 FROM requests WHERE status != 'done' AND due_at IS NOT NULL AND due_at < ? ORDER BY due_at`,
		asOf.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Request
	for rows.Next() {
		var r domain.Request
		var reqID, reqName, assignee, importance sql.NullString
		var createdAt string
		var dueAt sql.NullString
		if err := rows.Scan(&r.ID, &r.PartName, &reqID, &reqName, &assignee, &importance, &r.Status, &createdAt, &dueAt); err != nil {
			return nil, err
		}
		r.RequesterID = reqID.String
		r.RequesterName = reqName.String
		r.AssigneeName = assignee.String
		r.Importance = importance.String
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			r.CreatedAt = t
		}
		if dueAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, dueAt.String); err == nil {
				r.DueAt = t
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
