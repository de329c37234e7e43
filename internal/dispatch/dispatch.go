package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"notifyd/internal/channel"
	"notifyd/internal/domain"
	"notifyd/internal/policy"
	"notifyd/pkg/logx"
)

const entityTypeRequest = "request"

// RequestCreated notifies all active users about a new request.
func (s *Service) RequestCreated(ctx context.Context, req domain.Request) (*Summary, error) {
	vars := map[string]string{
		"requesterName": req.RequesterName,
		"partName":      req.PartName,
		"importance":    formatImportance(req.Importance),
		"requestDate":   req.CreatedAt.Format("2006-01-02"),
		"actionUrl":     s.actionURL(req.ID),
	}
	return s.dispatchEvent(ctx, domain.EventRequestCreated, "request_created", vars, req.ID, req.RequesterID, false)
}

// UrgentRequest notifies all active users, bypassing quiet hours and
// favoring the free always-on channels first.
func (s *Service) UrgentRequest(ctx context.Context, req domain.Request) (*Summary, error) {
	vars := map[string]string{
		"requesterName": req.RequesterName,
		"partName":      req.PartName,
		"actionUrl":     s.actionURL(req.ID),
	}
	return s.dispatchEvent(ctx, domain.EventUrgent, "urgent_request", vars, req.ID, req.RequesterID, true)
}

// StatusChanged notifies about a request status transition.
func (s *Service) StatusChanged(ctx context.Context, req domain.Request, oldStatus, newStatus string) (*Summary, error) {
	vars := map[string]string{
		"partName":  req.PartName,
		"oldStatus": oldStatus,
		"newStatus": newStatus,
		"actionUrl": s.actionURL(req.ID),
	}
	return s.dispatchEvent(ctx, domain.EventStatusChanged, "status_changed", vars, req.ID, req.RequesterID, false)
}

// OverdueWarning notifies about a request past its due date.
func (s *Service) OverdueWarning(ctx context.Context, req domain.Request, daysOverdue int) (*Summary, error) {
	vars := map[string]string{
		"partName":    req.PartName,
		"daysOverdue": strconv.Itoa(daysOverdue),
		"assignee":    req.AssigneeName,
		"actionUrl":   s.actionURL(req.ID),
	}
	return s.dispatchEvent(ctx, domain.EventOverdue, "overdue_warning", vars, req.ID, req.RequesterID, false)
}

// SystemMessage broadcasts an operator-authored notice.
func (s *Service) SystemMessage(ctx context.Context, subject, message string) (*Summary, error) {
	vars := map[string]string{"subject": subject, "message": message}
	return s.dispatchEvent(ctx, domain.EventSystem, "system_message", vars, "", "", false)
}

// Fire runs one dispatch detached from the caller. The triggering
// business operation must never fail or roll back because delivery
// did; the summary lands in the log instead.
func (s *Service) Fire(name string, fn func(ctx context.Context) (*Summary, error)) {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		s.log.Warn("fire-and-forget dispatch dropped (not started)", logx.String("dispatch", name))
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in dispatch", logx.String("dispatch", name), logx.Any("panic", r))
			}
		}()
		sum, err := fn(runCtx)
		if err != nil {
			s.log.Error("dispatch failed", logx.String("dispatch", name), logx.Err(err))
			return
		}
		s.LogSummary(name, sum)
	}()
}

// LogSummary records a finished dispatch's per-channel tallies; level
// escalates to warn when any channel failed. Detached callers (Fire,
// the sweeper) use this since nobody inspects their summaries.
func (s *Service) LogSummary(name string, sum *Summary) {
	fields := []logx.Field{
		logx.String("dispatch", name),
		logx.String("event", string(sum.Event)),
		logx.Int("recipients", sum.Recipients),
		logx.Int("skipped_by_policy", sum.SkippedByPolicy),
	}
	failed := 0
	for key, t := range sum.Channels {
		fields = append(fields, logx.String(string(key),
			fmt.Sprintf("sent=%d failed=%d skipped=%d", t.Sent, t.Failed, t.Skipped)))
		failed += t.Failed
	}
	if failed > 0 {
		s.log.Warn("dispatch finished with failures", fields...)
		return
	}
	s.log.Info("dispatch finished", fields...)
}

// dispatchEvent is the shared fan-out. Rendering or resolver failures
// abort the whole dispatch for this event; everything after that is
// per-(recipient, channel) and independent.
func (s *Service) dispatchEvent(ctx context.Context, ev domain.EventType, templateID string, vars map[string]string, entityID, triggeredBy string, urgent bool) (*Summary, error) {
	s.mu.Lock()
	clock := s.clock
	channels := s.channels
	s.mu.Unlock()

	rendered, err := s.catalog.Render(templateID, vars)
	if err != nil {
		s.log.Error("template render failed", logx.String("template", templateID), logx.Err(err))
		return nil, err
	}

	recipients, err := s.dir.AllActive(ctx)
	if err != nil {
		s.log.Error("recipient resolve failed", logx.String("event", string(ev)), logx.Err(err))
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	msg := channel.Message{
		TemplateID: templateID,
		Title:      rendered.Title,
		Body:       rendered.Body,
		Event:      ev,
		Urgent:     urgent,
		EntityType: entityTypeRequest,
		EntityID:   entityID,
		Variables:  rendered.Variables,
	}
	if entityID == "" {
		msg.EntityType = ""
	}

	sum := newSummary(ev, msg.EntityType, entityID)
	wg := &sync.WaitGroup{}

	for _, rec := range recipients {
		settings, err := s.settings.SettingsFor(ctx, rec.ID)
		if err != nil {
			// Fail open: a broken settings read must not silence the
			// recipient.
			s.log.Warn("settings lookup failed", logx.String("recipient", rec.ID), logx.Err(err))
			settings = nil
		}

		if urgent {
			sum.Recipients++
			// Free channels go out first and unconditionally.
			for _, ch := range channels {
				key := ch.Descriptor().Key
				if key == domain.ChannelPush || key == domain.ChannelChatBot {
					s.schedule(ctx, ch, rec, msg, sum, wg)
				}
			}
			for _, ch := range channels {
				key := ch.Descriptor().Key
				if key == domain.ChannelPush || key == domain.ChannelChatBot {
					continue
				}
				s.scheduleIfEnabled(ctx, ch, rec, settings, msg, sum, wg)
			}
			continue
		}

		if !policy.ShouldDeliver(rec, settings, ev, triggeredBy, clock) {
			sum.SkippedByPolicy++
			continue
		}
		sum.Recipients++

		for _, ch := range channels {
			s.scheduleIfEnabled(ctx, ch, rec, settings, msg, sum, wg)
		}
	}

	// Wait for the fan-out; if the caller's context ends first the
	// remaining work continues on the pool (fire-and-forget). The
	// abandoning caller gets a detached copy: workers still tally the
	// live summary until the pool drains.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Debug("dispatch wait abandoned", logx.String("event", string(ev)), logx.Err(ctx.Err()))
		return sum.snapshot(), nil
	}

	return sum, nil
}

// scheduleIfEnabled applies the per-channel checks: toggle (default on)
// and required contact field. Skipped channels create no attempt
// record.
func (s *Service) scheduleIfEnabled(ctx context.Context, ch channel.Channel, rec domain.Recipient, settings *domain.Settings, msg channel.Message, sum *Summary, wg *sync.WaitGroup) {
	d := ch.Descriptor()
	if !settings.ChannelEnabled(d.Key) {
		sum.markSkipped(d.Key)
		return
	}
	if !d.Applicable(rec) {
		sum.markSkipped(d.Key)
		return
	}
	s.schedule(ctx, ch, rec, msg, sum, wg)
}

func (s *Service) schedule(ctx context.Context, ch channel.Channel, rec domain.Recipient, msg channel.Message, sum *Summary, wg *sync.WaitGroup) {
	wg.Add(1)
	if !s.enqueue(ctx, task{ch: ch, rec: rec, msg: msg, sum: sum, wg: wg}) {
		wg.Done()
		sum.markSkipped(ch.Descriptor().Key)
	}
}

func (s *Service) actionURL(entityID string) string {
	s.mu.Lock()
	base := s.cfg.BaseURL
	s.mu.Unlock()
	if base == "" || entityID == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/requests/" + entityID
}

func formatImportance(v string) string {
	switch strings.ToLower(v) {
	case "high", "urgent":
		return "높음"
	case "normal", "medium":
		return "보통"
	case "low":
		return "낮음"
	default:
		return v
	}
}
