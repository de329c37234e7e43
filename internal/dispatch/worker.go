package dispatch

import (
	"context"
	"time"

	"notifyd/internal/domain"
	"notifyd/pkg/logx"
)

func (s *Service) workerLoop(idx int) {
	// Copy stable references.
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for t := range q {
		// If the app is stopping, drain remaining tasks as skipped so
		// no dispatch waiter is left hanging.
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				t.sum.markSkipped(t.ch.Descriptor().Key)
				t.wg.Done()
				continue
			default:
			}
		}
		s.execTask(runCtx, t)
		t.wg.Done()
	}
}

// execTask runs one channel attempt end to end: record pending, invoke
// the adapter with a bounded timeout, record the terminal state. The
// adapter can only return an Outcome, so nothing here aborts sibling
// tasks.
func (s *Service) execTask(runCtx context.Context, t task) {
	s.mu.Lock()
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()

	d := t.ch.Descriptor()
	log := s.log.With(
		logx.String("channel", string(d.Key)),
		logx.String("recipient", t.rec.ID),
		logx.String("event", string(t.msg.Event)),
	)

	base := runCtx
	if base == nil {
		base = context.Background()
	}

	attempt := &domain.Attempt{
		TemplateID:        t.msg.TemplateID,
		Channel:           d.Key,
		RecipientID:       t.rec.ID,
		Email:             t.rec.Email,
		Phone:             t.rec.Phone,
		Variables:         t.msg.Variables,
		Status:            domain.StatusPending,
		RelatedEntityType: t.msg.EntityType,
		RelatedEntityID:   t.msg.EntityID,
	}
	// Record creation gets its own short deadline so a wedged store
	// cannot hold a worker.
	cctx, cancel := context.WithTimeout(base, 5*time.Second)
	err := s.attempts.CreateAttempt(cctx, attempt)
	cancel()
	if err != nil {
		// No record, no send: an unaudited billed call is worse than a
		// missed notification.
		log.Error("attempt record create failed", logx.Err(err))
		t.sum.markFailed(d.Key)
		return
	}

	sctx, cancel := context.WithTimeout(base, timeout)
	start := time.Now()
	out := t.ch.Send(sctx, t.rec, t.msg)
	cancel()

	uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if out.Success {
		if err := s.attempts.MarkSent(uctx, attempt.ID, time.Now()); err != nil {
			log.Error("attempt record update failed", logx.Err(err))
		}
		t.sum.markSent(d.Key)
		log.Debug("delivery sent",
			logx.String("msg_id", out.MessageID),
			logx.Bool("simulated", out.Simulated),
			logx.Duration("took", time.Since(start)))
		return
	}

	if err := s.attempts.MarkFailed(uctx, attempt.ID, out.ErrorMessage); err != nil {
		log.Error("attempt record update failed", logx.Err(err))
	}
	t.sum.markFailed(d.Key)
	log.Warn("delivery failed",
		logx.String("code", out.ErrorCode),
		logx.String("err_msg", out.ErrorMessage),
		logx.Duration("took", time.Since(start)))
}
