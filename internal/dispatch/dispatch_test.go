package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"notifyd/internal/channel"
	"notifyd/internal/domain"
	"notifyd/internal/store"
	"notifyd/internal/template"
	"notifyd/pkg/logx"
)

// stubChannel returns a fixed outcome and records who it was asked to
// reach.
type stubChannel struct {
	key      domain.ChannelKey
	requires string
	outcome  channel.Outcome

	mu    sync.Mutex
	sends []string // recipient ids
}

func (s *stubChannel) Descriptor() channel.Descriptor {
	return channel.Descriptor{Key: s.key, Name: string(s.key), RequiresContact: s.requires}
}

func (s *stubChannel) Send(_ context.Context, r domain.Recipient, _ channel.Message) channel.Outcome {
	s.mu.Lock()
	s.sends = append(s.sends, r.ID)
	s.mu.Unlock()
	return s.outcome
}

func (s *stubChannel) CheckStatus(context.Context) error { return nil }

func (s *stubChannel) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func allOK() (push, chat, email, kakao *stubChannel, all []channel.Channel) {
	push = &stubChannel{key: domain.ChannelPush, outcome: channel.Sent("p1")}
	chat = &stubChannel{key: domain.ChannelChatBot, outcome: channel.Sent("c1")}
	email = &stubChannel{key: domain.ChannelEmail, requires: "email", outcome: channel.Sent("e1")}
	kakao = &stubChannel{key: domain.ChannelKakao, requires: "phone", outcome: channel.Sent("k1")}
	return push, chat, email, kakao, []channel.Channel{push, chat, email, kakao}
}

func newService(t *testing.T, st store.Store, channels []channel.Channel) *Service {
	t.Helper()
	s := New(Config{Workers: 2, QueueSize: 32, SendTimeout: time.Second, BaseURL: "https://parts.example.com"},
		template.Default(), st, channels, logx.Nop())
	s.SetClock(func() time.Time {
		return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	})
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func fullRecipient() domain.Recipient {
	return domain.Recipient{
		ID:    "u1",
		Name:  "Kim",
		Email: "kim@example.com",
		Phone: "01012345678",
		Role:  domain.RoleOperations,
	}
}

func sampleRequest() domain.Request {
	return domain.Request{
		ID:            "r1",
		PartName:      "bearing",
		RequesterID:   "u9",
		RequesterName: "Lee",
		Importance:    "high",
		CreatedAt:     time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestRequestCreatedFansOutToAllChannels(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	mem.AddUser(fullRecipient(), true)
	_, _, _, _, channels := allOK()
	s := newService(t, mem, channels)

	sum, err := s.RequestCreated(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("RequestCreated: %v", err)
	}
	if sum.Recipients != 1 {
		t.Fatalf("Recipients = %d, want 1", sum.Recipients)
	}

	attempts := mem.Attempts()
	if len(attempts) != 4 {
		t.Fatalf("expected 4 attempts, got %d", len(attempts))
	}
	for _, a := range attempts {
		if a.Status != domain.StatusSent {
			t.Fatalf("attempt %s/%s not terminal-sent: %s", a.Channel, a.RecipientID, a.Status)
		}
		if a.RelatedEntityType != "request" || a.RelatedEntityID != "r1" {
			t.Fatalf("attempt correlation: %s/%s", a.RelatedEntityType, a.RelatedEntityID)
		}
	}
	for _, tally := range sum.Channels {
		if tally.Sent != 1 || tally.Failed != 0 {
			t.Fatalf("unexpected tally: %+v", tally)
		}
	}
}

func TestChannelsFailIndependently(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	mem.AddUser(fullRecipient(), true)
	push, chat, email, kakao, channels := allOK()
	chat.outcome = channel.Failed(channel.CodeTransport, "gateway down")
	s := newService(t, mem, channels)

	sum, err := s.RequestCreated(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("RequestCreated: %v", err)
	}

	if got := sum.Channels[domain.ChannelChatBot]; got == nil || got.Failed != 1 {
		t.Fatalf("chatbot tally: %+v", got)
	}
	for _, key := range []domain.ChannelKey{domain.ChannelPush, domain.ChannelEmail, domain.ChannelKakao} {
		if got := sum.Channels[key]; got == nil || got.Sent != 1 {
			t.Fatalf("%s tally: %+v", key, got)
		}
	}

	// Every channel was still tried.
	for _, ch := range []*stubChannel{push, chat, email, kakao} {
		if ch.sendCount() != 1 {
			t.Fatalf("%s send count = %d", ch.key, ch.sendCount())
		}
	}

	var failed, sent int
	for _, a := range mem.Attempts() {
		switch a.Status {
		case domain.StatusFailed:
			failed++
			if a.ErrorMessage == "" {
				t.Fatal("failed attempt must carry the error message")
			}
		case domain.StatusSent:
			sent++
		default:
			t.Fatalf("non-terminal attempt: %+v", a)
		}
	}
	if failed != 1 || sent != 3 {
		t.Fatalf("failed=%d sent=%d", failed, sent)
	}
}

func TestMissingPhoneSkipsKakaoWithoutRecord(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	rec := fullRecipient()
	rec.Phone = ""
	mem.AddUser(rec, true)
	_, _, _, kakao, channels := allOK()
	s := newService(t, mem, channels)

	sum, err := s.RequestCreated(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("RequestCreated: %v", err)
	}

	if kakao.sendCount() != 0 {
		t.Fatal("kakao must not be called without a phone number")
	}
	if got := sum.Channels[domain.ChannelKakao]; got == nil || got.Skipped != 1 {
		t.Fatalf("kakao tally: %+v", got)
	}

	attempts := mem.Attempts()
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}
	for _, a := range attempts {
		if a.Channel == domain.ChannelKakao {
			t.Fatal("skipped channel must leave no attempt record")
		}
	}
}

func TestQuietHoursSuppressNonUrgent(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	rec := fullRecipient()
	mem.AddUser(rec, true)
	mem.PutSettings(&domain.Settings{
		UserID: rec.ID,
		Quiet:  domain.QuietHours{Enabled: true, Start: domain.TOD(22, 0), End: domain.TOD(8, 0)},
	})
	_, _, _, _, channels := allOK()
	s := newService(t, mem, channels)
	s.SetClock(func() time.Time {
		return time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	})

	sum, err := s.RequestCreated(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("RequestCreated: %v", err)
	}
	if sum.SkippedByPolicy != 1 || sum.Recipients != 0 {
		t.Fatalf("summary: skipped=%d recipients=%d", sum.SkippedByPolicy, sum.Recipients)
	}
	if n := len(mem.Attempts()); n != 0 {
		t.Fatalf("expected no attempts, got %d", n)
	}
}

func TestUrgentBypassesQuietHours(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	rec := fullRecipient()
	mem.AddUser(rec, true)
	mem.PutSettings(&domain.Settings{
		UserID: rec.ID,
		Quiet:  domain.QuietHours{Enabled: true, Start: domain.TOD(22, 0), End: domain.TOD(8, 0)},
	})
	push, chat, _, _, channels := allOK()
	s := newService(t, mem, channels)
	s.SetClock(func() time.Time {
		return time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	})

	sum, err := s.UrgentRequest(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("UrgentRequest: %v", err)
	}
	if sum.Recipients != 1 || sum.SkippedByPolicy != 0 {
		t.Fatalf("summary: recipients=%d skipped=%d", sum.Recipients, sum.SkippedByPolicy)
	}
	if push.sendCount() != 1 || chat.sendCount() != 1 {
		t.Fatal("urgent must reach the always-on channels")
	}
	if n := len(mem.Attempts()); n != 4 {
		t.Fatalf("expected 4 attempts, got %d", n)
	}
}

func TestChannelToggleSkipsWithoutRecord(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	rec := fullRecipient()
	mem.AddUser(rec, true)
	mem.PutSettings(&domain.Settings{
		UserID:   rec.ID,
		Channels: map[domain.ChannelKey]bool{domain.ChannelEmail: false},
	})
	_, _, email, _, channels := allOK()
	s := newService(t, mem, channels)

	sum, err := s.RequestCreated(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("RequestCreated: %v", err)
	}
	if email.sendCount() != 0 {
		t.Fatal("disabled channel must not be called")
	}
	if got := sum.Channels[domain.ChannelEmail]; got == nil || got.Skipped != 1 {
		t.Fatalf("email tally: %+v", got)
	}
	if n := len(mem.Attempts()); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestSystemMessageReachesEveryone(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	mem.AddUser(fullRecipient(), true)
	other := fullRecipient()
	other.ID = "u2"
	mem.AddUser(other, true)
	_, _, _, _, channels := allOK()
	s := newService(t, mem, channels)

	sum, err := s.SystemMessage(context.Background(), "maintenance", "tonight 22:00")
	if err != nil {
		t.Fatalf("SystemMessage: %v", err)
	}
	if sum.Recipients != 2 {
		t.Fatalf("Recipients = %d, want 2", sum.Recipients)
	}
	if n := len(mem.Attempts()); n != 8 {
		t.Fatalf("expected 8 attempts, got %d", n)
	}
}

func TestRenderFailureAbortsDispatch(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	mem.AddUser(fullRecipient(), true)
	_, _, _, _, channels := allOK()
	s := newService(t, mem, channels)

	// StatusChanged with empty statuses still renders; force a render
	// error through a template the catalog doesn't have.
	_, err := s.dispatchEvent(context.Background(), domain.EventSystem, "missing_template", nil, "", "", false)
	if err == nil {
		t.Fatal("expected render error")
	}
	if n := len(mem.Attempts()); n != 0 {
		t.Fatalf("aborted dispatch must create no attempts, got %d", n)
	}
}

func TestStoppedDispatcherDropsEnqueue(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	mem.AddUser(fullRecipient(), true)
	_, _, _, _, channels := allOK()
	s := New(Config{Workers: 1, QueueSize: 4, SendTimeout: time.Second},
		template.Default(), mem, channels, logx.Nop())

	// Never started: every channel is counted skipped, nothing recorded.
	sum, err := s.RequestCreated(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("RequestCreated: %v", err)
	}
	total := 0
	for _, tally := range sum.Channels {
		total += tally.Skipped
		if tally.Sent != 0 || tally.Failed != 0 {
			t.Fatalf("unexpected tally: %+v", tally)
		}
	}
	if total != 4 {
		t.Fatalf("expected 4 skips, got %d", total)
	}
	if n := len(mem.Attempts()); n != 0 {
		t.Fatalf("expected no attempts, got %d", n)
	}
}

// gatedChannel blocks every Send until release closes.
type gatedChannel struct {
	stubChannel
	release chan struct{}
}

func (g *gatedChannel) Send(ctx context.Context, r domain.Recipient, m channel.Message) channel.Outcome {
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return g.stubChannel.Send(ctx, r, m)
}

func TestAbandonedWaitReturnsDetachedSummary(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	for i := 1; i <= 4; i++ {
		rec := fullRecipient()
		rec.ID = fmt.Sprintf("u%d", i)
		mem.AddUser(rec, true)
	}

	release := make(chan struct{})
	var channels []channel.Channel
	for _, key := range []domain.ChannelKey{domain.ChannelPush, domain.ChannelChatBot, domain.ChannelEmail, domain.ChannelKakao} {
		channels = append(channels, &gatedChannel{
			stubChannel: stubChannel{key: key, outcome: channel.Sent("ok")},
			release:     release,
		})
	}
	s := newService(t, mem, channels)

	// The caller gives up while the pool is still mid fan-out.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sum, err := s.RequestCreated(ctx, sampleRequest())
	if err != nil {
		t.Fatalf("RequestCreated: %v", err)
	}

	// Marshaling the returned summary while workers keep tallying must
	// be safe; the pool holds its own copy.
	before, err := json.Marshal(sum)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		terminal := 0
		for _, a := range mem.Attempts() {
			if a.Status != domain.StatusPending {
				terminal++
			}
		}
		if terminal == 16 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	after, err := json.Marshal(sum)
	if err != nil {
		t.Fatalf("marshal after drain: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("abandoned summary changed under the caller:\nbefore %s\nafter  %s", before, after)
	}
	if sum.Recipients != 4 {
		t.Fatalf("Recipients = %d, want 4", sum.Recipients)
	}
}

func TestLogSummaryHandlesEmptyAndFailedTallies(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	_, _, _, _, channels := allOK()
	s := newService(t, mem, channels)

	s.LogSummary("sweep", newSummary(domain.EventOverdue, "request", "r1"))

	sum := newSummary(domain.EventOverdue, "request", "r1")
	sum.markSent(domain.ChannelPush)
	sum.markFailed(domain.ChannelKakao)
	s.LogSummary("sweep", sum)
}
