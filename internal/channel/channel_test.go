package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"notifyd/internal/domain"
	"notifyd/pkg/logx"
)

func TestSimulatorDeterministic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	run := func() []bool {
		s := newSimulator(42, 0.9, time.Millisecond)
		out := make([]bool, 0, 20)
		for i := 0; i < 20; i++ {
			ok, id, err := s.run(ctx)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if id == "" {
				t.Fatal("expected a message id")
			}
			out = append(out, ok)
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at roll %d", i)
		}
	}
}

func TestSimulatorHonorsCancellation(t *testing.T) {
	t.Parallel()
	s := newSimulator(1, 1.0, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := s.run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestDescriptorApplicable(t *testing.T) {
	t.Parallel()
	withAll := domain.Recipient{ID: "u1", Email: "a@b.c", Phone: "01012345678"}
	bare := domain.Recipient{ID: "u2"}

	email := Descriptor{Key: domain.ChannelEmail, RequiresContact: "email"}
	phone := Descriptor{Key: domain.ChannelKakao, RequiresContact: "phone"}
	none := Descriptor{Key: domain.ChannelPush}

	if !email.Applicable(withAll) || email.Applicable(bare) {
		t.Fatal("email applicability must follow the email field")
	}
	if !phone.Applicable(withAll) || phone.Applicable(bare) {
		t.Fatal("phone applicability must follow the phone field")
	}
	if !none.Applicable(bare) {
		t.Fatal("channels without a contact requirement apply to everyone")
	}
}

func TestChatBotSimulatedWithoutCredentials(t *testing.T) {
	t.Parallel()
	c := NewChatBot(ChatBotConfig{SimSeed: 7, SimLatency: time.Millisecond}, logx.Nop())
	if !c.Simulated() {
		t.Fatal("empty credentials must mean simulation mode")
	}

	out := c.Send(context.Background(), domain.Recipient{ID: "u1"}, Message{Title: "hi"})
	if !out.Simulated {
		t.Fatal("outcome must be flagged simulated")
	}
	if out.Success && out.MessageID == "" {
		t.Fatal("successful outcome needs a message id")
	}
	if !out.Success && out.ErrorCode == "" {
		t.Fatal("failed outcome needs an error code")
	}

	if err := c.CheckStatus(context.Background()); err != nil {
		t.Fatalf("simulated CheckStatus: %v", err)
	}
}

func TestEmailRejectsRecipientWithoutAddress(t *testing.T) {
	t.Parallel()
	c := NewEmail(EmailConfig{SimSeed: 1, SimLatency: time.Millisecond}, logx.Nop())
	out := c.Send(context.Background(), domain.Recipient{ID: "u1"}, Message{Title: "t"})
	if out.Success {
		t.Fatal("send without an email address must fail")
	}
	if out.ErrorCode != CodeValidation {
		t.Fatalf("ErrorCode = %s, want %s", out.ErrorCode, CodeValidation)
	}
}

func TestKakaoRejectsRecipientWithoutPhone(t *testing.T) {
	t.Parallel()
	c := NewKakao(KakaoConfig{SimSeed: 1, SimLatency: time.Millisecond}, logx.Nop())
	out := c.Send(context.Background(), domain.Recipient{ID: "u1"}, Message{Title: "t"})
	if out.Success {
		t.Fatal("send without a phone number must fail")
	}
	if out.ErrorCode != CodeValidation {
		t.Fatalf("ErrorCode = %s, want %s", out.ErrorCode, CodeValidation)
	}
}

func TestKakaoNonProductionSimulates(t *testing.T) {
	t.Parallel()
	c := NewKakao(KakaoConfig{
		BaseURL:    "https://gw.example.com",
		Production: false,
		SimSeed:    3,
		SimLatency: time.Millisecond,
	}, logx.Nop())
	if c.Live() {
		t.Fatal("non-production must not be live")
	}
	out := c.Send(context.Background(), domain.Recipient{ID: "u1", Phone: "01012345678"}, Message{Title: "t"})
	if !out.Simulated {
		t.Fatal("non-production outcome must be simulated")
	}
}

func TestMaskPhone(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"01012345678", "010****5678"},
		{"0212345678", "021***5678"},
		{"123", "****"},
		{"", "****"},
	}
	for _, tt := range tests {
		if got := maskPhone(tt.in); got != tt.want {
			t.Fatalf("maskPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// stubPresenter answers permission queries without a websocket.
type stubPresenter struct {
	state      PermissionState
	displayErr error

	lastTitle string
	lastOpts  DisplayOptions
	calls     int
}

func (p *stubPresenter) PermissionState(string) PermissionState { return p.state }

func (p *stubPresenter) Display(_, title, _ string, opts DisplayOptions) (string, error) {
	p.calls++
	p.lastTitle = title
	p.lastOpts = opts
	if p.displayErr != nil {
		return "", p.displayErr
	}
	return "handle-1", nil
}

func TestPushRequiresGrantedPermission(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := domain.Recipient{ID: "u1"}

	for _, state := range []PermissionState{PermissionDenied, PermissionDefault} {
		p := &stubPresenter{state: state}
		out := NewPush(p).Send(ctx, rec, Message{Title: "t"})
		if out.Success {
			t.Fatalf("state %s must fail", state)
		}
		if out.ErrorCode != CodePermissionDenied {
			t.Fatalf("ErrorCode = %s, want %s", out.ErrorCode, CodePermissionDenied)
		}
		if p.calls != 0 {
			t.Fatal("no display attempt without permission")
		}
	}

	p := &stubPresenter{state: PermissionGranted}
	out := NewPush(p).Send(ctx, rec, Message{Title: "t"})
	if !out.Success || out.MessageID != "handle-1" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if p.lastOpts.RequireInteraction || p.lastOpts.DismissAfter != pushDismissAfter {
		t.Fatalf("normal message options: %+v", p.lastOpts)
	}
}

func TestPushUrgentRequiresInteraction(t *testing.T) {
	t.Parallel()
	p := &stubPresenter{state: PermissionGranted}
	out := NewPush(p).Send(context.Background(), domain.Recipient{ID: "u1"}, Message{Title: "t", Urgent: true})
	if !out.Success {
		t.Fatalf("unexpected failure: %+v", out)
	}
	if !p.lastOpts.RequireInteraction || p.lastOpts.DismissAfter != 0 {
		t.Fatalf("urgent message options: %+v", p.lastOpts)
	}
}

func TestSessionLivenessConcurrentAccess(t *testing.T) {
	t.Parallel()
	c := &Session{lastSeen: time.Now()}

	// The pong handler and the heartbeat goroutine hit the timestamp
	// from different goroutines.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			c.Touch()
		}
	}()
	for alive := true; alive; {
		select {
		case <-done:
			alive = false
		default:
			if c.idle() < 0 {
				t.Error("idle went negative")
				alive = false
			}
		}
	}
	<-done

	if c.idle() > time.Minute {
		t.Fatalf("idle = %v after Touch", c.idle())
	}
}
