package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"notifyd/internal/domain"
	"notifyd/pkg/logx"
)

// EmailConfig configures the hosted email gateway. Missing ServiceID
// or PublicKey switches the adapter to simulation mode.
type EmailConfig struct {
	Endpoint  string
	ServiceID string
	PublicKey string

	// TemplateIDs maps event types to the gateway-side template.
	// Unmapped events fall back to the generic system template.
	TemplateIDs map[domain.EventType]string

	SimSeed    int64
	SimLatency time.Duration
}

const (
	emailSimRate    = 0.95
	emailSimLatency = 1200 * time.Millisecond

	defaultEmailEndpoint = "https://api.emailjs.com/api/v1.0/email/send"
)

// Email delivers through the hosted template-email service.
type Email struct {
	cfg  EmailConfig
	log  logx.Logger
	http *http.Client

	sim *simulator
}

func NewEmail(cfg EmailConfig, log logx.Logger) *Email {
	seed := cfg.SimSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	lat := cfg.SimLatency
	if lat <= 0 {
		lat = emailSimLatency
	}
	return &Email{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: 10 * time.Second},
		sim:  newSimulator(seed, emailSimRate, lat),
	}
}

func (c *Email) Descriptor() Descriptor {
	return Descriptor{Key: domain.ChannelEmail, Name: "email gateway", RequiresContact: "email"}
}

func (c *Email) Simulated() bool {
	return strings.TrimSpace(c.cfg.ServiceID) == "" || strings.TrimSpace(c.cfg.PublicKey) == ""
}

// templateFor picks the gateway template for the event type: creation,
// urgent, status-change, overdue and a generic system message each have
// a fixed format on the gateway side.
func (c *Email) templateFor(ev domain.EventType) string {
	if id, ok := c.cfg.TemplateIDs[ev]; ok && id != "" {
		return id
	}
	if id, ok := c.cfg.TemplateIDs[domain.EventSystem]; ok && id != "" {
		return id
	}
	return "template_system"
}

func (c *Email) Send(ctx context.Context, r domain.Recipient, msg Message) Outcome {
	if r.Email == "" {
		return Failed(CodeValidation, "recipient has no email address")
	}

	if c.Simulated() {
		ok, id, err := c.sim.run(ctx)
		if err != nil {
			return Failed(CodeTransport, err.Error())
		}
		c.log.Debug("email simulated send",
			logx.String("to", r.Email), logx.Bool("ok", ok), logx.String("msg_id", id))
		if !ok {
			out := Failed(CodeTransport, "simulated gateway failure")
			out.Simulated = true
			return out
		}
		out := Sent(id)
		out.Simulated = true
		return out
	}

	params := map[string]string{
		"to_email": r.Email,
		"to_name":  r.Name,
		"subject":  msg.Title,
		"body":     msg.Body,
	}
	for k, v := range msg.Variables {
		params[k] = v
	}

	payload := struct {
		ServiceID      string            `json:"service_id"`
		TemplateID     string            `json:"template_id"`
		UserID         string            `json:"user_id"`
		TemplateParams map[string]string `json:"template_params"`
	}{
		ServiceID:      c.cfg.ServiceID,
		TemplateID:     c.templateFor(msg.Event),
		UserID:         c.cfg.PublicKey,
		TemplateParams: params,
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return Failed(CodeTransport, err.Error())
	}

	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEmailEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return Failed(CodeTransport, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Failed(CodeTransport, err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return Failed(CodeTransport, fmt.Sprintf("email gateway http=%d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out struct {
		Status    string `json:"status"`
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(body, &out)
	if out.MessageID == "" {
		// Gateway replies with a bare "OK" body on success.
		return Sent(fmt.Sprintf("email-%d", time.Now().UnixNano()))
	}
	return Sent(out.MessageID)
}

func (c *Email) CheckStatus(ctx context.Context) error {
	if c.Simulated() {
		return nil
	}
	// The gateway has no dedicated health endpoint; configuration
	// presence is the health signal.
	return nil
}
