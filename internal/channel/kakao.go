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

	"golang.org/x/time/rate"

	"notifyd/internal/domain"
	"notifyd/pkg/logx"
)

// KakaoConfig configures the paid messaging gateway. Production false
// substitutes a simulated call with a rendered preview in the log.
type KakaoConfig struct {
	BaseURL    string
	APIKey     string
	Production bool

	// TemplateIDs maps event types to gateway-registered templates.
	TemplateIDs map[domain.EventType]string

	// RatePerSec bounds outbound calls; the gateway bills per message.
	RatePerSec int

	SimSeed    int64
	SimLatency time.Duration
}

const (
	kakaoSimRate    = 0.90
	kakaoSimLatency = time.Second
)

// Kakao delivers phone-number based paid messages.
type Kakao struct {
	cfg     KakaoConfig
	log     logx.Logger
	http    *http.Client
	limiter *rate.Limiter

	sim *simulator
}

func NewKakao(cfg KakaoConfig, log logx.Logger) *Kakao {
	seed := cfg.SimSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	lat := cfg.SimLatency
	if lat <= 0 {
		lat = kakaoSimLatency
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &Kakao{
		cfg:     cfg,
		log:     log,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		sim:     newSimulator(seed, kakaoSimRate, lat),
	}
}

func (c *Kakao) Descriptor() Descriptor {
	return Descriptor{Key: domain.ChannelKakao, Name: "kakao gateway", RequiresContact: "phone"}
}

// Live reports whether real billed calls are made.
func (c *Kakao) Live() bool {
	return c.cfg.Production && strings.TrimSpace(c.cfg.BaseURL) != ""
}

func (c *Kakao) templateFor(ev domain.EventType) string {
	if id, ok := c.cfg.TemplateIDs[ev]; ok && id != "" {
		return id
	}
	return string(ev)
}

func (c *Kakao) Send(ctx context.Context, r domain.Recipient, msg Message) Outcome {
	if r.Phone == "" {
		return Failed(CodeValidation, "recipient has no phone number")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Failed(CodeTransport, err.Error())
	}

	if !c.Live() {
		// Preview what would have been billed, then simulate.
		c.log.Info("kakao preview (non-production)",
			logx.String("phone", maskPhone(r.Phone)),
			logx.String("template", c.templateFor(msg.Event)),
			logx.String("title", msg.Title),
			logx.String("body", msg.Body))

		ok, id, err := c.sim.run(ctx)
		if err != nil {
			return Failed(CodeTransport, err.Error())
		}
		if !ok {
			out := Failed(CodeTransport, "simulated gateway failure")
			out.Simulated = true
			return out
		}
		out := Sent(id)
		out.Simulated = true
		return out
	}

	payload := struct {
		TemplateID     string            `json:"templateId"`
		RecipientPhone string            `json:"recipientPhone"`
		Variables      map[string]string `json:"variables"`
	}{
		TemplateID:     c.templateFor(msg.Event),
		RecipientPhone: r.Phone,
		Variables:      msg.Variables,
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return Failed(CodeTransport, err.Error())
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/kakao/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Failed(CodeTransport, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Failed(CodeTransport, err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var out struct {
		Success      bool   `json:"success"`
		MessageID    string `json:"messageId"`
		ErrorMessage string `json:"errorMessage"`
	}
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode/100 != 2 || !out.Success {
		errMsg := out.ErrorMessage
		if errMsg == "" {
			errMsg = fmt.Sprintf("kakao gateway http=%d", resp.StatusCode)
		}
		return Failed(CodeTransport, errMsg)
	}
	return Sent(out.MessageID)
}

func (c *Kakao) CheckStatus(ctx context.Context) error {
	if !c.Live() {
		return nil
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/kakao/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("kakao status http=%d", resp.StatusCode)
	}
	return nil
}

// maskPhone hides the middle digits in logs.
func maskPhone(p string) string {
	if len(p) < 8 {
		return "****"
	}
	return p[:3] + strings.Repeat("*", len(p)-7) + p[len(p)-4:]
}
