package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"notifyd/internal/domain"
	"notifyd/pkg/logx"
)

// ChatBotConfig configures the chat-bot gateway. With an empty token
// or chat target the adapter runs in simulation mode instead of
// failing.
type ChatBotConfig struct {
	Token     string
	ChatID    int64
	ParseMode string

	// SimSeed pins the simulation RNG; 0 means time-seeded.
	SimSeed int64
	// SimLatency is the artificial latency unit in simulation mode.
	SimLatency time.Duration
}

const (
	chatbotSimRate    = 0.90
	chatbotSimLatency = time.Second
)

// ChatBot sends to a group chat through the bot gateway. Live mode
// uses the bot API; missing configuration degrades to simulation.
type ChatBot struct {
	cfg  ChatBotConfig
	log  logx.Logger
	http *http.Client

	sim *simulator

	// bot is created lazily on first live send so a bad token surfaces
	// as a failed outcome, not a constructor error.
	botOnce sync.Once
	bot     *tele.Bot
	botErr  error
}

func NewChatBot(cfg ChatBotConfig, log logx.Logger) *ChatBot {
	seed := cfg.SimSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	lat := cfg.SimLatency
	if lat <= 0 {
		lat = chatbotSimLatency
	}
	return &ChatBot{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: 8 * time.Second},
		sim:  newSimulator(seed, chatbotSimRate, lat),
	}
}

func (c *ChatBot) Descriptor() Descriptor {
	return Descriptor{Key: domain.ChannelChatBot, Name: "chat-bot gateway", RequiresContact: ""}
}

// Simulated reports whether the adapter runs without live credentials.
func (c *ChatBot) Simulated() bool {
	return strings.TrimSpace(c.cfg.Token) == "" || c.cfg.ChatID == 0
}

func (c *ChatBot) Send(ctx context.Context, r domain.Recipient, msg Message) Outcome {
	text := msg.Title
	if msg.Body != "" {
		text = msg.Title + "\n" + msg.Body
	}

	if c.Simulated() {
		ok, id, err := c.sim.run(ctx)
		if err != nil {
			return Failed(CodeTransport, err.Error())
		}
		c.log.Debug("chatbot simulated send",
			logx.String("recipient", r.ID), logx.Bool("ok", ok), logx.String("msg_id", id))
		if !ok {
			out := Failed(CodeTransport, "simulated gateway failure")
			out.Simulated = true
			return out
		}
		out := Sent(id)
		out.Simulated = true
		return out
	}

	bot, err := c.liveBot()
	if err != nil {
		return Failed(CodeConfigMissing, err.Error())
	}

	opt := &tele.SendOptions{ParseMode: c.cfg.ParseMode}
	m, err := bot.Send(&tele.Chat{ID: c.cfg.ChatID}, text, opt)
	if err != nil {
		return Failed(CodeTransport, err.Error())
	}
	return Sent(strconv.Itoa(m.ID))
}

func (c *ChatBot) liveBot() (*tele.Bot, error) {
	c.botOnce.Do(func() {
		if strings.TrimSpace(c.cfg.Token) == "" {
			c.botErr = errors.New("chatbot token is empty")
			return
		}
		// Offline settings: getMe is done by CheckStatus, not here.
		c.bot, c.botErr = tele.NewBot(tele.Settings{Token: c.cfg.Token, Offline: false})
	})
	return c.bot, c.botErr
}

// CheckStatus calls the gateway's getMe endpoint. In simulation mode
// it reports healthy without a network call.
func (c *ChatBot) CheckStatus(ctx context.Context) error {
	if c.Simulated() {
		return nil
	}

	url := "https://api.telegram.org/bot" + strings.TrimSpace(c.cfg.Token) + "/getMe"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("chatbot getMe failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("chatbot getMe failed: http=%d", resp.StatusCode)
	}
	return nil
}
