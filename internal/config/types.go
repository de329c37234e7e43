package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server   ServerConfig   `json:"server,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
	Store    StoreConfig    `json:"store"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Channels ChannelsConfig `json:"channels"`
	Sweep    SweepConfig    `json:"sweep,omitempty"`
}

// ServerConfig controls the HTTP intake/audit server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8370"); the intake
//     endpoints carry no authentication of their own.
type ServerConfig struct {
	Addr string `json:"addr,omitempty"` // default: "127.0.0.1:8370"

	// Server timeouts (Go duration strings). IdleTimeout must outlive
	// the websocket ping interval or idle sessions get cut.
	ReadTimeout  string `json:"read_timeout,omitempty"`  // default: "10s"
	WriteTimeout string `json:"write_timeout,omitempty"` // default: "30s"
	IdleTimeout  string `json:"idle_timeout,omitempty"`  // default: "2m"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig controls the persistence layer.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./notifyd.db" }
//
// driver "memory" keeps everything in-process (tests, demos).
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatchConfig controls the delivery fan-out pool.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - send_timeout: "15s"
type DispatchConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// SendTimeout bounds one adapter call.
	SendTimeout string `json:"send_timeout,omitempty"`

	// BaseURL is the web origin action links in notification bodies are
	// built from (e.g. "https://parts.example.com").
	BaseURL string `json:"base_url,omitempty"`
}

type ChannelsConfig struct {
	ChatBot ChatBotConfig `json:"chatbot"`
	Email   EmailConfig   `json:"email"`
	Kakao   KakaoConfig   `json:"kakao"`
}

// ChatBotConfig holds the bot gateway credentials. An empty token or
// chat id leaves the channel in simulation mode.
type ChatBotConfig struct {
	Token     string `json:"token,omitempty"`
	ChatID    int64  `json:"chat_id,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// EmailConfig holds the hosted email gateway credentials. Missing
// service_id or public_key leaves the channel in simulation mode.
//
// Templates maps event types to gateway-side template ids; events
// without a mapping fall back to the "system" entry.
type EmailConfig struct {
	Endpoint  string            `json:"endpoint,omitempty"`
	ServiceID string            `json:"service_id,omitempty"`
	PublicKey string            `json:"public_key,omitempty"`
	Templates map[string]string `json:"templates,omitempty"`
}

// KakaoConfig holds the paid gateway settings. With production=false
// the adapter logs a masked preview and simulates instead of billing.
type KakaoConfig struct {
	BaseURL    string            `json:"base_url,omitempty"`
	APIKey     string            `json:"api_key,omitempty"`
	Production bool              `json:"production,omitempty"`
	Templates  map[string]string `json:"templates,omitempty"`
	RatePerSec int               `json:"rate_per_sec,omitempty"`
}

// SweepConfig controls the overdue-request sweeper.
type SweepConfig struct {
	Enabled bool `json:"enabled"`
	// Cron is a standard 5-field cron spec (default "0 9 * * *").
	Cron string `json:"cron,omitempty"`
	// Timezone for the cron spec (default: process local time).
	Timezone string `json:"timezone,omitempty"`
}

// ApplyEnv overlays credentials from the environment so secrets can
// stay out of the config file. File values lose to the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("NOTIFYD_BOT_TOKEN")); v != "" {
		c.Channels.ChatBot.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("NOTIFYD_BOT_CHAT_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Channels.ChatBot.ChatID = id
		}
	}
	if v := strings.TrimSpace(os.Getenv("NOTIFYD_EMAIL_SERVICE_ID")); v != "" {
		c.Channels.Email.ServiceID = v
	}
	if v := strings.TrimSpace(os.Getenv("NOTIFYD_EMAIL_PUBLIC_KEY")); v != "" {
		c.Channels.Email.PublicKey = v
	}
	if v := strings.TrimSpace(os.Getenv("NOTIFYD_KAKAO_BASE_URL")); v != "" {
		c.Channels.Kakao.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("NOTIFYD_KAKAO_API_KEY")); v != "" {
		c.Channels.Kakao.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("NOTIFYD_KAKAO_PRODUCTION")); v != "" {
		c.Channels.Kakao.Production = v == "1" || strings.EqualFold(v, "true")
	}
}
