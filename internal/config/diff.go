package config

import (
	"reflect"
	"sort"
	"strings"

	"notifyd/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (tokens, api keys) are never
// included; only whether they are set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs, logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Store, newCfg.Store) {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", strings.TrimSpace(newCfg.Store.Driver)),
			logx.Bool("store.path_set", strings.TrimSpace(newCfg.Store.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
			logx.Int("dispatch.queue_size", newCfg.Dispatch.QueueSize),
			logx.String("dispatch.send_timeout", strings.TrimSpace(newCfg.Dispatch.SendTimeout)),
		)
	}

	// Channels: report per channel, never the credentials themselves.
	o, n := oldCfg.Channels, newCfg.Channels
	if !reflect.DeepEqual(o.ChatBot, n.ChatBot) {
		changed = append(changed, "channels.chatbot")
		attrs = append(attrs,
			logx.Bool("chatbot.token_set", strings.TrimSpace(n.ChatBot.Token) != ""),
			logx.Bool("chatbot.chat_set", n.ChatBot.ChatID != 0),
		)
	}
	if !reflect.DeepEqual(o.Email, n.Email) {
		changed = append(changed, "channels.email")
		attrs = append(attrs,
			logx.Bool("email.service_set", strings.TrimSpace(n.Email.ServiceID) != ""),
			logx.Int("email.template_count", len(n.Email.Templates)),
		)
	}
	if !reflect.DeepEqual(o.Kakao, n.Kakao) {
		changed = append(changed, "channels.kakao")
		attrs = append(attrs,
			logx.Bool("kakao.production", n.Kakao.Production),
			logx.Bool("kakao.key_set", strings.TrimSpace(n.Kakao.APIKey) != ""),
			logx.Int("kakao.rate_per_sec", n.Kakao.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sweep, newCfg.Sweep) {
		changed = append(changed, "sweep")
		attrs = append(attrs,
			logx.Bool("sweep.enabled", newCfg.Sweep.Enabled),
			logx.String("sweep.cron", strings.TrimSpace(newCfg.Sweep.Cron)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
