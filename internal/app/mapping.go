package app

import (
	"time"

	"notifyd/internal/channel"
	"notifyd/internal/config"
	"notifyd/internal/dispatch"
	"notifyd/internal/domain"
	"notifyd/internal/httpapi"
	"notifyd/internal/store"
	"notifyd/pkg/logx"
)

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busy,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	sendTimeout, err := config.ParseDurationField("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		SendTimeout: sendTimeout,
		BaseURL:     cfg.Dispatch.BaseURL,
	}, nil
}

func mapServerConfig(cfg *config.Config) (httpapi.Config, error) {
	rt, err := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("server.idle_timeout", cfg.Server.IdleTimeout, 2*time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  rt,
		WriteTimeout: wt,
		IdleTimeout:  it,
	}, nil
}

// buildChannels constructs the fixed channel set in dispatch order:
// push, chat-bot, email, kakao.
func buildChannels(cfg *config.Config, hub *channel.Hub, log logx.Logger) []channel.Channel {
	return []channel.Channel{
		channel.NewPush(hub),
		channel.NewChatBot(channel.ChatBotConfig{
			Token:     cfg.Channels.ChatBot.Token,
			ChatID:    cfg.Channels.ChatBot.ChatID,
			ParseMode: cfg.Channels.ChatBot.ParseMode,
		}, log.With(logx.String("comp", "chatbot"))),
		channel.NewEmail(channel.EmailConfig{
			Endpoint:    cfg.Channels.Email.Endpoint,
			ServiceID:   cfg.Channels.Email.ServiceID,
			PublicKey:   cfg.Channels.Email.PublicKey,
			TemplateIDs: eventTemplates(cfg.Channels.Email.Templates),
		}, log.With(logx.String("comp", "email"))),
		channel.NewKakao(channel.KakaoConfig{
			BaseURL:     cfg.Channels.Kakao.BaseURL,
			APIKey:      cfg.Channels.Kakao.APIKey,
			Production:  cfg.Channels.Kakao.Production,
			TemplateIDs: eventTemplates(cfg.Channels.Kakao.Templates),
			RatePerSec:  cfg.Channels.Kakao.RatePerSec,
		}, log.With(logx.String("comp", "kakao"))),
	}
}

func eventTemplates(m map[string]string) map[domain.EventType]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[domain.EventType]string, len(m))
	for k, v := range m {
		out[domain.EventType(k)] = v
	}
	return out
}
