package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zulandar/visitline/internal/compliance"
	"github.com/zulandar/visitline/internal/config"
	"github.com/zulandar/visitline/internal/notify"
	"github.com/zulandar/visitline/internal/notify/discord"
	"github.com/zulandar/visitline/internal/notify/slack"
	"github.com/zulandar/visitline/internal/presence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// newTracker builds the configured presence backend. The returned close
// function releases the Redis client, if any.
func newTracker(ctx context.Context, cfg *config.Config, gormDB *gorm.DB) (presence.Tracker, func(), error) {
	if cfg.Presence.Backend != "redis" {
		return presence.NewDBTracker(gormDB), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Presence.Redis.Addr,
		Password: cfg.Presence.Redis.Password,
		DB:       cfg.Presence.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.Presence.Redis.Addr, err)
	}
	return presence.NewRedisTracker(client, presence.DefaultTTL), func() { client.Close() }, nil
}

// newTextSender returns the SMS gateway when one is configured, otherwise a
// sender that only logs.
func newTextSender(cfg *config.Config, logger *zap.Logger) (notify.TextSender, error) {
	if cfg.Notify.SMS.BaseURL == "" {
		return notify.LogSender{Logger: logger}, nil
	}
	return notify.NewSMSGateway(notify.SMSGatewayOpts{
		BaseURL: cfg.Notify.SMS.BaseURL,
		Token:   cfg.Notify.SMS.Token,
		Sender:  cfg.Notify.SMS.Sender,
		Retries: 2,
	})
}

// newBroadcaster fans supervisor alerts out to every configured channel.
func newBroadcaster(cfg *config.Config, logger *zap.Logger) (notify.Broadcaster, error) {
	var multi notify.Multi
	if cfg.Notify.Slack.ChannelID != "" {
		b, err := slack.New(slack.Opts{BotToken: cfg.Notify.Slack.BotToken, ChannelID: cfg.Notify.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		multi = append(multi, b)
	}
	if cfg.Notify.Discord.ChannelID != "" {
		b, err := discord.New(discord.Opts{BotToken: cfg.Notify.Discord.BotToken, ChannelID: cfg.Notify.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		multi = append(multi, b)
	}
	if len(multi) == 0 {
		return notify.LogSender{Logger: logger}, nil
	}
	return multi, nil
}

func newMonitor(cfg *config.Config, gormDB *gorm.DB, tracker presence.Tracker, logger *zap.Logger) (*compliance.Monitor, error) {
	texts, err := newTextSender(cfg, logger)
	if err != nil {
		return nil, err
	}
	broadcaster, err := newBroadcaster(cfg, logger)
	if err != nil {
		return nil, err
	}
	return compliance.NewMonitor(compliance.MonitorOpts{
		DB:               gormDB,
		Presence:         tracker,
		Agents:           texts,
		Supervisors:      broadcaster,
		SupervisorPhones: cfg.Notify.SupervisorPhones,
		OnlineWindow:     cfg.OnlineWindow(),
		RealertAfter:     cfg.RealertAfter(),
		Schedule:         cfg.Compliance.Schedule,
		Location:         cfg.Location(),
		Logger:           logger,
	})
}
