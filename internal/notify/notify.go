// Package notify publishes change notifications to SSE subscribers through
// Redis pub/sub and mirrors each event into a replay hash so reconnecting
// clients can catch up from their Last-Event-Id. Unexpected internal errors
// are additionally pushed to the admin Slack webhook when one is configured.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
)

// Well-known channels. Per-user channels are built with UserChannel.
const (
	ChannelCommon = "common"
)

// replayDepth bounds how many events per channel survive for replay.
const replayDepth = 100

// UserChannel names the per-user notification channel.
func UserChannel(userID int64) string {
	return fmt.Sprintf("user_%d", userID)
}

// ReplayKey names the per-channel replay hash.
func ReplayKey(channel string) string {
	return "SSEEVT:" + channel
}

func counterKey(channel string) string {
	return "SSEEVT:" + channel + ":id"
}

// Event is one published notification.
type Event struct {
	ID    int64  `json:"id"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Publisher fans events out over Redis.
type Publisher struct {
	rdb        *redis.Client
	webhookURL string
	logger     *slog.Logger
}

// NewPublisher creates a publisher. webhookURL may be empty.
func NewPublisher(rdb *redis.Client, webhookURL string, logger *slog.Logger) *Publisher {
	return &Publisher{rdb: rdb, webhookURL: webhookURL, logger: logger}
}

// Publish assigns the event a per-channel id, stores it for replay, and
// broadcasts it. Redis failures are logged, never fatal: notifications are
// best-effort and the authoritative state lives in the database.
func (p *Publisher) Publish(ctx context.Context, channel, event string, data any) {
	id, err := p.rdb.Incr(ctx, counterKey(channel)).Result()
	if err != nil {
		p.logger.Warn("allocating event id", "channel", channel, "error", err)
		return
	}

	raw, err := json.Marshal(Event{ID: id, Event: event, Data: data})
	if err != nil {
		p.logger.Warn("encoding event", "channel", channel, "error", err)
		return
	}

	key := ReplayKey(channel)
	pipe := p.rdb.Pipeline()
	pipe.HSet(ctx, key, strconv.FormatInt(id, 10), raw)
	if id > replayDepth {
		pipe.HDel(ctx, key, strconv.FormatInt(id-replayDepth, 10))
	}
	pipe.Publish(ctx, channel, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn("publishing event", "channel", channel, "error", err)
	}
}

// Ping publishes the conventional state-refresh ping, e.g.
// pull_pods_state on a user channel.
func (p *Publisher) Ping(ctx context.Context, channel, event string) {
	p.Publish(ctx, channel, event, "ping")
}

// AdminError reports an unexpected internal error on the common channel and
// the Slack webhook.
func (p *Publisher) AdminError(ctx context.Context, message string) {
	p.Publish(ctx, ChannelCommon, "notify:error", map[string]string{"message": message})
	if p.webhookURL == "" {
		return
	}
	err := slack.PostWebhookContext(ctx, p.webhookURL, &slack.WebhookMessage{
		Text: "kuberdock: " + message,
	})
	if err != nil {
		p.logger.Warn("posting admin error to slack", "error", err)
	}
}
