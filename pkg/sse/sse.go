// Package sse streams change notifications to API clients over
// Server-Sent Events. Events originate in Redis pub/sub (fed by the
// reconciler through internal/notify); a reconnecting client replays missed
// events from the per-channel Redis hash using its Last-Event-Id.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/kuberdock/internal/notify"
)

// Message is one decoded notification ready for framing.
type Message struct {
	ID    int64           `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Frame renders the SSE wire form: event, data, id, blank line.
func (m *Message) Frame() string {
	var b strings.Builder
	fmt.Fprintf(&b, "event:%s\n", m.Event)
	fmt.Fprintf(&b, "data:%s\n", m.Data)
	fmt.Fprintf(&b, "id:%d\n\n", m.ID)
	return b.String()
}

// KeepaliveFrame is the comment line written while no events flow.
const KeepaliveFrame = ":keepalive\n\n"

// Broker subscribes clients to their channels and serves replays.
type Broker struct {
	rdb       *redis.Client
	keepalive time.Duration
}

// NewBroker creates a broker. keepalive is the idle comment interval.
func NewBroker(rdb *redis.Client, keepalive time.Duration) *Broker {
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	return &Broker{rdb: rdb, keepalive: keepalive}
}

// Channels returns the subscription set for one caller. Everyone hears their
// own channel; admins additionally hear the shared one.
func Channels(userID int64, isAdmin bool) []string {
	chans := []string{notify.UserChannel(userID)}
	if isAdmin {
		chans = append(chans, notify.ChannelCommon)
	}
	return chans
}

// Replay returns the events of one channel with id > lastID, oldest first.
func (b *Broker) Replay(ctx context.Context, channel string, lastID int64) ([]Message, error) {
	fields, err := b.rdb.HGetAll(ctx, notify.ReplayKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading replay hash: %w", err)
	}

	var out []Message
	for field, raw := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil || id <= lastID {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Subscribe opens the pub/sub stream for a set of channels. The caller must
// Close the returned PubSub.
func (b *Broker) Subscribe(ctx context.Context, channels []string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, channels...)
}

// Keepalive returns the idle comment interval.
func (b *Broker) Keepalive() time.Duration {
	return b.keepalive
}

// Decode parses one pub/sub payload into a Message.
func Decode(payload string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Message{}, fmt.Errorf("decoding event payload: %w", err)
	}
	return m, nil
}
