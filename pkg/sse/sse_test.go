package sse

import (
	"context"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/kuberdock/internal/notify"
)

func newTestBroker(t *testing.T) (*Broker, *notify.Publisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	logger := slog.New(slog.DiscardHandler)
	return NewBroker(rdb, time.Second), notify.NewPublisher(rdb, "", logger)
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	broker, pub := newTestBroker(t)

	ch := notify.UserChannel(42)
	pub.Publish(ctx, ch, "pull_pods_state", "ping")
	pub.Publish(ctx, ch, "pull_pods_state", "ping")
	pub.Publish(ctx, ch, "notify:error", map[string]string{"message": "boom"})

	got, err := broker.Replay(ctx, ch, 1)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].ID != 2 || got[1].ID != 3 {
		t.Errorf("event ids = %d, %d, want 2, 3", got[0].ID, got[1].ID)
	}
	if got[1].Event != "notify:error" {
		t.Errorf("event = %q, want notify:error", got[1].Event)
	}

	// Caught-up client replays nothing.
	got, err = broker.Replay(ctx, ch, 3)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d events, want 0", len(got))
	}
}

func TestReplayEmptyChannel(t *testing.T) {
	broker, _ := newTestBroker(t)
	got, err := broker.Replay(context.Background(), "user_7", 0)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d events, want 0", len(got))
	}
}

func TestFrame(t *testing.T) {
	m := Message{ID: 12, Event: "pull_pods_state", Data: []byte(`"ping"`)}
	want := "event:pull_pods_state\ndata:\"ping\"\nid:12\n\n"
	if got := m.Frame(); got != want {
		t.Errorf("Frame() = %q, want %q", got, want)
	}
}

func TestDecode(t *testing.T) {
	m, err := Decode(`{"id":5,"event":"pull_nodes_state","data":"ping"}`)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.ID != 5 || m.Event != "pull_nodes_state" {
		t.Errorf("message = %+v", m)
	}
	if _, err := Decode("{broken"); err == nil {
		t.Error("Decode() accepted malformed payload")
	}
}

func TestChannels(t *testing.T) {
	if got := Channels(9, false); !reflect.DeepEqual(got, []string{"user_9"}) {
		t.Errorf("Channels(user) = %v", got)
	}
	if got := Channels(1, true); !reflect.DeepEqual(got, []string{"user_1", "common"}) {
		t.Errorf("Channels(admin) = %v", got)
	}
}
