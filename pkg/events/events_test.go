package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/wisbric/kuberdock/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testReconciler(t *testing.T) (*Reconciler, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := testLogger()
	pub := notify.NewPublisher(rdb, "", logger)
	return NewReconciler(nil, nil, nil, rdb, pub, nil, nil, nil, logger), rdb
}

func TestNotifyOnError_ReportsHandlerFailures(t *testing.T) {
	r, rdb := testReconciler(t)
	ctx := context.Background()

	boom := errors.New("timeline write failed")
	handle := r.notifyOnError("pods", func(context.Context, watch.Event) error {
		return boom
	})

	if err := handle(ctx, watch.Event{}); !errors.Is(err, boom) {
		t.Fatalf("wrapped handler error = %v, want %v", err, boom)
	}

	fields, err := rdb.HGetAll(ctx, notify.ReplayKey(notify.ChannelCommon)).Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 1 {
		t.Fatalf("got %d admin notifications, want 1", len(fields))
	}
	for _, raw := range fields {
		if !strings.Contains(raw, "pods watcher") || !strings.Contains(raw, "timeline write failed") {
			t.Errorf("admin notification = %s", raw)
		}
	}
}

func TestNotifyOnError_SilentOnSuccess(t *testing.T) {
	r, rdb := testReconciler(t)
	ctx := context.Background()

	handle := r.notifyOnError("pods", func(context.Context, watch.Event) error {
		return nil
	})
	if err := handle(ctx, watch.Event{}); err != nil {
		t.Fatalf("wrapped handler error = %v", err)
	}

	fields, err := rdb.HGetAll(ctx, notify.ReplayKey(notify.ChannelCommon)).Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 0 {
		t.Errorf("got %d admin notifications, want none", len(fields))
	}
}

func TestNewReconciler_DefaultsDispatchers(t *testing.T) {
	r, _ := testReconciler(t)
	if _, ok := r.nodeIPs.(*LoggingNodeIPs); !ok {
		t.Errorf("nodeIPs = %T, want the logging default", r.nodeIPs)
	}
	if _, ok := r.limits.(*LoggingContainerLimits); !ok {
		t.Errorf("limits = %T, want the logging default", r.limits)
	}
}
