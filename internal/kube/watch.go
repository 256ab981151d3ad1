package kube

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/wisbric/kuberdock/internal/telemetry"
)

// OpenStreamFunc opens a watch at the given list options. The reconciler
// passes closures over the typed clientset (pods, endpoints, nodes).
type OpenStreamFunc func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error)

// EventHandler consumes one decoded watch event. Errors are logged, never
// propagated: a broken handler must not kill the stream.
type EventHandler func(ctx context.Context, ev watch.Event) error

// RunWatch supervises a single watch stream until ctx is cancelled. On any
// transport failure it reopens the stream from the last observed
// resourceVersion with jittered exponential backoff (100-200 ms initial,
// capped at 5 s). A 410 Gone resets the resourceVersion so the server
// re-lists from the current state.
func RunWatch(ctx context.Context, logger *slog.Logger, stream string, open OpenStreamFunc, handle EventHandler) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.RandomizationFactor = 0.5
	bo.Multiplier = 2
	bo.MaxInterval = 5 * time.Second

	resourceVersion := ""

	for {
		if ctx.Err() != nil {
			return
		}

		w, err := open(ctx, metav1.ListOptions{
			Watch:           true,
			ResourceVersion: resourceVersion,
		})
		if err != nil {
			if apierrors.IsGone(err) {
				logger.Info("watch history expired, relisting", "stream", stream)
				resourceVersion = ""
			} else {
				logger.Warn("opening watch stream", "stream", stream, "error", err)
			}
			telemetry.WatchRestartsTotal.WithLabelValues(stream).Inc()
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		rv, relist, ok := consume(ctx, logger, stream, w, handle)
		switch {
		case relist:
			resourceVersion = ""
		case rv != "":
			resourceVersion = rv
		}
		w.Stop()
		if ctx.Err() != nil {
			return
		}
		if ok {
			// The stream lived long enough to deliver events; start the
			// next attempt from a fresh backoff.
			bo.Reset()
		}
		telemetry.WatchRestartsTotal.WithLabelValues(stream).Inc()
		if !sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

// consume drains one open stream. It returns the last seen resourceVersion,
// whether the server expired the watch history (the caller must then relist
// from scratch), and whether at least one event was delivered.
func consume(ctx context.Context, logger *slog.Logger, stream string, w watch.Interface, handle EventHandler) (string, bool, bool) {
	resourceVersion := ""
	delivered := false

	for {
		select {
		case <-ctx.Done():
			return resourceVersion, false, delivered
		case ev, open := <-w.ResultChan():
			if !open {
				return resourceVersion, false, delivered
			}
			if ev.Type == watch.Error {
				status := apierrors.FromObject(ev.Object)
				if apierrors.IsGone(status) {
					logger.Info("watch history expired, relisting", "stream", stream)
					return "", true, delivered
				}
				logger.Warn("watch error event", "stream", stream, "error", status)
				return resourceVersion, false, delivered
			}

			delivered = true
			telemetry.WatchEventsTotal.WithLabelValues(stream, string(ev.Type)).Inc()

			if accessor, err := meta.Accessor(ev.Object); err == nil {
				if rv := accessor.GetResourceVersion(); rv != "" {
					resourceVersion = rv
				}
			}

			if err := handle(ctx, ev); err != nil {
				logger.Error("handling watch event", "stream", stream, "type", ev.Type, "error", err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
