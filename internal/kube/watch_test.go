package kube

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRunWatch_DeliversEventsAndTracksResourceVersion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := watch.NewFake()
	var opened []string
	var mu sync.Mutex

	open := func(_ context.Context, opts metav1.ListOptions) (watch.Interface, error) {
		mu.Lock()
		opened = append(opened, opts.ResourceVersion)
		mu.Unlock()
		return fake, nil
	}

	got := make(chan string, 4)
	handle := func(_ context.Context, ev watch.Event) error {
		pod := ev.Object.(*corev1.Pod)
		got <- pod.Name
		return nil
	}

	done := make(chan struct{})
	go func() {
		RunWatch(ctx, testLogger(), "pods", open, handle)
		close(done)
	}()

	fake.Add(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web", ResourceVersion: "7"}})
	fake.Modify(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web", ResourceVersion: "8"}})

	for _, want := range []string{"web", "web"} {
		select {
		case name := <-got:
			if name != want {
				t.Fatalf("event pod name = %q, want %q", name, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for watch event")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunWatch did not exit on cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(opened) == 0 || opened[0] != "" {
		t.Fatalf("first open should start from empty resourceVersion, got %v", opened)
	}
}

func TestRunWatch_RestartsAfterStreamClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var streams []*watch.FakeWatcher
	openCh := make(chan string, 8)

	open := func(_ context.Context, opts metav1.ListOptions) (watch.Interface, error) {
		fake := watch.NewFake()
		mu.Lock()
		streams = append(streams, fake)
		mu.Unlock()
		openCh <- opts.ResourceVersion
		return fake, nil
	}

	got := make(chan string, 4)
	handle := func(_ context.Context, ev watch.Event) error {
		pod := ev.Object.(*corev1.Pod)
		got <- pod.Name
		return nil
	}

	go RunWatch(ctx, testLogger(), "pods", open, handle)

	<-openCh
	mu.Lock()
	first := streams[0]
	mu.Unlock()

	first.Add(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "a", ResourceVersion: "41"}})
	<-got
	first.Stop()

	// The loop must reopen at the last delivered resourceVersion.
	select {
	case rv := <-openCh:
		if rv != "41" {
			t.Fatalf("reopened at resourceVersion %q, want %q", rv, "41")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch was not reopened after the stream closed")
	}
}

func TestRunWatch_RelistsAfterHistoryExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var streams []*watch.FakeWatcher
	openCh := make(chan string, 8)

	open := func(_ context.Context, opts metav1.ListOptions) (watch.Interface, error) {
		fake := watch.NewFake()
		mu.Lock()
		streams = append(streams, fake)
		mu.Unlock()
		openCh <- opts.ResourceVersion
		return fake, nil
	}

	got := make(chan string, 4)
	handle := func(_ context.Context, ev watch.Event) error {
		got <- ev.Object.(*corev1.Pod).Name
		return nil
	}

	go RunWatch(ctx, testLogger(), "pods", open, handle)

	<-openCh
	mu.Lock()
	first := streams[0]
	mu.Unlock()

	// Advance the tracked resourceVersion, then expire the watch history
	// in-stream, the way the API server actually reports it.
	first.Add(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "a", ResourceVersion: "5"}})
	<-got
	first.Error(&metav1.Status{
		Code:   http.StatusGone,
		Reason: metav1.StatusReasonGone,
	})

	// The loop must drop the stale resourceVersion and relist from scratch.
	select {
	case rv := <-openCh:
		if rv != "" {
			t.Fatalf("reopened at resourceVersion %q after history expiry, want a relist from scratch", rv)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch was not reopened after history expiry")
	}
}
