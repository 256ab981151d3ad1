package image

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/kuberdock/internal/apierror"
)

func TestRegistryHost(t *testing.T) {
	tests := []struct {
		image string
		want  string
	}{
		{"nginx", "registry-1.docker.io"},
		{"library/nginx", "registry-1.docker.io"},
		{"quay.io/coreos/etcd", "quay.io"},
		{"localhost:5000/app", "localhost:5000"},
		{"registry.example.com/team/app:v2", "registry.example.com"},
	}
	for _, tt := range tests {
		if got := registryHost(tt.image); got != tt.want {
			t.Errorf("registryHost(%q) = %q, want %q", tt.image, got, tt.want)
		}
	}
}

func TestConfigHasCommand(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"empty", Config{}, false},
		{"cmd only", Config{Cmd: []string{"nginx"}}, true},
		{"entrypoint only", Config{Entrypoint: []string{"/entry.sh"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.HasCommand(); got != tt.want {
				t.Errorf("HasCommand() = %v, want %v", got, tt.want)
			}
		})
	}
}

// newTestProbe builds a probe with a stubbed fetch and a nil DB (the store
// is replaced by a cache-miss stub through the fetch path only).
func newTestProbe(t *testing.T, fetch func(ctx context.Context, image string, auth authn.Authenticator) (Config, string, error)) *Probe {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &Probe{
		store:    nil,
		rdb:      rdb,
		cacheTTL: time.Hour,
		logger:   slog.New(slog.DiscardHandler),
		fetch:    fetch,
	}
}

func TestProbe_AuthFailurePause(t *testing.T) {
	unauthorized := &transport.Error{StatusCode: http.StatusUnauthorized}
	p := newTestProbe(t, func(_ context.Context, _ string, _ authn.Authenticator) (Config, string, error) {
		return Config{}, "", unauthorized
	})
	ctx := context.Background()

	// Seed the failure timestamp directly, as a prior denied probe would.
	p.recordAuthFailure(ctx, 7, "registry.example.com")

	err := p.checkAuthPause(ctx, 7, "registry.example.com")
	apiErr := apierror.From(err)
	if apiErr == nil || apiErr.Kind != apierror.KindTooManyAttempts {
		t.Fatalf("checkAuthPause() right after failure = %v, want TooManyLoginAttempts", err)
	}
	if apiErr.Status() != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", apiErr.Status())
	}

	// A different user is not affected.
	if err := p.checkAuthPause(ctx, 8, "registry.example.com"); err != nil {
		t.Errorf("checkAuthPause() for another user = %v, want nil", err)
	}

	// After the pause the same user may retry.
	old := strconv.FormatInt(time.Now().Add(-AuthFailurePause*2).UnixMilli(), 10)
	if err := p.rdb.Set(ctx, authFailKey(7, "registry.example.com"), old, 0).Err(); err != nil {
		t.Fatal(err)
	}
	if err := p.checkAuthPause(ctx, 7, "registry.example.com"); err != nil {
		t.Errorf("checkAuthPause() after pause = %v, want nil", err)
	}
}

func TestIsUnauthorized(t *testing.T) {
	if !isUnauthorized(&transport.Error{StatusCode: http.StatusUnauthorized}) {
		t.Error("isUnauthorized(401) = false")
	}
	if !isUnauthorized(&transport.Error{StatusCode: http.StatusForbidden}) {
		t.Error("isUnauthorized(403) = false")
	}
	if isUnauthorized(errors.New("boom")) {
		t.Error("isUnauthorized(plain error) = true")
	}
}

func TestFetchRemote_AgainstInMemoryRegistry(t *testing.T) {
	srv := httptest.NewServer(registry.New())
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	img, err := mutate.Config(empty.Image, v1.Config{
		Cmd:          []string{"nginx", "-g", "daemon off;"},
		ExposedPorts: map[string]struct{}{"80/tcp": {}},
		WorkingDir:   "/srv",
	})
	if err != nil {
		t.Fatalf("building test image: %v", err)
	}

	imageRef := u.Host + "/test/web:latest"
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		t.Fatal(err)
	}
	if err := remote.Write(ref, img); err != nil {
		t.Fatalf("pushing test image: %v", err)
	}

	cfg, digest, err := fetchRemote(context.Background(), imageRef, nil)
	if err != nil {
		t.Fatalf("fetchRemote() error = %v", err)
	}
	if len(cfg.Cmd) != 3 || cfg.Cmd[0] != "nginx" {
		t.Errorf("Cmd = %v, want the pushed command", cfg.Cmd)
	}
	if len(cfg.ExposedPorts) != 1 || cfg.ExposedPorts[0] != "80/tcp" {
		t.Errorf("ExposedPorts = %v, want [80/tcp]", cfg.ExposedPorts)
	}
	if cfg.WorkingDir != "/srv" {
		t.Errorf("WorkingDir = %q, want /srv", cfg.WorkingDir)
	}
	if digest == "" {
		t.Error("digest is empty")
	}
	if !cfg.HasCommand() {
		t.Error("HasCommand() = false for an image with CMD")
	}
}
