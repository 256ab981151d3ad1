package image

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/db"
)

// authFailKey tracks the last unauthorized attempt per (user, registry).
func authFailKey(userID int64, registry string) string {
	return "kd.image.authfail." + strconv.FormatInt(userID, 10) + "." + registry
}

// Probe resolves image configs against registries with caching and
// failed-auth pausing.
type Probe struct {
	store    *Store
	rdb      *redis.Client
	cacheTTL time.Duration
	logger   *slog.Logger

	// fetch is swapped by tests to avoid real registries. The default
	// implementation walks the v2 manifest (falling back to v1 and token
	// auth inside the registry library) and decodes the config blob.
	fetch func(ctx context.Context, image string, auth authn.Authenticator) (Config, string, error)
}

// NewProbe creates an image probe.
func NewProbe(dbtx db.DBTX, rdb *redis.Client, cacheTTL time.Duration, logger *slog.Logger) *Probe {
	return &Probe{
		store:    NewStore(dbtx),
		rdb:      rdb,
		cacheTTL: cacheTTL,
		logger:   logger,
		fetch:    fetchRemote,
	}
}

func fetchRemote(ctx context.Context, image string, auth authn.Authenticator) (Config, string, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return Config{}, "", apierror.Validation("invalid image reference %q: %v", image, err)
	}

	opts := []remote.Option{remote.WithContext(ctx)}
	if auth != nil {
		opts = append(opts, remote.WithAuth(auth))
	} else {
		opts = append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	}

	img, err := remote.Image(ref, opts...)
	if err != nil {
		return Config{}, "", err
	}
	cf, err := img.ConfigFile()
	if err != nil {
		return Config{}, "", err
	}
	digest, err := img.Digest()
	if err != nil {
		return Config{}, "", err
	}
	return fromConfigFile(image, cf), digest.String(), nil
}

// Resolve returns the image's container config, from cache when fresh.
// Credentials are tried in order: the explicit pair first, then any pod
// secrets, then anonymous.
func (p *Probe) Resolve(ctx context.Context, userID int64, image string, creds []Credentials) (Config, error) {
	if cfg, ok, err := p.store.GetCached(ctx, image, p.cacheTTL); err != nil {
		p.logger.Warn("image cache read failed", "image", image, "error", err)
	} else if ok {
		return cfg, nil
	}

	registry := registryHost(image)
	if err := p.checkAuthPause(ctx, userID, registry); err != nil {
		return Config{}, err
	}

	attempts := make([]authn.Authenticator, 0, len(creds)+1)
	for _, c := range creds {
		attempts = append(attempts, &authn.Basic{Username: c.Username, Password: c.Password})
	}
	attempts = append(attempts, nil) // anonymous / keychain

	var lastErr error
	for _, auth := range attempts {
		cfg, _, err := p.fetch(ctx, image, auth)
		if err == nil {
			if cacheErr := p.store.PutCached(ctx, cfg); cacheErr != nil {
				p.logger.Warn("image cache write failed", "image", image, "error", cacheErr)
			}
			return cfg, nil
		}
		lastErr = err
		if isUnauthorized(err) {
			continue
		}
		break
	}

	if isUnauthorized(lastErr) {
		p.recordAuthFailure(ctx, userID, registry)
		return Config{}, apierror.New(apierror.KindImageNotAvailable,
			"image %q is not available: registry denied access", image)
	}
	if isNotFound(lastErr) {
		return Config{}, apierror.New(apierror.KindImageNotAvailable,
			"image %q was not found in the registry", image)
	}
	if apiErr := apierror.From(lastErr); apiErr != nil {
		return Config{}, lastErr
	}
	return Config{}, apierror.New(apierror.KindRegistryError,
		"querying registry for %q: %v", image, lastErr)
}

// Digest returns the current manifest digest, for update checks.
func (p *Probe) Digest(ctx context.Context, userID int64, image string, creds []Credentials) (string, error) {
	registry := registryHost(image)
	if err := p.checkAuthPause(ctx, userID, registry); err != nil {
		return "", err
	}

	var auth authn.Authenticator
	if len(creds) > 0 {
		auth = &authn.Basic{Username: creds[0].Username, Password: creds[0].Password}
	}
	_, digest, err := p.fetch(ctx, image, auth)
	if err != nil {
		if isUnauthorized(err) {
			p.recordAuthFailure(ctx, userID, registry)
		}
		return "", apierror.New(apierror.KindRegistryError,
			"resolving digest for %q: %v", image, err)
	}
	return digest, nil
}

// checkAuthPause rejects a probe that follows a failed authorization too
// closely. Surfaced to the caller as 429.
func (p *Probe) checkAuthPause(ctx context.Context, userID int64, registry string) error {
	raw, err := p.rdb.Get(ctx, authFailKey(userID, registry)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		p.logger.Warn("reading auth failure timestamp", "error", err)
		return nil
	}
	last, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	elapsed := time.Since(time.UnixMilli(last))
	if elapsed < AuthFailurePause {
		return apierror.New(apierror.KindTooManyAttempts,
			"too many failed attempts against %s, wait %s",
			registry, (AuthFailurePause - elapsed).Round(time.Millisecond))
	}
	return nil
}

func (p *Probe) recordAuthFailure(ctx context.Context, userID int64, registry string) {
	key := authFailKey(userID, registry)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := p.rdb.Set(ctx, key, ts, AuthFailurePause*10).Err(); err != nil {
		p.logger.Warn("recording auth failure timestamp", "error", err)
	}
}

func isUnauthorized(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.StatusCode == http.StatusUnauthorized || terr.StatusCode == http.StatusForbidden
	}
	return false
}

func isNotFound(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.StatusCode == http.StatusNotFound
	}
	return false
}

// ErrMissingCommand builds the error for a container that has no runnable
// command anywhere.
func ErrMissingCommand(image string) error {
	return apierror.New(apierror.KindCommandIsMissing,
		"image %s has no command or entrypoint and the container defines none; "+
			"specify a command to run", image)
}
