package image

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/db"
)

// Store caches decoded image configs in the database.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates an image cache Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// GetCached returns the cached config for an image if it is younger than ttl.
func (s *Store) GetCached(ctx context.Context, image string, ttl time.Duration) (Config, bool, error) {
	var (
		raw       []byte
		createdAt time.Time
	)
	err := s.dbtx.QueryRow(ctx,
		`SELECT config, created_at FROM image_cache WHERE image = $1`, image).Scan(&raw, &createdAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("reading image cache: %w", err)
	}
	if time.Since(createdAt) > ttl {
		return Config{}, false, nil
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("decoding cached image config: %w", err)
	}
	return cfg, true, nil
}

// PutCached upserts the cached config, resetting its age.
func (s *Store) PutCached(ctx context.Context, cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding image config: %w", err)
	}
	_, err = s.dbtx.Exec(ctx, `INSERT INTO image_cache (image, config)
		VALUES ($1, $2)
		ON CONFLICT (image) DO UPDATE SET config = EXCLUDED.config, created_at = now()`,
		cfg.Image, raw)
	if err != nil {
		return fmt.Errorf("writing image cache: %w", err)
	}
	return nil
}
