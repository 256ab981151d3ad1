package settings

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/db"
)

// Service reads and writes system settings with typed fallbacks.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a settings Service.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), logger: logger}
}

// GetInt returns the named setting parsed as an integer, falling back to the
// compiled-in default when the row is missing or malformed.
func (s *Service) GetInt(ctx context.Context, name string) int {
	fallback := 0
	if def, ok := Defaults[name]; ok {
		fallback, _ = strconv.Atoi(def)
	}

	row, err := s.store.Get(ctx, name)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("reading system setting", "name", name, "error", err)
		}
		return fallback
	}
	v, err := strconv.Atoi(row.Value)
	if err != nil {
		s.logger.Warn("system setting is not an integer", "name", name, "value", row.Value)
		return fallback
	}
	return v
}

// List returns every setting.
func (s *Service) List(ctx context.Context) ([]Setting, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Setting{}
	}
	return items, nil
}

// Set validates and writes one setting.
func (s *Service) Set(ctx context.Context, name, value string) (Setting, error) {
	if _, known := Defaults[name]; !known {
		return Setting{}, apierror.NotFound("unknown system setting %q", name)
	}
	if _, err := strconv.Atoi(value); err != nil {
		return Setting{}, apierror.Validation("setting %q must be an integer, got %q", name, value)
	}
	return s.store.Set(ctx, name, value)
}
