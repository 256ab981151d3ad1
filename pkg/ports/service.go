package ports

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/db"
)

// Service manages the allowed and restricted port lists.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a ports Service.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), logger: logger}
}

func validatePair(port int, protocol string) (string, error) {
	if !ValidPort(port) {
		return "", apierror.Validation("port %d is out of range", port)
	}
	p := NormalizeProtocol(protocol)
	if !ValidProtocol(p) {
		return "", apierror.Validation("unknown protocol %q", protocol)
	}
	return p, nil
}

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ListAllowed returns the allowed host ports.
func (s *Service) ListAllowed(ctx context.Context) ([]AllowedPort, error) {
	items, err := s.store.ListAllowed(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []AllowedPort{}
	}
	return items, nil
}

// AddAllowed opens one host port.
func (s *Service) AddAllowed(ctx context.Context, port int, protocol string) (AllowedPort, error) {
	p, err := validatePair(port, protocol)
	if err != nil {
		return AllowedPort{}, err
	}
	item, err := s.store.InsertAllowed(ctx, port, p)
	if err != nil {
		if isDuplicate(err) {
			return AllowedPort{}, apierror.Conflict("port %d/%s is already allowed", port, p)
		}
		return AllowedPort{}, err
	}
	return item, nil
}

// RemoveAllowed closes one host port.
func (s *Service) RemoveAllowed(ctx context.Context, port int, protocol string) error {
	p, err := validatePair(port, protocol)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAllowed(ctx, port, p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierror.NotFound("port %d/%s is not in the allowed list", port, p)
		}
		return err
	}
	return nil
}

// ListRestricted returns the restricted ports.
func (s *Service) ListRestricted(ctx context.Context) ([]RestrictedPort, error) {
	items, err := s.store.ListRestricted(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []RestrictedPort{}
	}
	return items, nil
}

// AddRestricted forbids public exposure of one port.
func (s *Service) AddRestricted(ctx context.Context, port int, protocol string) (RestrictedPort, error) {
	p, err := validatePair(port, protocol)
	if err != nil {
		return RestrictedPort{}, err
	}
	item, err := s.store.InsertRestricted(ctx, port, p)
	if err != nil {
		if isDuplicate(err) {
			return RestrictedPort{}, apierror.Conflict("port %d/%s is already restricted", port, p)
		}
		return RestrictedPort{}, err
	}
	return item, nil
}

// RemoveRestricted lifts the restriction on one port.
func (s *Service) RemoveRestricted(ctx context.Context, port int, protocol string) error {
	p, err := validatePair(port, protocol)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRestricted(ctx, port, p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierror.NotFound("port %d/%s is not in the restricted list", port, p)
		}
		return err
	}
	return nil
}

// IsRestricted reports whether publishing the port on a public IP is
// forbidden. Used by pod validation.
func (s *Service) IsRestricted(ctx context.Context, port int, protocol string) (bool, error) {
	return s.store.IsRestricted(ctx, port, NormalizeProtocol(protocol))
}
