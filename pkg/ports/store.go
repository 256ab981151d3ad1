package ports

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/db"
)

// Store provides database operations for the port lists.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a ports Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const allowedColumns = `id, port, protocol, created_at`
const restrictedColumns = `id, port, protocol, created_at`

// ListAllowed returns all allowed host ports ordered by port then protocol.
func (s *Store) ListAllowed(ctx context.Context) ([]AllowedPort, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+allowedColumns+` FROM allowed_ports ORDER BY port, protocol`)
	if err != nil {
		return nil, fmt.Errorf("listing allowed ports: %w", err)
	}
	defer rows.Close()

	var items []AllowedPort
	for rows.Next() {
		var p AllowedPort
		if err := rows.Scan(&p.ID, &p.Port, &p.Protocol, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning allowed port row: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating allowed port rows: %w", err)
	}
	return items, nil
}

// InsertAllowed adds one allowed port. The (port, protocol) pair is unique.
func (s *Store) InsertAllowed(ctx context.Context, port int, protocol string) (AllowedPort, error) {
	row := s.dbtx.QueryRow(ctx, `INSERT INTO allowed_ports (port, protocol)
		VALUES ($1, $2)
		RETURNING `+allowedColumns, port, protocol)
	var p AllowedPort
	err := row.Scan(&p.ID, &p.Port, &p.Protocol, &p.CreatedAt)
	return p, err
}

// DeleteAllowed removes one allowed port by pair.
func (s *Store) DeleteAllowed(ctx context.Context, port int, protocol string) error {
	tag, err := s.dbtx.Exec(ctx,
		`DELETE FROM allowed_ports WHERE port = $1 AND protocol = $2`, port, protocol)
	if err != nil {
		return fmt.Errorf("deleting allowed port: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRestricted returns all restricted ports ordered by port then protocol.
func (s *Store) ListRestricted(ctx context.Context) ([]RestrictedPort, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+restrictedColumns+` FROM restricted_ports ORDER BY port, protocol`)
	if err != nil {
		return nil, fmt.Errorf("listing restricted ports: %w", err)
	}
	defer rows.Close()

	var items []RestrictedPort
	for rows.Next() {
		var p RestrictedPort
		if err := rows.Scan(&p.ID, &p.Port, &p.Protocol, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning restricted port row: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating restricted port rows: %w", err)
	}
	return items, nil
}

// InsertRestricted adds one restricted port. The (port, protocol) pair is unique.
func (s *Store) InsertRestricted(ctx context.Context, port int, protocol string) (RestrictedPort, error) {
	row := s.dbtx.QueryRow(ctx, `INSERT INTO restricted_ports (port, protocol)
		VALUES ($1, $2)
		RETURNING `+restrictedColumns, port, protocol)
	var p RestrictedPort
	err := row.Scan(&p.ID, &p.Port, &p.Protocol, &p.CreatedAt)
	return p, err
}

// DeleteRestricted removes one restricted port by pair.
func (s *Store) DeleteRestricted(ctx context.Context, port int, protocol string) error {
	tag, err := s.dbtx.Exec(ctx,
		`DELETE FROM restricted_ports WHERE port = $1 AND protocol = $2`, port, protocol)
	if err != nil {
		return fmt.Errorf("deleting restricted port: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IsRestricted reports whether the (port, protocol) pair is in the
// restricted list.
func (s *Store) IsRestricted(ctx context.Context, port int, protocol string) (bool, error) {
	var exists bool
	err := s.dbtx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM restricted_ports WHERE port = $1 AND protocol = $2)`,
		port, protocol).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking restricted port: %w", err)
	}
	return exists, nil
}
