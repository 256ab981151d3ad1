package node

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/db"
)

// Store provides database operations for the node registry.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a node Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const nodeColumns = `id, hostname, ip, kube_type, state, created_at`

func scanNode(row pgx.Row) (Node, error) {
	var n Node
	err := row.Scan(&n.ID, &n.Hostname, &n.IP, &n.KubeType, &n.State, &n.CreatedAt)
	return n, err
}

// Get returns one node by id.
func (s *Store) Get(ctx context.Context, id int64) (Node, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id)
	return scanNode(row)
}

// GetByHostname returns one node by hostname.
func (s *Store) GetByHostname(ctx context.Context, hostname string) (Node, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE hostname = $1`, hostname)
	return scanNode(row)
}

// List returns all nodes ordered by hostname.
func (s *Store) List(ctx context.Context) ([]Node, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+nodeColumns+` FROM nodes ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	var items []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Hostname, &n.IP, &n.KubeType, &n.State, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning node row: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating node rows: %w", err)
	}
	return items, nil
}

// Insert registers a node.
func (s *Store) Insert(ctx context.Context, hostname, ip string, kubeType int) (Node, error) {
	row := s.dbtx.QueryRow(ctx, `INSERT INTO nodes (hostname, ip, kube_type, state)
		VALUES ($1, $2, $3, $4)
		RETURNING `+nodeColumns, hostname, ip, kubeType, StatePending)
	return scanNode(row)
}

// Update rewrites the mutable fields of one node.
func (s *Store) Update(ctx context.Context, id int64, ip string, kubeType int) (Node, error) {
	row := s.dbtx.QueryRow(ctx, `UPDATE nodes SET ip = $2, kube_type = $3
		WHERE id = $1
		RETURNING `+nodeColumns, id, ip, kubeType)
	return scanNode(row)
}

// SetState records the registry state of one node.
func (s *Store) SetState(ctx context.Context, id int64, state string) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE nodes SET state = $2 WHERE id = $1`, id, state)
	if err != nil {
		return fmt.Errorf("setting node state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes one node from the registry.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountPinnedPods counts live pods pinned to the hostname.
func (s *Store) CountPinnedPods(ctx context.Context, hostname string) (int, error) {
	var n int
	err := s.dbtx.QueryRow(ctx, `SELECT count(*) FROM pods
		WHERE pinned_node = $1 AND status NOT IN ('deleting', 'deleted')`,
		hostname).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pinned pods: %w", err)
	}
	return n, nil
}
