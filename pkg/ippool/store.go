package ippool

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/db"
)

// Store provides database operations for IP pools and pod IP bindings.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates an ippool Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const poolColumns = `id, network, ipv6, node_id, blocked_ips, created_at`

func scanPoolRow(row pgx.Row) (Pool, error) {
	var p Pool
	err := row.Scan(&p.ID, &p.Network, &p.IPv6, &p.Node, &p.BlockedIPs, &p.CreatedAt)
	return p, err
}

func scanPoolRows(rows pgx.Rows) ([]Pool, error) {
	defer rows.Close()
	var items []Pool
	for rows.Next() {
		var p Pool
		if err := rows.Scan(&p.ID, &p.Network, &p.IPv6, &p.Node, &p.BlockedIPs, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning pool row: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pool rows: %w", err)
	}
	return items, nil
}

// List returns all pools in id order (the allocation scan order).
func (s *Store) List(ctx context.Context) ([]Pool, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+poolColumns+` FROM ip_pools ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing pools: %w", err)
	}
	return scanPoolRows(rows)
}

// ListByNode returns the pools bound to one node.
func (s *Store) ListByNode(ctx context.Context, node string) ([]Pool, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+poolColumns+` FROM ip_pools WHERE node_id = $1 ORDER BY id`, node)
	if err != nil {
		return nil, fmt.Errorf("listing pools by node: %w", err)
	}
	return scanPoolRows(rows)
}

// GetByNetwork returns one pool by its CIDR.
func (s *Store) GetByNetwork(ctx context.Context, network string) (Pool, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM ip_pools WHERE network = $1`, network)
	return scanPoolRow(row)
}

// LockByID re-reads one pool FOR UPDATE inside the caller's transaction.
// Concurrent allocators serialize on this row lock.
func (s *Store) LockByID(ctx context.Context, tx pgx.Tx, id int64) (Pool, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM ip_pools WHERE id = $1 FOR UPDATE`, id)
	return scanPoolRow(row)
}

// Insert creates a pool.
func (s *Store) Insert(ctx context.Context, p Pool) (Pool, error) {
	row := s.dbtx.QueryRow(ctx, `INSERT INTO ip_pools (network, ipv6, node_id, blocked_ips)
		VALUES ($1, $2, $3, $4) RETURNING `+poolColumns,
		p.Network, p.IPv6, p.Node, p.BlockedIPs)
	return scanPoolRow(row)
}

// SetBlocked replaces the blocked list of a pool.
func (s *Store) SetBlocked(ctx context.Context, id int64, blocked []int64) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE ip_pools SET blocked_ips = $2 WHERE id = $1`, id, blocked)
	if err != nil {
		return fmt.Errorf("updating blocked list: %w", err)
	}
	return nil
}

// Delete removes a pool.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM ip_pools WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting pool: %w", err)
	}
	return nil
}

// AllocatedInPool returns the allocated host integers of one pool.
func (s *Store) AllocatedInPool(ctx context.Context, poolID int64) (map[uint32]bool, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT ip FROM pod_ips WHERE pool_id = $1`, poolID)
	if err != nil {
		return nil, fmt.Errorf("listing allocated IPs: %w", err)
	}
	defer rows.Close()

	set := make(map[uint32]bool)
	for rows.Next() {
		var ip int64
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("scanning allocated IP: %w", err)
		}
		set[uint32(ip)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating allocated IPs: %w", err)
	}
	return set, nil
}

// CountAllocated returns how many addresses of the pool are assigned.
func (s *Store) CountAllocated(ctx context.Context, poolID int64) (int, error) {
	var n int
	err := s.dbtx.QueryRow(ctx,
		`SELECT count(*) FROM pod_ips WHERE pool_id = $1`, poolID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting allocated IPs: %w", err)
	}
	return n, nil
}

// InsertPodIP records an assignment.
func (s *Store) InsertPodIP(ctx context.Context, podIP PodIP) error {
	_, err := s.dbtx.Exec(ctx,
		`INSERT INTO pod_ips (pod_id, pool_id, ip) VALUES ($1, $2, $3)`,
		podIP.PodID, podIP.PoolID, podIP.IP)
	if err != nil {
		return fmt.Errorf("inserting pod IP: %w", err)
	}
	return nil
}

// GetPodIP returns the assignment for one pod, if any.
func (s *Store) GetPodIP(ctx context.Context, podID uuid.UUID) (PodIP, error) {
	var pip PodIP
	err := s.dbtx.QueryRow(ctx,
		`SELECT pod_id, pool_id, ip FROM pod_ips WHERE pod_id = $1`, podID).Scan(
		&pip.PodID, &pip.PoolID, &pip.IP)
	return pip, err
}

// GetPodIPByIP returns the assignment holding one address.
func (s *Store) GetPodIPByIP(ctx context.Context, ip uint32) (PodIP, error) {
	var pip PodIP
	err := s.dbtx.QueryRow(ctx,
		`SELECT pod_id, pool_id, ip FROM pod_ips WHERE ip = $1`, int64(ip)).Scan(
		&pip.PodID, &pip.PoolID, &pip.IP)
	return pip, err
}

// DeletePodIP releases a pod's assignment. Returns whether a row was removed.
func (s *Store) DeletePodIP(ctx context.Context, podID uuid.UUID) (bool, error) {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM pod_ips WHERE pod_id = $1`, podID)
	if err != nil {
		return false, fmt.Errorf("deleting pod IP: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
