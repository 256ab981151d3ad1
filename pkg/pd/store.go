package pd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/db"
)

// Store provides database operations for persistent disks.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a PD Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const diskColumns = `id, drive_name, name, owner_id, size, state, pod_id, node_id, backend_ref, created_at`

func scanDiskRow(row pgx.Row) (Disk, error) {
	var d Disk
	err := row.Scan(
		&d.ID, &d.DriveName, &d.Name, &d.OwnerID, &d.Size, &d.State,
		&d.PodID, &d.NodeID, &d.BackendRef, &d.CreatedAt,
	)
	return d, err
}

func scanDiskRows(rows pgx.Rows) ([]Disk, error) {
	defer rows.Close()
	var items []Disk
	for rows.Next() {
		var d Disk
		if err := rows.Scan(
			&d.ID, &d.DriveName, &d.Name, &d.OwnerID, &d.Size, &d.State,
			&d.PodID, &d.NodeID, &d.BackendRef, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning disk row: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating disk rows: %w", err)
	}
	return items, nil
}

// Get returns one disk by id.
func (s *Store) Get(ctx context.Context, id int64) (Disk, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+diskColumns+` FROM persistent_disks WHERE id = $1`, id)
	return scanDiskRow(row)
}

// GetLive returns the non-deleted disk for a (name, owner) pair. At most one
// such row exists.
func (s *Store) GetLive(ctx context.Context, name string, ownerID int64) (Disk, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+diskColumns+` FROM persistent_disks
		WHERE name = $1 AND owner_id = $2 AND state IN ($3, $4, $5)`,
		name, ownerID, StatePending, StateCreated, StateDeleted)
	return scanDiskRow(row)
}

// ListByOwner returns all non-TODELETE disks of one owner.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64) ([]Disk, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+diskColumns+` FROM persistent_disks
		WHERE owner_id = $1 AND state != $2 ORDER BY name`, ownerID, StateToDelete)
	if err != nil {
		return nil, fmt.Errorf("listing disks: %w", err)
	}
	return scanDiskRows(rows)
}

// ListByPod returns all disks bound to a pod.
func (s *Store) ListByPod(ctx context.Context, podID uuid.UUID) ([]Disk, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+diskColumns+` FROM persistent_disks WHERE pod_id = $1`, podID)
	if err != nil {
		return nil, fmt.Errorf("listing disks by pod: %w", err)
	}
	return scanDiskRows(rows)
}

// ListToDelete returns every disk awaiting physical deletion.
func (s *Store) ListToDelete(ctx context.Context) ([]Disk, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+diskColumns+` FROM persistent_disks WHERE state = $1`, StateToDelete)
	if err != nil {
		return nil, fmt.Errorf("listing disks to delete: %w", err)
	}
	return scanDiskRows(rows)
}

// Insert creates a new disk row.
func (s *Store) Insert(ctx context.Context, d Disk) (Disk, error) {
	row := s.dbtx.QueryRow(ctx, `INSERT INTO persistent_disks
		(drive_name, name, owner_id, size, state, pod_id, node_id, backend_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+diskColumns,
		d.DriveName, d.Name, d.OwnerID, d.Size, d.State, d.PodID, d.NodeID, d.BackendRef)
	return scanDiskRow(row)
}

// SetState updates the state of one disk.
func (s *Store) SetState(ctx context.Context, id int64, state string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE persistent_disks SET state = $2 WHERE id = $1`, id, state)
	if err != nil {
		return fmt.Errorf("setting disk state: %w", err)
	}
	return nil
}

// SetBackendRef records the backend's identifier for the physical drive.
func (s *Store) SetBackendRef(ctx context.Context, id int64, ref string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE persistent_disks SET backend_ref = $2 WHERE id = $1`, id, ref)
	if err != nil {
		return fmt.Errorf("setting disk backend ref: %w", err)
	}
	return nil
}

// SetNode pins a local-storage disk to a node.
func (s *Store) SetNode(ctx context.Context, id int64, node string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE persistent_disks SET node_id = $2 WHERE id = $1`, id, node)
	if err != nil {
		return fmt.Errorf("setting disk node: %w", err)
	}
	return nil
}

// Delete removes a disk row.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM persistent_disks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting disk row: %w", err)
	}
	return nil
}

// Attach binds the disk to a pod iff it is currently free.
func (s *Store) Attach(ctx context.Context, id int64, podID uuid.UUID) (bool, error) {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE persistent_disks SET pod_id = $2 WHERE id = $1 AND pod_id IS NULL`,
		id, podID)
	if err != nil {
		return false, fmt.Errorf("attaching disk: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DetachAll clears the pod binding from every disk owned by the pod.
func (s *Store) DetachAll(ctx context.Context, podID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE persistent_disks SET pod_id = NULL WHERE pod_id = $1`, podID)
	if err != nil {
		return fmt.Errorf("detaching disks: %w", err)
	}
	return nil
}

// LockByDriveNames locks the named rows FOR UPDATE inside the caller's
// transaction and returns them. Used by the all-or-nothing take.
func (s *Store) LockByDriveNames(ctx context.Context, tx pgx.Tx, driveNames []string) ([]Disk, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+diskColumns+` FROM persistent_disks
		WHERE drive_name = ANY($1) FOR UPDATE`, driveNames)
	if err != nil {
		return nil, fmt.Errorf("locking disk rows: %w", err)
	}
	return scanDiskRows(rows)
}

// Rename replaces both names of a disk (used when marking TODELETE).
func (s *Store) Rename(ctx context.Context, id int64, name, driveName string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE persistent_disks SET name = $2, drive_name = $3 WHERE id = $1`,
		id, name, driveName)
	if err != nil {
		return fmt.Errorf("renaming disk: %w", err)
	}
	return nil
}

// MaxDriveGeneration returns the highest existing drive_name among rows whose
// drive_name starts with base (the original physical name). The service
// derives the next replacement suffix from it.
func (s *Store) MaxDriveGeneration(ctx context.Context, base string) (string, error) {
	var driveName string
	err := s.dbtx.QueryRow(ctx,
		`SELECT drive_name FROM persistent_disks
		WHERE drive_name = $1 OR drive_name LIKE $1 || '\_%'
		ORDER BY length(drive_name) DESC, drive_name DESC LIMIT 1`, base).Scan(&driveName)
	if err != nil {
		return "", err
	}
	return driveName, nil
}
