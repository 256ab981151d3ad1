package pod

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/db"
)

// Store provides database operations for pods.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a pod Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const podColumns = `id, sid, name, owner_id, kube_type, config, status, unpaid,
	template_id, template_version_id, plan_name, pinned_node, public_ip,
	direct_access, created_at`

func scanPod(row pgx.Row) (Pod, error) {
	var (
		p      Pod
		rawCfg []byte
		rawDA  []byte
	)
	err := row.Scan(
		&p.ID, &p.Sid, &p.Name, &p.OwnerID, &p.KubeType, &rawCfg, &p.Status,
		&p.Unpaid, &p.TemplateID, &p.TemplateVersion, &p.PlanName,
		&p.PinnedNode, &p.PublicIP, &rawDA, &p.CreatedAt,
	)
	if err != nil {
		return Pod{}, err
	}
	if err := json.Unmarshal(rawCfg, &p.Config); err != nil {
		return Pod{}, fmt.Errorf("decoding pod config: %w", err)
	}
	return p, nil
}

func scanPods(rows pgx.Rows) ([]Pod, error) {
	defer rows.Close()
	var items []Pod
	for rows.Next() {
		p, err := scanPod(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pod row: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pod rows: %w", err)
	}
	return items, nil
}

// Get returns one pod by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Pod, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+podColumns+` FROM pods WHERE id = $1`, id)
	return scanPod(row)
}

// GetLiveByName returns the non-deleted pod for an (owner, name) pair.
func (s *Store) GetLiveByName(ctx context.Context, ownerID int64, name string) (Pod, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+podColumns+` FROM pods
		WHERE owner_id = $1 AND name = $2 AND status != $3`,
		ownerID, name, StatusDeleted)
	return scanPod(row)
}

// ListByOwner returns the live pods of one owner.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64) ([]Pod, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+podColumns+` FROM pods
		WHERE owner_id = $1 AND status != $2 ORDER BY created_at`,
		ownerID, StatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}
	return scanPods(rows)
}

// ListAll returns every live pod, for admin listings and the reconciler.
func (s *Store) ListAll(ctx context.Context) ([]Pod, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+podColumns+` FROM pods WHERE status != $1 ORDER BY created_at`,
		StatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("listing all pods: %w", err)
	}
	return scanPods(rows)
}

// Insert creates a new pod row.
func (s *Store) Insert(ctx context.Context, p Pod) (Pod, error) {
	rawCfg, err := json.Marshal(p.Config)
	if err != nil {
		return Pod{}, fmt.Errorf("encoding pod config: %w", err)
	}
	row := s.dbtx.QueryRow(ctx, `INSERT INTO pods
		(id, sid, name, owner_id, kube_type, config, status, unpaid,
		 template_id, template_version_id, plan_name, pinned_node, public_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+podColumns,
		p.ID, p.Sid, p.Name, p.OwnerID, p.KubeType, rawCfg, p.Status, p.Unpaid,
		p.TemplateID, p.TemplateVersion, p.PlanName, p.PinnedNode, p.PublicIP)
	return scanPod(row)
}

// SetStatus updates the pod status.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE pods SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("setting pod status: %w", err)
	}
	return nil
}

// SetUnpaid flips the billing flag.
func (s *Store) SetUnpaid(ctx context.Context, id uuid.UUID, unpaid bool) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE pods SET unpaid = $2 WHERE id = $1`, id, unpaid)
	if err != nil {
		return fmt.Errorf("setting pod unpaid flag: %w", err)
	}
	return nil
}

// SetConfig replaces the stored spec and the derived kube type.
func (s *Store) SetConfig(ctx context.Context, id uuid.UUID, cfg Spec) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding pod config: %w", err)
	}
	_, err = s.dbtx.Exec(ctx,
		`UPDATE pods SET config = $2, kube_type = $3 WHERE id = $1`,
		id, raw, cfg.KubeType)
	if err != nil {
		return fmt.Errorf("setting pod config: %w", err)
	}
	return nil
}

// SetName renames the pod.
func (s *Store) SetName(ctx context.Context, id uuid.UUID, name string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE pods SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("renaming pod: %w", err)
	}
	return nil
}

// SetSid records a freshly rolled RC name.
func (s *Store) SetSid(ctx context.Context, id uuid.UUID, sid string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE pods SET sid = $2 WHERE id = $1`, id, sid)
	if err != nil {
		return fmt.Errorf("setting pod sid: %w", err)
	}
	return nil
}

// SetPinnedNode pins or unpins the pod.
func (s *Store) SetPinnedNode(ctx context.Context, id uuid.UUID, node *string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE pods SET pinned_node = $2 WHERE id = $1`, id, node)
	if err != nil {
		return fmt.Errorf("setting pod node: %w", err)
	}
	return nil
}

// SetPublicIP records or clears the assigned public address.
func (s *Store) SetPublicIP(ctx context.Context, id uuid.UUID, ip *string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE pods SET public_ip = $2 WHERE id = $1`, id, ip)
	if err != nil {
		return fmt.Errorf("setting pod public ip: %w", err)
	}
	return nil
}

// Tombstone salts the name and marks the row deleted. The row survives for
// usage records.
func (s *Store) Tombstone(ctx context.Context, id uuid.UUID, saltedName string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE pods SET name = $2, status = $3 WHERE id = $1`,
		id, saltedName, StatusDeleted)
	if err != nil {
		return fmt.Errorf("tombstoning pod: %w", err)
	}
	return nil
}

// SetDirectAccess stores the bcrypt-hashed container credentials blob.
func (s *Store) SetDirectAccess(ctx context.Context, id uuid.UUID, blob []byte) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE pods SET direct_access = $2 WHERE id = $1`, id, blob)
	if err != nil {
		return fmt.Errorf("setting direct access credentials: %w", err)
	}
	return nil
}

// GetDirectAccess returns the stored credentials blob, which may be nil.
func (s *Store) GetDirectAccess(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var blob []byte
	err := s.dbtx.QueryRow(ctx,
		`SELECT direct_access FROM pods WHERE id = $1`, id).Scan(&blob)
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// UserInfo is the slice of the owner's user row the controller needs.
type UserInfo struct {
	ID        int64
	Username  string
	PackageID int
	FixPrice  bool
}

// GetUserInfo resolves quota-relevant owner fields.
func (s *Store) GetUserInfo(ctx context.Context, userID int64) (UserInfo, error) {
	var u UserInfo
	err := s.dbtx.QueryRow(ctx,
		`SELECT id, username, package_id, fix_price FROM users WHERE id = $1`,
		userID).Scan(&u.ID, &u.Username, &u.PackageID, &u.FixPrice)
	if err != nil {
		return UserInfo{}, fmt.Errorf("looking up pod owner %d: %w", userID, err)
	}
	return u, nil
}
