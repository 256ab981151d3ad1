package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/db"
)

// Store provides database operations for the usage interval tables.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a usage Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const containerStateColumns = `id, pod_id, container_name, docker_id, kubes,
	start_time, end_time, exit_code, reason`

func scanContainerStates(rows pgx.Rows) ([]ContainerState, error) {
	defer rows.Close()
	var items []ContainerState
	for rows.Next() {
		var c ContainerState
		if err := rows.Scan(&c.ID, &c.PodID, &c.Container, &c.DockerID, &c.Kubes,
			&c.Start, &c.End, &c.ExitCode, &c.Reason); err != nil {
			return nil, fmt.Errorf("scanning container state: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating container states: %w", err)
	}
	return items, nil
}

// UpsertContainerState inserts the interval keyed by
// (pod, container, docker id, start); replaying the same event only refreshes
// the end time, keeping the reconciler idempotent.
func (s *Store) UpsertContainerState(ctx context.Context, c ContainerState) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO container_states
		(pod_id, container_name, docker_id, kubes, start_time, end_time, exit_code, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pod_id, container_name, docker_id, start_time)
		DO UPDATE SET end_time = EXCLUDED.end_time,
			exit_code = COALESCE(EXCLUDED.exit_code, container_states.exit_code),
			reason = COALESCE(EXCLUDED.reason, container_states.reason)`,
		c.PodID, c.Container, c.DockerID, c.Kubes, c.Start, c.End, c.ExitCode, c.Reason)
	if err != nil {
		return fmt.Errorf("upserting container state: %w", err)
	}
	return nil
}

// OpenContainerStates returns the open intervals for one (pod, container).
func (s *Store) OpenContainerStates(ctx context.Context, podID uuid.UUID, container string) ([]ContainerState, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+containerStateColumns+` FROM container_states
		WHERE pod_id = $1 AND container_name = $2 AND end_time IS NULL
		ORDER BY start_time`, podID, container)
	if err != nil {
		return nil, fmt.Errorf("listing open container states: %w", err)
	}
	return scanContainerStates(rows)
}

// CloseOverlapping ends every open interval of (pod, container) that started
// before the new interval, repairing the at-most-one-open invariant.
func (s *Store) CloseOverlapping(ctx context.Context, podID uuid.UUID, container string, newStart time.Time) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE container_states
		SET end_time = $3
		WHERE pod_id = $1 AND container_name = $2 AND end_time IS NULL AND start_time < $3`,
		podID, container, newStart)
	if err != nil {
		return fmt.Errorf("closing overlapping container states: %w", err)
	}
	return nil
}

// CloseAllForPod ends every open interval of a pod at the given time. Used
// on pod deletion when no finish timestamp was reported.
func (s *Store) CloseAllForPod(ctx context.Context, podID uuid.UUID, at time.Time) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE container_states
		SET end_time = $2 WHERE pod_id = $1 AND end_time IS NULL`, podID, at)
	if err != nil {
		return fmt.Errorf("closing pod container states: %w", err)
	}
	return nil
}

// ListContainerStatesByPod returns the full timeline of one pod ordered by
// container and start, for the repair job.
func (s *Store) ListContainerStatesByPod(ctx context.Context, podID uuid.UUID) ([]ContainerState, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+containerStateColumns+` FROM container_states
		WHERE pod_id = $1 ORDER BY container_name, start_time`, podID)
	if err != nil {
		return nil, fmt.Errorf("listing pod container states: %w", err)
	}
	return scanContainerStates(rows)
}

// SetContainerStateEnd rewrites one interval's end, for the repair job.
func (s *Store) SetContainerStateEnd(ctx context.Context, id int64, end *time.Time) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE container_states SET end_time = $2 WHERE id = $1`, id, end)
	if err != nil {
		return fmt.Errorf("setting container state end: %w", err)
	}
	return nil
}

// OpenIPState starts an IP tenure, closing any forgotten open row first.
func (s *Store) OpenIPState(ctx context.Context, podID uuid.UUID, ip string) error {
	now := time.Now().UTC()
	if _, err := s.dbtx.Exec(ctx, `UPDATE ip_states
		SET end_time = $2 WHERE pod_id = $1 AND end_time IS NULL`, podID, now); err != nil {
		return fmt.Errorf("closing stale ip states: %w", err)
	}
	_, err := s.dbtx.Exec(ctx, `INSERT INTO ip_states (pod_id, ip_address, start_time)
		VALUES ($1, $2, $3)`, podID, ip, now)
	if err != nil {
		return fmt.Errorf("opening ip state: %w", err)
	}
	return nil
}

// CloseIPState ends the pod's open IP tenure, if any.
func (s *Store) CloseIPState(ctx context.Context, podID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE ip_states
		SET end_time = $2 WHERE pod_id = $1 AND end_time IS NULL`, podID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("closing ip state: %w", err)
	}
	return nil
}

// OpenPDState starts a disk tenure.
func (s *Store) OpenPDState(ctx context.Context, pdID int64, pdName string, size int) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO pd_states (pd_id, pd_name, size, start_time)
		VALUES ($1, $2, $3, $4)`, pdID, pdName, size, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("opening pd state: %w", err)
	}
	return nil
}

// ClosePDState ends the disk's open tenure, if any.
func (s *Store) ClosePDState(ctx context.Context, pdID int64) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE pd_states
		SET end_time = $2 WHERE pd_id = $1 AND end_time IS NULL`, pdID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("closing pd state: %w", err)
	}
	return nil
}

// ReportForUser assembles the three interval sets of one user.
func (s *Store) ReportForUser(ctx context.Context, userID int64) (Report, error) {
	report := Report{
		Containers: []ContainerState{},
		IPs:        []IPState{},
		PDs:        []PDState{},
	}

	rows, err := s.dbtx.Query(ctx,
		`SELECT cs.id, cs.pod_id, cs.container_name, cs.docker_id, cs.kubes,
			cs.start_time, cs.end_time, cs.exit_code, cs.reason
		FROM container_states cs JOIN pods p ON p.id = cs.pod_id
		WHERE p.owner_id = $1 ORDER BY cs.start_time`, userID)
	if err != nil {
		return Report{}, fmt.Errorf("listing user container states: %w", err)
	}
	if report.Containers, err = scanContainerStates(rows); err != nil {
		return Report{}, err
	}
	if report.Containers == nil {
		report.Containers = []ContainerState{}
	}

	ipRows, err := s.dbtx.Query(ctx,
		`SELECT s.id, s.pod_id, s.ip_address, s.start_time, s.end_time
		FROM ip_states s JOIN pods p ON p.id = s.pod_id
		WHERE p.owner_id = $1 ORDER BY s.start_time`, userID)
	if err != nil {
		return Report{}, fmt.Errorf("listing user ip states: %w", err)
	}
	defer ipRows.Close()
	for ipRows.Next() {
		var st IPState
		if err := ipRows.Scan(&st.ID, &st.PodID, &st.IP, &st.Start, &st.End); err != nil {
			return Report{}, fmt.Errorf("scanning ip state: %w", err)
		}
		report.IPs = append(report.IPs, st)
	}
	if err := ipRows.Err(); err != nil {
		return Report{}, fmt.Errorf("iterating ip states: %w", err)
	}

	pdRows, err := s.dbtx.Query(ctx,
		`SELECT s.id, s.pd_id, s.pd_name, s.size, s.start_time, s.end_time
		FROM pd_states s JOIN persistent_disks d ON d.id = s.pd_id
		WHERE d.owner_id = $1 ORDER BY s.start_time`, userID)
	if err != nil {
		return Report{}, fmt.Errorf("listing user pd states: %w", err)
	}
	defer pdRows.Close()
	for pdRows.Next() {
		var st PDState
		if err := pdRows.Scan(&st.ID, &st.PDID, &st.PDName, &st.Size, &st.Start, &st.End); err != nil {
			return Report{}, fmt.Errorf("scanning pd state: %w", err)
		}
		report.PDs = append(report.PDs, st)
	}
	if err := pdRows.Err(); err != nil {
		return Report{}, fmt.Errorf("iterating pd states: %w", err)
	}
	return report, nil
}
