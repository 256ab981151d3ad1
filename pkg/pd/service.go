package pd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/db"
	"github.com/wisbric/kuberdock/internal/telemetry"
	"github.com/wisbric/kuberdock/pkg/lock"
	"github.com/wisbric/kuberdock/pkg/settings"
)

// gcLockName guards the GC sweep so only one worker runs it at a time.
const gcLockName = "pd.gc"

// usageRecorder mirrors disk tenures into the billing interval table.
type usageRecorder interface {
	OpenPDState(ctx context.Context, pdID int64, pdName string, size int) error
	ClosePDState(ctx context.Context, pdID int64) error
}

// Service is the persistent disk manager.
type Service struct {
	pool     *pgxpool.Pool
	store    *Store
	backend  Backend
	settings *settings.Service
	locks    *lock.Manager
	usage    usageRecorder
	logger   *slog.Logger
}

// NewService creates the PD manager over one storage backend.
func NewService(pool *pgxpool.Pool, backend Backend, st *settings.Service, locks *lock.Manager, logger *slog.Logger) *Service {
	return &Service{
		pool:     pool,
		store:    NewStore(pool),
		backend:  backend,
		settings: st,
		locks:    locks,
		logger:   logger,
	}
}

// SetUsageRecorder attaches the billing interval recorder. Optional; without
// one disk tenures are simply not metered.
func (s *Service) SetUsageRecorder(u usageRecorder) {
	s.usage = u
}

// Backend returns the active storage backend.
func (s *Service) Backend() Backend {
	return s.backend
}

// Get returns one disk, enforcing ownership for non-admin callers.
func (s *Service) Get(ctx context.Context, id int64, callerID int64, isAdmin bool) (Disk, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Disk{}, apierror.NotFound("persistent disk %d not found", id)
		}
		return Disk{}, err
	}
	if !isAdmin && d.OwnerID != callerID {
		return Disk{}, apierror.NotFound("persistent disk %d not found", id)
	}
	return d, nil
}

// List returns the disks of one owner.
func (s *Service) List(ctx context.Context, ownerID int64) ([]Disk, error) {
	items, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Disk{}
	}
	return items, nil
}

// validateSize gates the requested size against the system setting.
func (s *Service) validateSize(ctx context.Context, size int) error {
	if size <= 0 {
		return apierror.Validation("persistent disk size must be a positive integer")
	}
	if limit := s.settings.GetInt(ctx, settings.PersistentDiskMaxSize); size > limit {
		return apierror.New(apierror.KindPDSizeLimit,
			"persistent disk size must not exceed %d GB", limit)
	}
	return nil
}

// Create allocates a new disk for (name, owner) and provisions it on the
// backend. A row in state DELETED for the pair is the replacement slot left
// by a previous delete: it is provisioned in place instead of erroring.
func (s *Service) Create(ctx context.Context, name string, ownerID int64, size int) (Disk, error) {
	if err := s.validateSize(ctx, size); err != nil {
		return Disk{}, err
	}

	existing, err := s.store.GetLive(ctx, name, ownerID)
	switch {
	case err == nil && existing.State == StateDeleted:
		// Reclaim the companion slot created by mark-todelete.
		return s.provision(ctx, existing, size)
	case err == nil:
		return Disk{}, apierror.New(apierror.KindDuplicateName,
			"persistent disk %q already exists", name)
	case !errors.Is(err, pgx.ErrNoRows):
		return Disk{}, err
	}

	d, err := s.store.Insert(ctx, Disk{
		DriveName: ComposeDriveName(name, ownerID),
		Name:      name,
		OwnerID:   ownerID,
		Size:      size,
		State:     StatePending,
	})
	if err != nil {
		return Disk{}, err
	}
	return s.provision(ctx, d, size)
}

// provision runs the backend create and finalizes the row. A backend failure
// removes a fresh PENDING row so no orphan is left behind; a DELETED
// companion row survives for the next attempt.
func (s *Service) provision(ctx context.Context, d Disk, size int) (Disk, error) {
	ref, err := s.backend.CreatePhysical(ctx, d.DriveName, size)
	if err != nil {
		telemetry.PDOperationsTotal.WithLabelValues(s.backend.Name(), "create", "error").Inc()
		if d.State == StatePending {
			if delErr := s.store.Delete(ctx, d.ID); delErr != nil {
				s.logger.Error("removing failed disk row", "drive", d.DriveName, "error", delErr)
			}
		}
		return Disk{}, apierror.New(apierror.KindInternal,
			"creating persistent disk %q: %v", d.Name, err)
	}
	telemetry.PDOperationsTotal.WithLabelValues(s.backend.Name(), "create", "success").Inc()

	if err := s.store.SetBackendRef(ctx, d.ID, ref); err != nil {
		return Disk{}, err
	}
	if d.Size != size {
		if _, err := s.pool.Exec(ctx,
			`UPDATE persistent_disks SET size = $2 WHERE id = $1`, d.ID, size); err != nil {
			return Disk{}, fmt.Errorf("updating disk size: %w", err)
		}
		d.Size = size
	}
	if err := s.store.SetState(ctx, d.ID, StateCreated); err != nil {
		return Disk{}, err
	}
	d.State = StateCreated
	d.BackendRef = ref

	if s.usage != nil {
		if err := s.usage.OpenPDState(ctx, d.ID, d.Name, d.Size); err != nil {
			s.logger.Warn("recording disk tenure start", "drive", d.DriveName, "error", err)
		}
	}
	return d, nil
}

// Ensure returns the live disk for (name, owner), creating it when absent.
// The pod controller calls this for every persistentDisk volume entry.
func (s *Service) Ensure(ctx context.Context, name string, ownerID int64, size int) (Disk, error) {
	existing, err := s.store.GetLive(ctx, name, ownerID)
	if err == nil && existing.State != StateDeleted {
		return existing, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Disk{}, err
	}
	return s.Create(ctx, name, ownerID, size)
}

// Attach binds a disk to a pod. Fails with PDIsUsed when already bound.
func (s *Service) Attach(ctx context.Context, diskID int64, podID uuid.UUID) error {
	ok, err := s.store.Attach(ctx, diskID, podID)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.New(apierror.KindPDIsUsed,
			"persistent disk %d is already used by another pod", diskID)
	}
	return nil
}

// Take binds every named disk to the pod in one transaction. The rows are
// locked FOR UPDATE; if any is bound to a different pod, nothing is taken.
func (s *Service) Take(ctx context.Context, podID uuid.UUID, driveNames []string) error {
	if len(driveNames) == 0 {
		return nil
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		disks, err := s.store.LockByDriveNames(ctx, tx, driveNames)
		if err != nil {
			return err
		}
		byDrive := make(map[string]Disk, len(disks))
		for _, d := range disks {
			byDrive[d.DriveName] = d
		}

		var free []int64
		for _, name := range driveNames {
			d, ok := byDrive[name]
			if !ok {
				return apierror.NotFound("persistent disk %q not found", name)
			}
			switch {
			case d.PodID == nil:
				free = append(free, d.ID)
			case *d.PodID == podID:
				// Already ours; nothing to do.
			default:
				return apierror.New(apierror.KindPDIsUsed,
					"persistent disk %q is used by another pod", d.Name)
			}
		}

		for _, id := range free {
			if _, err := tx.Exec(ctx,
				`UPDATE persistent_disks SET pod_id = $2 WHERE id = $1`, id, podID); err != nil {
				return fmt.Errorf("binding disk %d: %w", id, err)
			}
		}
		return nil
	})
}

// DetachAll releases every disk bound to the pod.
func (s *Service) DetachAll(ctx context.Context, podID uuid.UUID) error {
	return s.store.DetachAll(ctx, podID)
}

// ListByPod returns the disks bound to a pod.
func (s *Service) ListByPod(ctx context.Context, podID uuid.UUID) ([]Disk, error) {
	return s.store.ListByPod(ctx, podID)
}

// CanBeDeleted reports why a disk cannot be removed right now, or nil.
func (s *Service) CanBeDeleted(d Disk) error {
	if d.InUse() {
		return apierror.New(apierror.KindPDIsUsed,
			"persistent disk %q is bound to pod %s; unbind it first", d.Name, d.PodID)
	}
	if s.backend.NodeBound() && d.NodeID != nil {
		// A node-local drive can only be wiped where it lives; with the row
		// unbound this is always possible, so only report the location.
		s.logger.Debug("node-local disk delete", "drive", d.DriveName, "node", *d.NodeID)
	}
	return nil
}

// MarkToDelete retires a disk: the row keeps its physical drive for GC under
// a randomized user-visible name, and a companion row in state DELETED
// reclaims the (name, owner) slot with the next drive generation.
func (s *Service) MarkToDelete(ctx context.Context, diskID int64, callerID int64, isAdmin bool) (Disk, error) {
	d, err := s.Get(ctx, diskID, callerID, isAdmin)
	if err != nil {
		return Disk{}, err
	}
	if err := s.CanBeDeleted(d); err != nil {
		return Disk{}, err
	}

	var companion Disk
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		txStore := NewStore(tx)

		retiredName := d.Name + "_todelete_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
		if err := txStore.Rename(ctx, d.ID, retiredName, d.DriveName); err != nil {
			return err
		}
		if err := txStore.SetState(ctx, d.ID, StateToDelete); err != nil {
			return err
		}

		base := ComposeDriveName(d.Name, d.OwnerID)
		prev, err := txStore.MaxDriveGeneration(ctx, base)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			prev = base
		}

		companion, err = txStore.Insert(ctx, Disk{
			DriveName: NextDriveName(base, prev),
			Name:      d.Name,
			OwnerID:   d.OwnerID,
			Size:      d.Size,
			State:     StateDeleted,
		})
		return err
	})
	if err != nil {
		return Disk{}, err
	}

	s.logger.Info("disk marked for deletion",
		"drive", d.DriveName, "replacement", companion.DriveName)
	return companion, nil
}

// GC destroys the physical drives of every TODELETE disk. Backend failures
// leave the row in place for the next sweep.
func (s *Service) GC(ctx context.Context) error {
	disks, err := s.store.ListToDelete(ctx)
	if err != nil {
		return err
	}
	for _, d := range disks {
		if err := s.backend.DeletePhysical(ctx, d); err != nil {
			telemetry.PDOperationsTotal.WithLabelValues(s.backend.Name(), "delete", "error").Inc()
			s.logger.Warn("deleting physical drive, will retry",
				"drive", d.DriveName, "error", err)
			continue
		}
		telemetry.PDOperationsTotal.WithLabelValues(s.backend.Name(), "delete", "success").Inc()
		if s.usage != nil {
			if err := s.usage.ClosePDState(ctx, d.ID); err != nil {
				s.logger.Warn("recording disk tenure end", "drive", d.DriveName, "error", err)
			}
		}
		if err := s.store.Delete(ctx, d.ID); err != nil {
			s.logger.Error("removing garbage-collected disk row",
				"drive", d.DriveName, "error", err)
		}
	}
	return nil
}

// RunGC periodically sweeps TODELETE disks until ctx is cancelled. The Redis
// lock keeps concurrent workers from double-deleting.
func (s *Service) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l, err := s.locks.Acquire(ctx, gcLockName, interval)
			if err != nil {
				if !errors.Is(err, lock.ErrLocked) {
					s.logger.Warn("acquiring GC lock", "error", err)
				}
				continue
			}
			if err := s.GC(ctx); err != nil {
				s.logger.Error("persistent disk GC sweep", "error", err)
			}
			if err := s.locks.Release(ctx, l); err != nil && !errors.Is(err, lock.ErrNotHeld) {
				s.logger.Warn("releasing GC lock", "error", err)
			}
		}
	}
}
