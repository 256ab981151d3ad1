package usage

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/wisbric/kuberdock/internal/db"
)

// Service wraps the usage store with the timeline repair job.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a usage Service.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), logger: logger}
}

// Store exposes the underlying store to the reconciler.
func (s *Service) Store() *Store {
	return s.store
}

// ReportForUser assembles one user's usage report.
func (s *Service) ReportForUser(ctx context.Context, userID int64) (Report, error) {
	return s.store.ReportForUser(ctx, userID)
}

// RepairPlan computes the end-time rewrites needed to restore the
// no-overlap, at-most-one-open invariant on a timeline. Rows must be sorted
// by (container, start); the plan maps row id to the corrected end.
func RepairPlan(states []ContainerState) map[int64]ContainerState {
	sorted := make([]ContainerState, len(states))
	copy(sorted, states)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Container != sorted[j].Container {
			return sorted[i].Container < sorted[j].Container
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	fixes := map[int64]ContainerState{}
	for i := 0; i < len(sorted); i++ {
		cur := sorted[i]
		if i+1 >= len(sorted) || sorted[i+1].Container != cur.Container {
			continue
		}
		next := sorted[i+1]
		// An open or over-running interval must close at its successor's
		// start.
		if cur.End == nil || cur.End.After(next.Start) {
			start := next.Start
			cur.End = &start
			fixes[cur.ID] = cur
		}
	}
	return fixes
}

// FixTimeline rewrites a pod's container timeline so intervals never overlap
// and only the newest row per container stays open. Scheduled by the
// reconciler when it detects corruption.
func (s *Service) FixTimeline(ctx context.Context, podID uuid.UUID) error {
	states, err := s.store.ListContainerStatesByPod(ctx, podID)
	if err != nil {
		return err
	}
	fixes := RepairPlan(states)
	for id, fixed := range fixes {
		if err := s.store.SetContainerStateEnd(ctx, id, fixed.End); err != nil {
			return err
		}
	}
	if len(fixes) > 0 {
		s.logger.Info("repaired container timeline", "pod", podID, "rows", len(fixes))
	}
	return nil
}
