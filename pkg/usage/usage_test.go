package usage

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func ts(minute int) time.Time {
	return time.Date(2026, 8, 1, 10, minute, 0, 0, time.UTC)
}

func tsp(minute int) *time.Time {
	t := ts(minute)
	return &t
}

func TestRepairPlan(t *testing.T) {
	pod := uuid.New()

	tests := []struct {
		name   string
		states []ContainerState
		want   map[int64]time.Time // row id -> corrected end
	}{
		{
			name: "clean timeline untouched",
			states: []ContainerState{
				{ID: 1, PodID: pod, Container: "web", Start: ts(0), End: tsp(5)},
				{ID: 2, PodID: pod, Container: "web", Start: ts(5), End: nil},
			},
			want: map[int64]time.Time{},
		},
		{
			name: "two open rows close the older at the newer start",
			states: []ContainerState{
				{ID: 1, PodID: pod, Container: "web", Start: ts(0), End: nil},
				{ID: 2, PodID: pod, Container: "web", Start: ts(5), End: nil},
			},
			want: map[int64]time.Time{1: ts(5)},
		},
		{
			name: "overlapping closed row trimmed",
			states: []ContainerState{
				{ID: 1, PodID: pod, Container: "web", Start: ts(0), End: tsp(8)},
				{ID: 2, PodID: pod, Container: "web", Start: ts(5), End: tsp(9)},
			},
			want: map[int64]time.Time{1: ts(5)},
		},
		{
			name: "containers repaired independently",
			states: []ContainerState{
				{ID: 1, PodID: pod, Container: "web", Start: ts(0), End: nil},
				{ID: 2, PodID: pod, Container: "db", Start: ts(1), End: nil},
				{ID: 3, PodID: pod, Container: "web", Start: ts(5), End: nil},
			},
			want: map[int64]time.Time{1: ts(5)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixes := RepairPlan(tt.states)
			if len(fixes) != len(tt.want) {
				t.Fatalf("RepairPlan() fixed %d rows, want %d: %+v", len(fixes), len(tt.want), fixes)
			}
			for id, wantEnd := range tt.want {
				fixed, ok := fixes[id]
				if !ok {
					t.Fatalf("row %d not in plan", id)
				}
				if fixed.End == nil || !fixed.End.Equal(wantEnd) {
					t.Errorf("row %d end = %v, want %v", id, fixed.End, wantEnd)
				}
			}
		})
	}
}

func TestRepairPlan_Idempotent(t *testing.T) {
	pod := uuid.New()
	states := []ContainerState{
		{ID: 1, PodID: pod, Container: "web", Start: ts(0), End: nil},
		{ID: 2, PodID: pod, Container: "web", Start: ts(5), End: nil},
	}

	first := RepairPlan(states)
	// Apply the plan, then re-run: no further fixes.
	for i := range states {
		if fixed, ok := first[states[i].ID]; ok {
			states[i].End = fixed.End
		}
	}
	if second := RepairPlan(states); len(second) != 0 {
		t.Errorf("second RepairPlan() = %+v, want empty", second)
	}
}
