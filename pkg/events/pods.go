package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/wisbric/kuberdock/internal/kube"
	"github.com/wisbric/kuberdock/internal/notify"
	"github.com/wisbric/kuberdock/internal/tasks"
	"github.com/wisbric/kuberdock/pkg/usage"
)

// podStateKey caches the last published state vector of one pod.
func podStateKey(podUID string) string {
	return "pod_state_" + podUID
}

// Interval is one container run extracted from a pod status.
type Interval struct {
	Container string
	DockerID  string
	Kubes     int
	Start     time.Time
	End       *time.Time
	ExitCode  *int
	Reason    *string
}

// trimRuntimePrefix strips the runtime scheme from a container id
// (docker://abc -> abc).
func trimRuntimePrefix(id string) string {
	if _, rest, ok := strings.Cut(id, "://"); ok {
		return rest
	}
	return id
}

// ContainerIntervals converts the container statuses of one pod event into
// timeline intervals. A DELETED event closes still-running containers at
// now, since no terminal status will follow.
func ContainerIntervals(kubesByName map[string]int, statuses []corev1.ContainerStatus, deleted bool, now time.Time) []Interval {
	var out []Interval
	for _, st := range statuses {
		iv := Interval{
			Container: st.Name,
			DockerID:  trimRuntimePrefix(st.ContainerID),
			Kubes:     kubesByName[st.Name],
		}
		switch {
		case st.State.Running != nil:
			iv.Start = st.State.Running.StartedAt.Time
			if deleted {
				end := now
				iv.End = &end
			}
		case st.State.Terminated != nil:
			t := st.State.Terminated
			iv.Start = t.StartedAt.Time
			if !t.FinishedAt.IsZero() {
				end := t.FinishedAt.Time
				iv.End = &end
			} else if deleted {
				end := now
				iv.End = &end
			}
			code := int(t.ExitCode)
			iv.ExitCode = &code
			if t.Reason != "" {
				reason := t.Reason
				iv.Reason = &reason
			}
		default:
			// Waiting containers have not run yet; nothing to record.
			continue
		}
		if iv.Start.IsZero() {
			continue
		}
		out = append(out, iv)
	}
	return out
}

// StateVector derives the published pod state: phase plus per-container
// readiness, order-independent. Publishing is suppressed while it is
// unchanged.
func StateVector(p *corev1.Pod) string {
	parts := make([]string, 0, len(p.Status.ContainerStatuses)+1)
	parts = append(parts, "phase="+string(p.Status.Phase))
	for _, st := range p.Status.ContainerStatuses {
		ready := "notready"
		if st.Ready {
			ready = "ready"
		}
		parts = append(parts, fmt.Sprintf("%s=%s/%d", st.Name, ready, st.RestartCount))
	}
	sort.Strings(parts[1:])
	return strings.Join(parts, ";")
}

func (r *Reconciler) handlePodEvent(ctx context.Context, ev watch.Event) error {
	k8sPod, ok := ev.Object.(*corev1.Pod)
	if !ok {
		return nil
	}
	if systemObjects[k8sPod.Name] {
		return nil
	}
	if ev.Type != watch.Modified && ev.Type != watch.Deleted {
		return nil
	}

	uid := k8sPod.Labels[kube.LabelPodUID]
	if uid == "" {
		return nil
	}
	podID, err := uuid.Parse(uid)
	if err != nil {
		return nil
	}

	row, err := r.pods.Get(ctx, podID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("pod event for unknown pod", "pod", uid)
			return nil
		}
		return err
	}

	kubesByName := map[string]int{}
	for _, c := range row.Config.Containers {
		kubesByName[c.Name] = c.Kubes
	}

	now := time.Now().UTC()
	deleted := ev.Type == watch.Deleted
	store := r.usage.Store()

	intervals := ContainerIntervals(kubesByName, k8sPod.Status.ContainerStatuses, deleted, now)
	for _, iv := range intervals {
		// Older open rows of the same container end where this one starts.
		if err := store.CloseOverlapping(ctx, podID, iv.Container, iv.Start); err != nil {
			return err
		}
		if err := store.UpsertContainerState(ctx, usage.ContainerState{
			PodID:     podID,
			Container: iv.Container,
			DockerID:  iv.DockerID,
			Kubes:     iv.Kubes,
			Start:     iv.Start,
			End:       iv.End,
			ExitCode:  iv.ExitCode,
			Reason:    iv.Reason,
		}); err != nil {
			return err
		}

		open, err := store.OpenContainerStates(ctx, podID, iv.Container)
		if err != nil {
			return err
		}
		if len(open) > 1 {
			// Corrupted timeline; hand the heavy repair to the job queue.
			r.scheduleTimelineFix(podID)
		}
	}

	if deleted {
		if err := store.CloseAllForPod(ctx, podID, now); err != nil {
			return err
		}
	}

	vector := StateVector(k8sPod)
	if deleted {
		vector = "deleted"
	}
	prev, err := r.rdb.GetSet(ctx, podStateKey(uid), vector).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warn("caching pod state vector", "pod", uid, "error", err)
	}
	if prev != vector {
		r.pub.Ping(ctx, notify.UserChannel(row.OwnerID), "pull_pods_state")
		if !deleted {
			r.dispatchLimits(ctx, k8sPod.Spec.NodeName, podID, runningLimits(intervals))
		}
	}
	return nil
}

// runningLimits collects the per-container kube counts of the still-open
// intervals, keyed by container name.
func runningLimits(intervals []Interval) map[string]int {
	var running map[string]int
	for _, iv := range intervals {
		if iv.End != nil {
			continue
		}
		if running == nil {
			running = map[string]int{}
		}
		running[iv.Container] = iv.Kubes
	}
	return running
}

// dispatchLimits hands the filesystem limits of freshly running containers to
// the node-side setter. Failures are logged: limits apply on the next state
// change and never block the timeline.
func (r *Reconciler) dispatchLimits(ctx context.Context, node string, podID uuid.UUID, containers map[string]int) {
	if len(containers) == 0 || node == "" {
		return
	}
	if err := r.limits.ApplyLimits(ctx, node, podID, containers); err != nil {
		r.logger.Warn("dispatching container limits",
			"node", node, "pod", podID, "error", err)
	}
}

func (r *Reconciler) scheduleTimelineFix(podID uuid.UUID) {
	r.queue.Submit(tasks.Job{
		Name: "fix_pods_timeline." + podID.String(),
		Run: func(ctx context.Context) error {
			return r.usage.FixTimeline(ctx, podID)
		},
	})
}
