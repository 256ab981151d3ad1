// Package events is the reconciler: three supervised watchers over the
// Kubernetes pods, endpoints, and nodes streams that project cluster state
// back into the database and notify SSE subscribers. The loops are
// idempotent by construction — they may observe the database before or after
// a command handler's commit and must converge either way.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/wisbric/kuberdock/internal/kube"
	"github.com/wisbric/kuberdock/internal/notify"
	"github.com/wisbric/kuberdock/internal/tasks"
	"github.com/wisbric/kuberdock/pkg/pod"
	"github.com/wisbric/kuberdock/pkg/usage"
)

// systemObjects are cluster-owned names every watcher skips.
var systemObjects = map[string]bool{
	"kubernetes":    true,
	"kubernetes-ro": true,
}

// NodeIPManager applies public-IP forwarding rules on cluster nodes. The
// actual rule plumbing runs on the nodes themselves (an external
// collaborator); implementations here only dispatch the request.
type NodeIPManager interface {
	ModifyNodeIPs(ctx context.Context, node, op, publicIP, podIP string) error
}

// LoggingNodeIPs is the default NodeIPManager: it records the requested
// change and trusts the node agent to pick it up from the service
// annotation.
type LoggingNodeIPs struct {
	Logger *slog.Logger
}

// ModifyNodeIPs logs the dispatch.
func (l *LoggingNodeIPs) ModifyNodeIPs(_ context.Context, node, op, publicIP, podIP string) error {
	l.Logger.Info("node IP rule change dispatched",
		"node", node, "op", op, "public_ip", publicIP, "pod_ip", podIP)
	return nil
}

// ContainerLimits applies per-container filesystem limits where a container
// has started running. The setter itself runs node-side (an external
// collaborator); implementations here only dispatch the request.
type ContainerLimits interface {
	ApplyLimits(ctx context.Context, node string, podID uuid.UUID, containers map[string]int) error
}

// LoggingContainerLimits is the default ContainerLimits: it records the
// dispatch and trusts the node agent to enforce the limits.
type LoggingContainerLimits struct {
	Logger *slog.Logger
}

// ApplyLimits logs the dispatch.
func (l *LoggingContainerLimits) ApplyLimits(_ context.Context, node string, podID uuid.UUID, containers map[string]int) error {
	l.Logger.Info("container limits dispatched",
		"node", node, "pod", podID, "containers", len(containers))
	return nil
}

// Reconciler hosts the three watch loops.
type Reconciler struct {
	cluster *kube.Client
	pods    *pod.Store
	usage   *usage.Service
	rdb     *redis.Client
	pub     *notify.Publisher
	queue   *tasks.Queue
	nodeIPs NodeIPManager
	limits  ContainerLimits
	logger  *slog.Logger
}

// NewReconciler wires the reconciler. nodeIPs and limits fall back to their
// logging dispatchers when nil.
func NewReconciler(cluster *kube.Client, pods *pod.Store, usageSvc *usage.Service,
	rdb *redis.Client, pub *notify.Publisher, queue *tasks.Queue,
	nodeIPs NodeIPManager, limits ContainerLimits, logger *slog.Logger) *Reconciler {
	if nodeIPs == nil {
		nodeIPs = &LoggingNodeIPs{Logger: logger}
	}
	if limits == nil {
		limits = &LoggingContainerLimits{Logger: logger}
	}
	return &Reconciler{
		cluster: cluster,
		pods:    pods,
		usage:   usageSvc,
		rdb:     rdb,
		pub:     pub,
		queue:   queue,
		nodeIPs: nodeIPs,
		limits:  limits,
		logger:  logger,
	}
}

// Run starts the three watchers and blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	clientset := r.cluster.Clientset()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		kube.RunWatch(ctx, r.logger, "pods",
			func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
				return clientset.CoreV1().Pods(metav1.NamespaceAll).Watch(ctx, opts)
			},
			r.notifyOnError("pods", r.handlePodEvent))
	}()
	go func() {
		defer wg.Done()
		kube.RunWatch(ctx, r.logger, "endpoints",
			func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
				return clientset.CoreV1().Endpoints(metav1.NamespaceAll).Watch(ctx, opts)
			},
			r.notifyOnError("endpoints", r.handleEndpointsEvent))
	}()
	go func() {
		defer wg.Done()
		kube.RunWatch(ctx, r.logger, "nodes",
			func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
				return clientset.CoreV1().Nodes().Watch(ctx, opts)
			},
			r.notifyOnError("nodes", r.handleNodeEvent))
	}()

	wg.Wait()
}

// notifyOnError reports handler failures to administrators. The event itself
// is not retried; the next cluster state change replays the information.
func (r *Reconciler) notifyOnError(stream string, handle kube.EventHandler) kube.EventHandler {
	return func(ctx context.Context, ev watch.Event) error {
		err := handle(ctx, ev)
		if err != nil {
			r.pub.AdminError(ctx, fmt.Sprintf("%s watcher: %v", stream, err))
		}
		return err
	}
}
