package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/wisbric/kuberdock/internal/notify"
)

// nodeStateKey caches the last published condition vector of one node.
func nodeStateKey(name string) string {
	return "node_state_" + name
}

// NodeStateVector derives the published node state from its condition list,
// order-independent.
func NodeStateVector(n *corev1.Node) string {
	parts := make([]string, 0, len(n.Status.Conditions))
	for _, c := range n.Status.Conditions {
		parts = append(parts, fmt.Sprintf("%s=%s", c.Type, c.Status))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

func (r *Reconciler) handleNodeEvent(ctx context.Context, ev watch.Event) error {
	node, ok := ev.Object.(*corev1.Node)
	if !ok {
		return nil
	}

	vector := NodeStateVector(node)
	if ev.Type == watch.Deleted {
		vector = "deleted"
	}

	prev, err := r.rdb.GetSet(ctx, nodeStateKey(node.Name), vector).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warn("caching node state vector", "node", node.Name, "error", err)
	}
	if prev != vector {
		r.pub.Ping(ctx, notify.ChannelCommon, "pull_nodes_state")
	}
	return nil
}
