// Package node keeps the registry of worker nodes known to the control
// plane. Install orchestration happens elsewhere; this registry tracks the
// row (hostname, ip, kube type, state) and surfaces the live Kubernetes
// condition on reads.
package node

import (
	"time"

	corev1 "k8s.io/api/core/v1"
)

// Node states.
const (
	StatePending  = "pending"
	StateRunning  = "running"
	StateTroubles = "troubles"
)

// Node is one registered worker.
type Node struct {
	ID        int64     `json:"id"`
	Hostname  string    `json:"hostname"`
	IP        string    `json:"ip"`
	KubeType  int       `json:"kube_type"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`

	// Resources mirrors the live Kubernetes view; empty when the node has
	// not joined the cluster yet.
	Status    string            `json:"status"`
	Resources map[string]string `json:"resources,omitempty"`
}

// LiveStatus derives the registry status from the Kubernetes node
// conditions: Ready=True means running, anything else is troubles.
func LiveStatus(n *corev1.Node) string {
	for _, c := range n.Status.Conditions {
		if c.Type == corev1.NodeReady {
			if c.Status == corev1.ConditionTrue {
				return StateRunning
			}
			return StateTroubles
		}
	}
	return StateTroubles
}

// LiveResources flattens allocatable capacity into a string map.
func LiveResources(n *corev1.Node) map[string]string {
	if len(n.Status.Allocatable) == 0 {
		return nil
	}
	out := make(map[string]string, len(n.Status.Allocatable))
	for name, q := range n.Status.Allocatable {
		out[string(name)] = q.String()
	}
	return out
}
