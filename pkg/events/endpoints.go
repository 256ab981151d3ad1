package events

import (
	"context"
	"encoding/json"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/kube"
)

// PublicIPState is the service annotation tracking where a public address is
// currently wired.
type PublicIPState struct {
	AssignedPublicIP string `json:"assigned-public-ip"`
	AssignedTo       string `json:"assigned-to,omitempty"`
	AssignedPodIP    string `json:"assigned-pod-ip,omitempty"`
}

// ParsePublicIPState decodes the annotation; an empty or malformed value is
// an unassigned state.
func ParsePublicIPState(raw string) PublicIPState {
	var s PublicIPState
	if raw == "" {
		return s
	}
	_ = json.Unmarshal([]byte(raw), &s)
	return s
}

// Encode renders the state back into annotation form.
func (s PublicIPState) Encode() string {
	raw, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Backend is one endpoint address: the node hosting the backing pod and the
// pod's cluster IP.
type Backend struct {
	Node  string
	PodIP string
}

// IPAction is one node-rule change.
type IPAction struct {
	Op       string // "add" or "del"
	Node     string
	PublicIP string
	PodIP    string
}

// DecideMigration compares the annotation state against the live endpoint
// backends and returns the rule changes plus the updated state. More than
// one backend is the replica case, out of scope for the binding.
func DecideMigration(state PublicIPState, backends []Backend) ([]IPAction, PublicIPState, bool) {
	if state.AssignedPublicIP == "" {
		return nil, state, false
	}

	switch len(backends) {
	case 0:
		if state.AssignedTo == "" {
			return nil, state, false
		}
		actions := []IPAction{{
			Op: "del", Node: state.AssignedTo,
			PublicIP: state.AssignedPublicIP, PodIP: state.AssignedPodIP,
		}}
		state.AssignedTo = ""
		state.AssignedPodIP = ""
		return actions, state, true

	case 1:
		b := backends[0]
		if state.AssignedTo == b.Node && state.AssignedPodIP == b.PodIP {
			return nil, state, false
		}
		var actions []IPAction
		if state.AssignedTo != "" {
			actions = append(actions, IPAction{
				Op: "del", Node: state.AssignedTo,
				PublicIP: state.AssignedPublicIP, PodIP: state.AssignedPodIP,
			})
		}
		actions = append(actions, IPAction{
			Op: "add", Node: b.Node,
			PublicIP: state.AssignedPublicIP, PodIP: b.PodIP,
		})
		state.AssignedTo = b.Node
		state.AssignedPodIP = b.PodIP
		return actions, state, true

	default:
		return nil, state, false
	}
}

// endpointBackends flattens the subsets into (node, pod ip) pairs.
func endpointBackends(ep *corev1.Endpoints) []Backend {
	var out []Backend
	for _, subset := range ep.Subsets {
		for _, addr := range subset.Addresses {
			b := Backend{PodIP: addr.IP}
			if addr.NodeName != nil {
				b.Node = *addr.NodeName
			}
			out = append(out, b)
		}
	}
	return out
}

func (r *Reconciler) handleEndpointsEvent(ctx context.Context, ev watch.Event) error {
	ep, ok := ev.Object.(*corev1.Endpoints)
	if !ok {
		return nil
	}
	if systemObjects[ep.Name] {
		return nil
	}
	if ev.Type != watch.Modified && ev.Type != watch.Added {
		return nil
	}

	svc, err := r.cluster.GetService(ctx, ep.Namespace, ep.Name)
	if err != nil {
		if apiErr := apierror.From(err); apiErr != nil && apiErr.Kind == apierror.KindNotFound {
			return nil
		}
		return err
	}

	state := ParsePublicIPState(svc.Annotations[kube.AnnotationPublicIPState])
	actions, next, changed := DecideMigration(state, endpointBackends(ep))
	if !changed {
		return nil
	}

	for _, a := range actions {
		if err := r.nodeIPs.ModifyNodeIPs(ctx, a.Node, a.Op, a.PublicIP, a.PodIP); err != nil {
			return err
		}
	}

	// The annotation write retries once on a stale resourceVersion; a second
	// conflict is logged and dropped — the next endpoints event converges.
	err = r.cluster.UpdateServiceAnnotation(ctx, ep.Namespace, svc.Name,
		kube.AnnotationPublicIPState, next.Encode())
	if err != nil {
		r.logger.Warn("updating public-ip-state annotation, dropping event",
			"service", ep.Namespace+"/"+ep.Name, "error", err)
	}
	return nil
}
