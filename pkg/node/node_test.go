package node

import (
	"testing"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

func TestLiveStatus(t *testing.T) {
	tests := []struct {
		name       string
		conditions []corev1.NodeCondition
		want       string
	}{
		{
			"ready node runs",
			[]corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionTrue}},
			StateRunning,
		},
		{
			"not ready is troubles",
			[]corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionFalse}},
			StateTroubles,
		},
		{
			"unknown readiness is troubles",
			[]corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionUnknown}},
			StateTroubles,
		},
		{
			"missing ready condition is troubles",
			[]corev1.NodeCondition{{Type: corev1.NodeMemoryPressure, Status: corev1.ConditionFalse}},
			StateTroubles,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &corev1.Node{Status: corev1.NodeStatus{Conditions: tt.conditions}}
			if got := LiveStatus(n); got != tt.want {
				t.Errorf("LiveStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLiveResources(t *testing.T) {
	n := &corev1.Node{Status: corev1.NodeStatus{
		Allocatable: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse("4"),
			corev1.ResourceMemory: resource.MustParse("8Gi"),
		},
	}}
	got := LiveResources(n)
	if got["cpu"] != "4" || got["memory"] != "8Gi" {
		t.Errorf("LiveResources() = %v", got)
	}

	if LiveResources(&corev1.Node{}) != nil {
		t.Error("LiveResources() on an empty node must be nil")
	}
}
