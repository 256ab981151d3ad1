package events

import (
	"reflect"
	"testing"

	corev1 "k8s.io/api/core/v1"
)

func TestParsePublicIPState(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want PublicIPState
	}{
		{"empty", "", PublicIPState{}},
		{"malformed", "{not json", PublicIPState{}},
		{
			"assigned",
			`{"assigned-public-ip":"1.2.3.4","assigned-to":"node-1","assigned-pod-ip":"10.0.0.5"}`,
			PublicIPState{AssignedPublicIP: "1.2.3.4", AssignedTo: "node-1", AssignedPodIP: "10.0.0.5"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParsePublicIPState(tt.raw); got != tt.want {
				t.Errorf("ParsePublicIPState(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDecideMigration(t *testing.T) {
	assigned := PublicIPState{
		AssignedPublicIP: "1.2.3.4",
		AssignedTo:       "node-x",
		AssignedPodIP:    "10.0.0.5",
	}

	tests := []struct {
		name        string
		state       PublicIPState
		backends    []Backend
		wantActions []IPAction
		wantState   PublicIPState
		wantChanged bool
	}{
		{
			name:        "no public ip means nothing to do",
			state:       PublicIPState{},
			backends:    []Backend{{Node: "node-y", PodIP: "10.0.0.9"}},
			wantChanged: false,
		},
		{
			name:     "first assignment",
			state:    PublicIPState{AssignedPublicIP: "1.2.3.4"},
			backends: []Backend{{Node: "node-x", PodIP: "10.0.0.5"}},
			wantActions: []IPAction{
				{Op: "add", Node: "node-x", PublicIP: "1.2.3.4", PodIP: "10.0.0.5"},
			},
			wantState:   assigned,
			wantChanged: true,
		},
		{
			name:     "migration del on old then add on new",
			state:    assigned,
			backends: []Backend{{Node: "node-y", PodIP: "10.0.0.9"}},
			wantActions: []IPAction{
				{Op: "del", Node: "node-x", PublicIP: "1.2.3.4", PodIP: "10.0.0.5"},
				{Op: "add", Node: "node-y", PublicIP: "1.2.3.4", PodIP: "10.0.0.9"},
			},
			wantState: PublicIPState{
				AssignedPublicIP: "1.2.3.4",
				AssignedTo:       "node-y",
				AssignedPodIP:    "10.0.0.9",
			},
			wantChanged: true,
		},
		{
			name:        "same backend is stable",
			state:       assigned,
			backends:    []Backend{{Node: "node-x", PodIP: "10.0.0.5"}},
			wantChanged: false,
		},
		{
			name:     "empty subsets clear the binding",
			state:    assigned,
			backends: nil,
			wantActions: []IPAction{
				{Op: "del", Node: "node-x", PublicIP: "1.2.3.4", PodIP: "10.0.0.5"},
			},
			wantState:   PublicIPState{AssignedPublicIP: "1.2.3.4"},
			wantChanged: true,
		},
		{
			name:        "replica case out of scope",
			state:       assigned,
			backends:    []Backend{{Node: "node-a"}, {Node: "node-b"}},
			wantChanged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions, next, changed := DecideMigration(tt.state, tt.backends)
			if changed != tt.wantChanged {
				t.Fatalf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if !tt.wantChanged {
				return
			}
			if !reflect.DeepEqual(actions, tt.wantActions) {
				t.Errorf("actions = %+v, want %+v", actions, tt.wantActions)
			}
			if next != tt.wantState {
				t.Errorf("state = %+v, want %+v", next, tt.wantState)
			}
		})
	}
}

func TestEndpointBackends(t *testing.T) {
	node := "node-1"
	ep := &corev1.Endpoints{
		Subsets: []corev1.EndpointSubset{{
			Addresses: []corev1.EndpointAddress{
				{IP: "10.0.0.5", NodeName: &node},
				{IP: "10.0.0.6"},
			},
		}},
	}
	got := endpointBackends(ep)
	want := []Backend{{Node: "node-1", PodIP: "10.0.0.5"}, {PodIP: "10.0.0.6"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("endpointBackends() = %+v, want %+v", got, want)
	}
}
