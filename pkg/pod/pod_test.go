package pod

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/wisbric/kuberdock/internal/apierror"
)

func validSpec() Spec {
	return Spec{
		Name:          "web",
		RestartPolicy: "Always",
		KubeType:      0,
		Containers: []Container{
			{
				Name:  "nginx",
				Image: "nginx",
				Kubes: 2,
				Ports: []Port{{ContainerPort: 80, IsPublic: true}},
			},
		},
	}
}

func TestValidateSpec(t *testing.T) {
	limits := Limits{MaxKubesPerContainer: 10}

	tests := []struct {
		name    string
		mutate  func(*Spec)
		wantErr bool
	}{
		{"valid", func(s *Spec) {}, false},
		{"empty name", func(s *Spec) { s.Name = "" }, true},
		{"name at 63 chars", func(s *Spec) { s.Name = strings.Repeat("a", 63) }, false},
		{"name at 64 chars", func(s *Spec) { s.Name = strings.Repeat("a", 64) }, true},
		{"bad restart policy", func(s *Spec) { s.RestartPolicy = "Sometimes" }, true},
		{"no containers", func(s *Spec) { s.Containers = nil }, true},
		{"kubes at limit", func(s *Spec) { s.Containers[0].Kubes = 10 }, false},
		{"kubes over limit", func(s *Spec) { s.Containers[0].Kubes = 11 }, true},
		{"zero kubes", func(s *Spec) { s.Containers[0].Kubes = 0 }, true},
		{"port out of range", func(s *Spec) { s.Containers[0].Ports[0].ContainerPort = 70000 }, true},
		{"bad protocol", func(s *Spec) { s.Containers[0].Ports[0].Protocol = "icmp" }, true},
		{"lowercase tcp accepted", func(s *Spec) { s.Containers[0].Ports[0].Protocol = "tcp" }, false},
		{
			"unknown mounted volume",
			func(s *Spec) {
				s.Containers[0].VolumeMounts = []VolumeMount{{Name: "data", MountPath: "/data"}}
			},
			true,
		},
		{
			"duplicate container names",
			func(s *Spec) {
				s.Containers = append(s.Containers, s.Containers[0])
			},
			true,
		},
		{
			"volume with both sources",
			func(s *Spec) {
				s.Volumes = []Volume{{
					Name:           "data",
					PersistentDisk: &PersistentDiskRef{PDName: "data"},
					LocalStorage:   true,
				}}
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			err := ValidateSpec(&spec, limits)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSpec() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSpec_RestrictedPublicPort(t *testing.T) {
	limits := Limits{
		MaxKubesPerContainer: 10,
		RestrictedPort: func(port int, protocol string) bool {
			return port == 25 && protocol == "TCP"
		},
	}

	spec := validSpec()
	spec.Containers[0].Ports = []Port{{ContainerPort: 25, IsPublic: true}}
	if err := ValidateSpec(&spec, limits); err == nil {
		t.Error("ValidateSpec() accepted a restricted public port")
	}

	// The same port privately is fine.
	spec.Containers[0].Ports[0].IsPublic = false
	if err := ValidateSpec(&spec, limits); err != nil {
		t.Errorf("ValidateSpec() rejected a restricted private port: %v", err)
	}
}

func TestSpecKubeCount(t *testing.T) {
	s := Spec{Containers: []Container{{Kubes: 2}, {Kubes: 3}}}
	if got := s.KubeCount(); got != 5 {
		t.Errorf("KubeCount() = %d, want 5", got)
	}
}

func TestSpecPersistentDisks_DropsUnmounted(t *testing.T) {
	s := Spec{
		Containers: []Container{{
			Name:         "app",
			VolumeMounts: []VolumeMount{{Name: "data", MountPath: "/data"}},
		}},
		Volumes: []Volume{
			{Name: "data", PersistentDisk: &PersistentDiskRef{PDName: "data", PDSize: 1}},
			{Name: "orphan", PersistentDisk: &PersistentDiskRef{PDName: "orphan", PDSize: 1}},
		},
	}
	refs := s.PersistentDisks()
	if len(refs) != 1 || refs[0].PDName != "data" {
		t.Errorf("PersistentDisks() = %v, want only the mounted disk", refs)
	}
}

func TestTombstoneName(t *testing.T) {
	a := TombstoneName("web")
	b := TombstoneName("web")
	if !strings.HasPrefix(a, "web__") || len(a) != len("web__")+8 {
		t.Errorf("TombstoneName(web) = %q, want web__ plus 8 chars", a)
	}
	if a == b {
		t.Error("TombstoneName() is not randomized")
	}
}

func TestSpecJSONRoundTrip_PreservesExtra(t *testing.T) {
	raw := []byte(`{
		"name": "web",
		"kube_type": 1,
		"containers": [{"name": "nginx", "image": "nginx", "kubes": 1}],
		"postDescription": "legacy field",
		"replicas": 1
	}`)

	var s Spec
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s.Name != "web" || s.KubeType != 1 {
		t.Fatalf("typed fields lost: %+v", s)
	}
	if _, ok := s.Extra["postDescription"]; !ok {
		t.Fatal("unknown field postDescription was dropped")
	}

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatal(err)
	}
	if string(decoded["postDescription"]) != `"legacy field"` {
		t.Errorf("postDescription did not round-trip: %s", decoded["postDescription"])
	}
	if string(decoded["replicas"]) != "1" {
		t.Errorf("replicas did not round-trip: %s", decoded["replicas"])
	}
}

func TestSetPostDescription(t *testing.T) {
	var s Spec
	s.SetPostDescription("managed by billing")
	s.SetPostDescription("plan upgraded")

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatal(err)
	}
	if string(decoded["postDescription"]) != `"plan upgraded"` {
		t.Errorf("postDescription = %s, want the last value set", decoded["postDescription"])
	}
}

func TestSetRejectsWipeOutWithoutStopTransition(t *testing.T) {
	tests := []struct {
		name   string
		status string
	}{
		{"no status change", ""},
		{"running", StatusRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &Service{}
			_, err := svc.set(context.Background(), Pod{}, CommandOptions{
				WipeOut: true,
				Status:  tt.status,
			})
			apiErr := apierror.From(err)
			if apiErr == nil || apiErr.Kind != apierror.KindValidation {
				t.Fatalf("set() error = %v, want a validation error", err)
			}
		})
	}
}

func TestWantsPublicIP(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want bool
	}{
		{"public port", validSpec(), true},
		{
			"no public ports",
			Spec{Containers: []Container{{Ports: []Port{{ContainerPort: 80}}}}},
			false,
		},
		{
			"explicit flag",
			Spec{SetPublicIP: true, Containers: []Container{{}}},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.WantsPublicIP(); got != tt.want {
				t.Errorf("WantsPublicIP() = %v, want %v", got, tt.want)
			}
		})
	}
}
