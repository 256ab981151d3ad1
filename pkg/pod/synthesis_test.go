package pod

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"

	"github.com/wisbric/kuberdock/internal/kube"
	"github.com/wisbric/kuberdock/pkg/billing"
	"github.com/wisbric/kuberdock/pkg/ippool"
)

func testInput() SynthesisInput {
	hostPort := 8080
	return SynthesisInput{
		Pod: Pod{
			ID:      uuid.MustParse("11111111-2222-3333-4444-555555555555"),
			Sid:     "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
			Name:    "web",
			OwnerID: 7,
			Config: Spec{
				Name:          "web",
				RestartPolicy: "Always",
				KubeType:      1,
				Containers: []Container{{
					Name:  "nginx",
					Image: "nginx",
					Kubes: 2,
					Ports: []Port{
						{ContainerPort: 80, IsPublic: true, Protocol: "tcp"},
						{ContainerPort: 443, HostPort: &hostPort},
					},
				}},
			},
		},
		Kube:             billing.Kube{ID: 1, CPU: 0.25, Memory: 128},
		CPUMultiplier:    8,
		MemoryMultiplier: 4,
		Mode:             ippool.ModeFloating,
	}
}

func TestBuildRC(t *testing.T) {
	in := testInput()
	in.PublicIP = "192.168.1.5"

	rc, err := BuildRC(in)
	if err != nil {
		t.Fatalf("BuildRC() error = %v", err)
	}

	if rc.Name != in.Pod.Sid {
		t.Errorf("RC name = %q, want sid %q", rc.Name, in.Pod.Sid)
	}
	if rc.Namespace != in.Pod.ID.String() {
		t.Errorf("RC namespace = %q, want pod id", rc.Namespace)
	}
	if got := rc.Spec.Selector[kube.LabelPodUID]; got != in.Pod.ID.String() {
		t.Errorf("selector pod uid = %q, want %q", got, in.Pod.ID)
	}

	tpl := rc.Spec.Template
	if got := tpl.Labels[kube.LabelUserUID]; got != "7" {
		t.Errorf("owner label = %q, want 7", got)
	}
	if got := tpl.Labels[kube.LabelPublicIP]; got != "192.168.1.5" {
		t.Errorf("public ip label = %q", got)
	}

	var ports map[string][]portAnnotation
	if err := json.Unmarshal([]byte(tpl.Annotations[kube.AnnotationPodPorts]), &ports); err != nil {
		t.Fatalf("decoding port annotation: %v", err)
	}
	anns := ports["nginx"]
	if len(anns) != 2 || !anns[0].IsPublic || anns[1].IsPublic {
		t.Errorf("port annotation = %+v, want isPublic only on port 80", anns)
	}

	c := tpl.Spec.Containers[0]
	if c.ImagePullPolicy != corev1.PullAlways {
		t.Errorf("imagePullPolicy = %q, want Always", c.ImagePullPolicy)
	}
	if c.Ports[0].Protocol != corev1.ProtocolTCP {
		t.Errorf("protocol = %q, want TCP", c.Ports[0].Protocol)
	}
	// hostPort is stripped for regular users.
	if c.Ports[1].HostPort != 0 {
		t.Errorf("hostPort = %d, want stripped", c.Ports[1].HostPort)
	}

	cpu := c.Resources.Requests[corev1.ResourceCPU]
	if cpu.MilliValue() != 500 {
		t.Errorf("cpu request = %dm, want 500m", cpu.MilliValue())
	}
	cpuLimit := c.Resources.Limits[corev1.ResourceCPU]
	if cpuLimit.MilliValue() != 4000 {
		t.Errorf("cpu limit = %dm, want 4000m", cpuLimit.MilliValue())
	}
	mem := c.Resources.Requests[corev1.ResourceMemory]
	if mem.Value() != 2*128*1024*1024 {
		t.Errorf("memory request = %d, want 256Mi", mem.Value())
	}

	if got := tpl.Spec.NodeSelector[kube.LabelKubeType]; got != "type_1" {
		t.Errorf("kube-type selector = %q, want type_1", got)
	}
}

func TestBuildRC_InternalKeepsHostPorts(t *testing.T) {
	in := testInput()
	in.Internal = true
	in.Kube.ID = billing.InternalKubeID

	rc, err := BuildRC(in)
	if err != nil {
		t.Fatalf("BuildRC() error = %v", err)
	}
	c := rc.Spec.Template.Spec.Containers[0]
	if c.Ports[1].HostPort != 8080 {
		t.Errorf("hostPort = %d, want 8080 kept for the internal user", c.Ports[1].HostPort)
	}
	// Internal pods are not pinned to a kube-type node class.
	if _, ok := rc.Spec.Template.Spec.NodeSelector[kube.LabelKubeType]; ok {
		t.Error("internal pod got a kube-type node selector")
	}
}

func TestBuildRC_PinnedNode(t *testing.T) {
	in := testInput()
	node := "node-1"
	in.Pod.PinnedNode = &node

	rc, err := BuildRC(in)
	if err != nil {
		t.Fatalf("BuildRC() error = %v", err)
	}
	if got := rc.Spec.Template.Spec.NodeSelector[kube.LabelNodeHostname]; got != "node-1" {
		t.Errorf("node selector = %q, want node-1", got)
	}
}

func TestBuildRC_MountHookGetsSysAdmin(t *testing.T) {
	in := testInput()
	in.Pod.Config.Containers[0].Lifecycle = &Lifecycle{
		PostStart: []string{"/bin/sh", "-c", "mount -t tmpfs tmpfs /scratch"},
	}

	rc, err := BuildRC(in)
	if err != nil {
		t.Fatalf("BuildRC() error = %v", err)
	}
	c := rc.Spec.Template.Spec.Containers[0]
	if c.SecurityContext == nil || len(c.SecurityContext.Capabilities.Add) != 1 ||
		c.SecurityContext.Capabilities.Add[0] != "SYS_ADMIN" {
		t.Errorf("SecurityContext = %+v, want SYS_ADMIN capability", c.SecurityContext)
	}
}

func TestBuildRC_RBDMountRelabel(t *testing.T) {
	in := testInput()
	in.Pod.Config.Volumes = []Volume{{Name: "data", PersistentDisk: &PersistentDiskRef{PDName: "data"}}}
	in.Pod.Config.Containers[0].VolumeMounts = []VolumeMount{{Name: "data", MountPath: "/data"}}
	in.RBDVolumes = map[string]bool{"data": true}

	rc, err := BuildRC(in)
	if err != nil {
		t.Fatalf("BuildRC() error = %v", err)
	}
	mount := rc.Spec.Template.Spec.Containers[0].VolumeMounts[0]
	if mount.MountPath != "/data:Z" {
		t.Errorf("mountPath = %q, want /data:Z", mount.MountPath)
	}
}

func TestPortName(t *testing.T) {
	tests := []struct {
		ci, pi int
		public bool
		want   string
	}{
		{0, 0, false, "c0-p0"},
		{1, 2, true, "c1-p2-public"},
	}
	for _, tt := range tests {
		if got := PortName(tt.ci, tt.pi, tt.public); got != tt.want {
			t.Errorf("PortName(%d, %d, %v) = %q, want %q", tt.ci, tt.pi, tt.public, got, tt.want)
		}
	}
}

func TestBuildService(t *testing.T) {
	in := testInput()
	in.PublicIP = "192.168.1.5"

	svc := BuildService(in)
	if svc == nil {
		t.Fatal("BuildService() = nil for a pod with ports")
	}
	if svc.Spec.Type != corev1.ServiceTypeClusterIP {
		t.Errorf("service type = %q, want ClusterIP", svc.Spec.Type)
	}
	if len(svc.Spec.ExternalIPs) != 1 || svc.Spec.ExternalIPs[0] != "192.168.1.5" {
		t.Errorf("externalIPs = %v", svc.Spec.ExternalIPs)
	}
	if got := svc.Spec.Selector[kube.LabelPodUID]; got != in.Pod.ID.String() {
		t.Errorf("service selector = %q", got)
	}
	if svc.Spec.Ports[0].Name != "c0-p0-public" {
		t.Errorf("port name = %q, want c0-p0-public", svc.Spec.Ports[0].Name)
	}
}

func TestBuildService_AWSMode(t *testing.T) {
	in := testInput()
	in.Mode = ippool.ModeAWS

	svc := BuildService(in)
	if svc == nil {
		t.Fatal("BuildService() = nil")
	}
	if svc.Spec.Type != corev1.ServiceTypeLoadBalancer {
		t.Errorf("service type = %q, want LoadBalancer in aws mode", svc.Spec.Type)
	}
	if len(svc.Spec.ExternalIPs) != 0 {
		t.Errorf("externalIPs = %v, want none in aws mode", svc.Spec.ExternalIPs)
	}
}

func TestBuildService_NoPorts(t *testing.T) {
	in := testInput()
	in.Pod.Config.Containers[0].Ports = nil
	if svc := BuildService(in); svc != nil {
		t.Errorf("BuildService() = %+v, want nil for a portless pod", svc)
	}
}
