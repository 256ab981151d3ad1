package pod

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/wisbric/kuberdock/internal/kube"
	"github.com/wisbric/kuberdock/pkg/billing"
	"github.com/wisbric/kuberdock/pkg/ippool"
)

// SynthesisInput carries everything needed to materialize the Kubernetes
// objects for one pod. Volumes arrive already rewritten by the PD backend;
// RBDVolumes names the ones that need SELinux relabeling.
type SynthesisInput struct {
	Pod              Pod
	Kube             billing.Kube
	CPUMultiplier    int
	MemoryMultiplier int
	// Internal pods keep their hostPorts and are exempt from kube-type
	// node pinning.
	Internal   bool
	PublicIP   string
	Mode       string
	Volumes    []corev1.Volume
	RBDVolumes map[string]bool
}

// portAnnotation is the wire form stored under kuberdock-pod-ports: the
// user's port list with isPublic, which the k8s spec cannot carry.
type portAnnotation struct {
	Name          string `json:"name"`
	ContainerPort int    `json:"containerPort"`
	HostPort      *int   `json:"hostPort,omitempty"`
	Protocol      string `json:"protocol"`
	IsPublic      bool   `json:"isPublic"`
}

// BuildRC materializes the ReplicationController for a pod. The RC is named
// by the pod's sid; the selector and labels key on the pod uid so services
// and watchers find it regardless of redeploys.
func BuildRC(in SynthesisInput) (*corev1.ReplicationController, error) {
	p := in.Pod
	selector := map[string]string{kube.LabelPodUID: p.ID.String()}

	labels := map[string]string{
		kube.LabelPodUID:  p.ID.String(),
		kube.LabelUserUID: strconv.FormatInt(p.OwnerID, 10),
	}
	if in.PublicIP != "" {
		labels[kube.LabelPublicIP] = in.PublicIP
	}

	annotations, err := buildAnnotations(&p.Config)
	if err != nil {
		return nil, err
	}

	containers := make([]corev1.Container, 0, len(p.Config.Containers))
	for ci := range p.Config.Containers {
		c, err := buildContainer(&p.Config.Containers[ci], ci, in)
		if err != nil {
			return nil, err
		}
		containers = append(containers, c)
	}

	restartPolicy := p.Config.RestartPolicy
	if restartPolicy == "" {
		restartPolicy = "Always"
	}

	replicas := int32(1)
	rc := &corev1.ReplicationController{
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.Sid,
			Namespace: p.Namespace(),
			Labels:    selector,
		},
		Spec: corev1.ReplicationControllerSpec{
			Replicas: &replicas,
			Selector: selector,
			Template: &corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      labels,
					Annotations: annotations,
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicy(restartPolicy),
					Containers:    containers,
					Volumes:       in.Volumes,
					NodeSelector:  buildNodeSelector(in),
				},
			},
		},
	}
	return rc, nil
}

func buildAnnotations(s *Spec) (map[string]string, error) {
	ports := map[string][]portAnnotation{}
	for ci, c := range s.Containers {
		anns := make([]portAnnotation, 0, len(c.Ports))
		for pi, p := range c.Ports {
			anns = append(anns, portAnnotation{
				Name:          PortName(ci, pi, p.IsPublic),
				ContainerPort: p.ContainerPort,
				HostPort:      p.HostPort,
				Protocol:      normalizeProtocol(p.Protocol),
				IsPublic:      p.IsPublic,
			})
		}
		ports[c.Name] = anns
	}
	rawPorts, err := json.Marshal(ports)
	if err != nil {
		return nil, fmt.Errorf("encoding port annotations: %w", err)
	}

	volumes := map[string]any{}
	for _, v := range s.Volumes {
		switch {
		case v.PersistentDisk != nil:
			volumes[v.Name] = map[string]any{
				"pdName": v.PersistentDisk.PDName,
				"pdSize": v.PersistentDisk.PDSize,
			}
		case v.LocalStorage:
			volumes[v.Name] = map[string]any{"localStorage": true}
		}
	}
	rawVolumes, err := json.Marshal(volumes)
	if err != nil {
		return nil, fmt.Errorf("encoding volume annotations: %w", err)
	}

	return map[string]string{
		kube.AnnotationPodPorts: string(rawPorts),
		kube.AnnotationVolumes:  string(rawVolumes),
	}, nil
}

func buildContainer(c *Container, ci int, in SynthesisInput) (corev1.Container, error) {
	out := corev1.Container{
		Name:            c.Name,
		Image:           c.Image,
		Command:         c.Command,
		Args:            c.Args,
		WorkingDir:      c.WorkingDir,
		ImagePullPolicy: corev1.PullAlways,
		Resources:       buildResources(c.Kubes, in),
	}

	for _, e := range c.Env {
		out.Env = append(out.Env, corev1.EnvVar{Name: e.Name, Value: e.Value})
	}

	for pi, p := range c.Ports {
		port := corev1.ContainerPort{
			Name:          PortName(ci, pi, p.IsPublic),
			ContainerPort: int32(p.ContainerPort),
			Protocol:      corev1.Protocol(normalizeProtocol(p.Protocol)),
		}
		// hostPort bypasses the service layer; only infrastructure pods may
		// claim one.
		if p.HostPort != nil && in.Internal {
			port.HostPort = int32(*p.HostPort)
		}
		out.Ports = append(out.Ports, port)
	}

	for _, m := range c.VolumeMounts {
		path := m.MountPath
		if in.RBDVolumes[m.Name] {
			// SELinux relabel for RBD-backed mounts.
			path += ":Z"
		}
		out.VolumeMounts = append(out.VolumeMounts, corev1.VolumeMount{
			Name:      m.Name,
			MountPath: path,
		})
	}

	if c.Lifecycle != nil && len(c.Lifecycle.PostStart) > 0 {
		out.Lifecycle = &corev1.Lifecycle{
			PostStart: &corev1.LifecycleHandler{
				Exec: &corev1.ExecAction{Command: c.Lifecycle.PostStart},
			},
		}
		if hookNeedsSysAdmin(c.Lifecycle.PostStart) {
			out.SecurityContext = &corev1.SecurityContext{
				Capabilities: &corev1.Capabilities{
					Add: []corev1.Capability{"SYS_ADMIN"},
				},
			}
		}
	}
	return out, nil
}

// hookNeedsSysAdmin reports whether a lifecycle command mounts filesystems,
// which needs the SYS_ADMIN capability inside the container.
func hookNeedsSysAdmin(command []string) bool {
	for _, arg := range command {
		if strings.Contains(arg, "mount") {
			return true
		}
	}
	return false
}

// buildResources converts a kube count into container requests and limits.
// Requests are kubes times the catalog shape; limits allow bursting by the
// configured multipliers.
func buildResources(kubes int, in SynthesisInput) corev1.ResourceRequirements {
	cpuMilli := int64(float64(kubes) * in.Kube.CPU * 1000)
	memBytes := int64(kubes) * int64(in.Kube.Memory) * 1024 * 1024

	limits := corev1.ResourceList{
		corev1.ResourceCPU:    *resource.NewMilliQuantity(cpuMilli*int64(max(in.CPUMultiplier, 1)), resource.DecimalSI),
		corev1.ResourceMemory: *resource.NewQuantity(memBytes*int64(max(in.MemoryMultiplier, 1)), resource.BinarySI),
	}
	requests := corev1.ResourceList{
		corev1.ResourceCPU:    *resource.NewMilliQuantity(cpuMilli, resource.DecimalSI),
		corev1.ResourceMemory: *resource.NewQuantity(memBytes, resource.BinarySI),
	}
	return corev1.ResourceRequirements{Limits: limits, Requests: requests}
}

func buildNodeSelector(in SynthesisInput) map[string]string {
	selector := map[string]string{}
	if in.Kube.ID != billing.InternalKubeID {
		selector[kube.LabelKubeType] = "type_" + strconv.Itoa(in.Kube.ID)
	}
	if in.Pod.PinnedNode != nil && *in.Pod.PinnedNode != "" {
		selector[kube.LabelNodeHostname] = *in.Pod.PinnedNode
	}
	if len(selector) == 0 {
		return nil
	}
	return selector
}

// PortName builds the stable service/container port name `c<ci>-p<pi>` with a
// `-public` suffix for publicly exposed ports.
func PortName(ci, pi int, public bool) string {
	name := fmt.Sprintf("c%d-p%d", ci, pi)
	if public {
		name += "-public"
	}
	return name
}

// BuildService materializes the pod's service, or nil when no container
// declares ports. The service type follows the IP mode: LoadBalancer on aws,
// ClusterIP with externalIPs when a floating or fixed address is assigned.
func BuildService(in SynthesisInput) *corev1.Service {
	p := in.Pod
	if !p.Config.HasPorts() {
		return nil
	}

	var ports []corev1.ServicePort
	for ci, c := range p.Config.Containers {
		for pi, cp := range c.Ports {
			ports = append(ports, corev1.ServicePort{
				Name:       PortName(ci, pi, cp.IsPublic),
				Port:       int32(cp.ContainerPort),
				TargetPort: intstr.FromInt32(int32(cp.ContainerPort)),
				Protocol:   corev1.Protocol(normalizeProtocol(cp.Protocol)),
			})
		}
	}

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "service-" + shortID(p.ID.String()),
			Namespace: p.Namespace(),
			Labels:    map[string]string{kube.LabelPodUID: p.ID.String()},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{kube.LabelPodUID: p.ID.String()},
			Ports:    ports,
			Type:     corev1.ServiceTypeClusterIP,
		},
	}

	switch {
	case in.Mode == ippool.ModeAWS && p.Config.WantsPublicIP():
		svc.Spec.Type = corev1.ServiceTypeLoadBalancer
	case in.PublicIP != "":
		svc.Spec.ExternalIPs = []string{in.PublicIP}
		svc.Annotations = map[string]string{
			kube.AnnotationPublicIPState: `{"assigned-public-ip":"` + in.PublicIP + `"}`,
		}
	}
	return svc
}

func shortID(id string) string {
	return strings.ReplaceAll(id, "-", "")[:12]
}
