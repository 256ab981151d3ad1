// Package pod is the pod controller: it turns a user-level pod specification
// into Kubernetes ReplicationController + Service objects inside a per-pod
// namespace, and drives the lifecycle command protocol. The database row is
// authoritative; the cluster is re-derived from it on every start.
package pod

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pod statuses. Running/pending/succeeded/failed mirror the cluster; the rest
// exist only in the database.
const (
	StatusPending   = "pending"
	StatusPreparing = "preparing"
	StatusRunning   = "running"
	StatusStopping  = "stopping"
	StatusStopped   = "stopped"
	StatusDeleting  = "deleting"
	StatusDeleted   = "deleted"
	StatusFailed    = "failed"
	StatusSucceeded = "succeeded"
	StatusUnpaid    = "unpaid"
)

// MaxNameLength caps pod and container names; longer breaks DNS.
const MaxNameLength = 63

// EnvVar is one container environment entry.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Port is one container port. IsPublic asks for a public IP; HostPort is
// honored only for the internal user.
type Port struct {
	ContainerPort int    `json:"containerPort" validate:"required,min=1,max=65535"`
	HostPort      *int   `json:"hostPort,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	IsPublic      bool   `json:"isPublic,omitempty"`
}

// VolumeMount binds a named volume into a container.
type VolumeMount struct {
	Name      string `json:"name" validate:"required"`
	MountPath string `json:"mountPath" validate:"required"`
}

// Lifecycle carries the postStart hook command, the only hook the original
// API exposed.
type Lifecycle struct {
	PostStart []string `json:"postStart,omitempty"`
}

// Container is one container in the pod spec.
type Container struct {
	Name         string        `json:"name" validate:"required"`
	Image        string        `json:"image" validate:"required"`
	Command      []string      `json:"command,omitempty"`
	Args         []string      `json:"args,omitempty"`
	Env          []EnvVar      `json:"env,omitempty"`
	Ports        []Port        `json:"ports,omitempty"`
	VolumeMounts []VolumeMount `json:"volumeMounts,omitempty"`
	WorkingDir   string        `json:"workingDir,omitempty"`
	Lifecycle    *Lifecycle    `json:"lifecycle,omitempty"`
	Kubes        int           `json:"kubes" validate:"required,min=1"`
	// SourceURL and the digest are update-check bookkeeping.
	Digest string `json:"digest,omitempty"`
}

// PersistentDiskRef names a PD volume; the disk row is resolved or created at
// start time.
type PersistentDiskRef struct {
	PDName string `json:"pdName" validate:"required"`
	PDSize int    `json:"pdSize,omitempty"`
}

// Volume is one pod-level volume. Exactly one of the sources is set.
type Volume struct {
	Name           string             `json:"name" validate:"required"`
	PersistentDisk *PersistentDiskRef `json:"persistentDisk,omitempty"`
	LocalStorage   bool               `json:"localStorage,omitempty"`
}

// Spec is the user-facing pod specification. Unknown fields submitted by
// older clients are preserved in Extra and round-tripped untouched.
type Spec struct {
	Name          string      `json:"name" validate:"required"`
	RestartPolicy string      `json:"restartPolicy,omitempty"`
	KubeType      int         `json:"kube_type"`
	Containers    []Container `json:"containers" validate:"required,min=1,dive"`
	Volumes       []Volume    `json:"volumes,omitempty"`
	SetPublicIP   bool        `json:"set_public_ip,omitempty"`
	PublicIP      string      `json:"public_ip,omitempty"`
	Node          string      `json:"node,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// specKnownKeys lists the JSON keys handled by the typed fields; everything
// else lands in Extra.
var specKnownKeys = []string{
	"name", "restartPolicy", "kube_type", "containers", "volumes",
	"set_public_ip", "public_ip", "node",
}

// UnmarshalJSON decodes the typed fields and keeps unknown keys in Extra so
// older clients' payloads survive the round trip.
func (s *Spec) UnmarshalJSON(data []byte) error {
	type alias Spec
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range specKnownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		a.Extra = raw
	}
	*s = Spec(a)
	return nil
}

// MarshalJSON re-attaches the Extra keys. Typed fields win on collision.
func (s Spec) MarshalJSON() ([]byte, error) {
	type alias Spec
	base, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// SetPostDescription stores the billing-provided free-text description among
// the passthrough fields, where clients read it back.
func (s *Spec) SetPostDescription(text string) {
	if s.Extra == nil {
		s.Extra = map[string]json.RawMessage{}
	}
	raw, _ := json.Marshal(text)
	s.Extra["postDescription"] = raw
}

// KubeCount is the pod's billed size: the sum of per-container kubes.
func (s *Spec) KubeCount() int {
	total := 0
	for _, c := range s.Containers {
		total += c.Kubes
	}
	return total
}

// WantsPublicIP reports whether any container exposes a public port.
func (s *Spec) WantsPublicIP() bool {
	if s.SetPublicIP {
		return true
	}
	for _, c := range s.Containers {
		for _, p := range c.Ports {
			if p.IsPublic {
				return true
			}
		}
	}
	return false
}

// HasPorts reports whether the pod needs a Service at all.
func (s *Spec) HasPorts() bool {
	for _, c := range s.Containers {
		if len(c.Ports) > 0 {
			return true
		}
	}
	return false
}

// HasLocalStorage reports whether any volume is node-local, which pins the
// pod to one host.
func (s *Spec) HasLocalStorage() bool {
	for _, v := range s.Volumes {
		if v.LocalStorage {
			return true
		}
	}
	return false
}

// PersistentDisks returns the PD references of volumes actually mounted by a
// container; unmounted volumes are dropped from synthesis.
func (s *Spec) PersistentDisks() []PersistentDiskRef {
	mounted := map[string]bool{}
	for _, c := range s.Containers {
		for _, m := range c.VolumeMounts {
			mounted[m.Name] = true
		}
	}
	var refs []PersistentDiskRef
	for _, v := range s.Volumes {
		if v.PersistentDisk != nil && mounted[v.Name] {
			refs = append(refs, *v.PersistentDisk)
		}
	}
	return refs
}

// Pod is one pods-table row.
type Pod struct {
	ID        uuid.UUID `json:"id"`
	// Sid names the ReplicationController; distinct from ID so a redeploy can
	// roll the RC without touching the pod identity.
	Sid             string     `json:"sid"`
	Name            string     `json:"name"`
	OwnerID         int64      `json:"owner"`
	KubeType        int        `json:"kube_type"`
	Config          Spec       `json:"config"`
	Status          string     `json:"status"`
	Unpaid          bool       `json:"unpaid,omitempty"`
	TemplateID      *int64     `json:"template_id,omitempty"`
	TemplateVersion *int64     `json:"template_version_id,omitempty"`
	PlanName        *string    `json:"template_plan_name,omitempty"`
	PinnedNode      *string    `json:"node,omitempty"`
	PublicIP        *string    `json:"public_ip,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Namespace is the pod's Kubernetes tenancy boundary, equal to its UUID.
func (p *Pod) Namespace() string {
	return p.ID.String()
}

// KubeCount is the billed size derived from the stored config.
func (p *Pod) KubeCount() int {
	return p.Config.KubeCount()
}

// IsLive reports whether the row still represents a user-visible pod.
func (p *Pod) IsLive() bool {
	return p.Status != StatusDeleted
}

// TombstoneName salts a pod name on delete so the (owner, name) slot frees up
// while usage records keep pointing at the row.
func TombstoneName(name string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return name + "__" + suffix
}

// NewSid generates a fresh RC name.
func NewSid() string {
	return uuid.New().String()
}
