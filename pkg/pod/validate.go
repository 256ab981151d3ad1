package pod

import (
	"regexp"
	"strings"

	"github.com/wisbric/kuberdock/internal/apierror"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)

// Limits are the validation gates resolved from system settings and the
// firewall tables.
type Limits struct {
	MaxKubesPerContainer int
	// RestrictedPort reports whether a port may not be exposed publicly.
	RestrictedPort func(port int, protocol string) bool
}

// ValidateSpec checks everything about a spec that needs no external calls:
// names, kube gates, port sanity. Image commands and quotas are checked by
// the service, which owns the probe and the catalog.
func ValidateSpec(s *Spec, limits Limits) error {
	if s.Name == "" {
		return apierror.Validation("pod name is required")
	}
	if len(s.Name) > MaxNameLength {
		return apierror.Validation(
			"pod name must be at most %d characters", MaxNameLength)
	}
	if !nameRe.MatchString(s.Name) {
		return apierror.Validation("pod name %q contains invalid characters", s.Name)
	}

	switch s.RestartPolicy {
	case "", "Always", "OnFailure", "Never":
	default:
		return apierror.Validation("invalid restartPolicy %q", s.RestartPolicy)
	}

	if len(s.Containers) == 0 {
		return apierror.Validation("pod must declare at least one container")
	}

	volumes := map[string]bool{}
	for _, v := range s.Volumes {
		if v.Name == "" {
			return apierror.Validation("volume name is required")
		}
		if volumes[v.Name] {
			return apierror.Validation("duplicate volume name %q", v.Name)
		}
		volumes[v.Name] = true
		if v.PersistentDisk != nil && v.LocalStorage {
			return apierror.Validation(
				"volume %q cannot be both a persistent disk and local storage", v.Name)
		}
		if v.PersistentDisk != nil && v.PersistentDisk.PDName == "" {
			return apierror.Validation("volume %q: pdName is required", v.Name)
		}
	}

	names := map[string]bool{}
	for i := range s.Containers {
		c := &s.Containers[i]
		if c.Name == "" || len(c.Name) > MaxNameLength || !nameRe.MatchString(c.Name) {
			return apierror.Validation("invalid container name %q", c.Name)
		}
		if names[c.Name] {
			return apierror.Validation("duplicate container name %q", c.Name)
		}
		names[c.Name] = true

		if c.Image == "" {
			return apierror.Validation("container %q: image is required", c.Name)
		}
		if c.Kubes < 1 {
			return apierror.Validation("container %q: kubes must be at least 1", c.Name)
		}
		if limits.MaxKubesPerContainer > 0 && c.Kubes > limits.MaxKubesPerContainer {
			return apierror.Validation(
				"container %q requests %d kubes, the limit is %d per container",
				c.Name, c.Kubes, limits.MaxKubesPerContainer)
		}

		for _, p := range c.Ports {
			if p.ContainerPort < 1 || p.ContainerPort > 65535 {
				return apierror.Validation(
					"container %q: invalid port %d", c.Name, p.ContainerPort)
			}
			proto := normalizeProtocol(p.Protocol)
			if proto != "TCP" && proto != "UDP" {
				return apierror.Validation(
					"container %q: invalid protocol %q", c.Name, p.Protocol)
			}
			if p.IsPublic && limits.RestrictedPort != nil && limits.RestrictedPort(p.ContainerPort, proto) {
				return apierror.Validation(
					"port %d/%s may not be exposed publicly", p.ContainerPort, proto)
			}
		}

		for _, m := range c.VolumeMounts {
			if !volumes[m.Name] {
				return apierror.Validation(
					"container %q mounts unknown volume %q", c.Name, m.Name)
			}
			if m.MountPath == "" {
				return apierror.Validation(
					"container %q: mountPath is required for volume %q", c.Name, m.Name)
			}
		}
	}
	return nil
}

// normalizeProtocol uppercases the wire protocol and defaults it to TCP.
func normalizeProtocol(p string) string {
	if p == "" {
		return "TCP"
	}
	return strings.ToUpper(p)
}
