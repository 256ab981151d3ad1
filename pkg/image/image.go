// Package image resolves container image configuration (command, entrypoint,
// ports, volumes) from registries. The pod controller needs it before any
// Kubernetes write: a container without an explicit command and without
// CMD/ENTRYPOINT at the image would never start. Decoded configs are cached
// in the database with a TTL; repeated unauthorized probes for the same
// (user, registry) pair are paused so a misconfigured deploy hook cannot
// hammer a registry into banning us.
package image

import (
	"sort"
	"strings"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// AuthFailurePause is the minimum gap between unauthorized attempts against
// the same registry by the same user.
const AuthFailurePause = 3 * time.Second

// Config is the slice of an image's container config the pod controller
// consumes.
type Config struct {
	Image        string   `json:"image"`
	Cmd          []string `json:"command,omitempty"`
	Entrypoint   []string `json:"args,omitempty"`
	Env          []string `json:"env,omitempty"`
	ExposedPorts []string `json:"ports,omitempty"`
	Volumes      []string `json:"volumeMounts,omitempty"`
	WorkingDir   string   `json:"workingDir,omitempty"`
}

// HasCommand reports whether the image alone is runnable.
func (c *Config) HasCommand() bool {
	return len(c.Cmd) > 0 || len(c.Entrypoint) > 0
}

// Credentials authenticate against a registry. Secrets attached to a pod are
// passed as fallbacks after the user-supplied pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// fromConfigFile flattens the registry config into our cacheable shape.
func fromConfigFile(image string, cf *v1.ConfigFile) Config {
	out := Config{
		Image:      image,
		Cmd:        cf.Config.Cmd,
		Entrypoint: cf.Config.Entrypoint,
		Env:        cf.Config.Env,
		WorkingDir: cf.Config.WorkingDir,
	}
	for port := range cf.Config.ExposedPorts {
		out.ExposedPorts = append(out.ExposedPorts, port)
	}
	sort.Strings(out.ExposedPorts)
	for vol := range cf.Config.Volumes {
		out.Volumes = append(out.Volumes, vol)
	}
	sort.Strings(out.Volumes)
	return out
}

// registryHost extracts the registry component of an image reference for
// rate-limit bookkeeping.
func registryHost(image string) string {
	first, _, _ := strings.Cut(image, "/")
	if strings.ContainsAny(first, ".:") || first == "localhost" {
		return first
	}
	return "registry-1.docker.io"
}
