package pd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// LocalBackend keeps drives as directories under a host path prefix. Disks
// are node-bound: the pod must run where the directory lives. The directory
// itself is managed by the node agent; on the master we only track identity,
// but the mkdir/rm calls are issued anyway so single-node dev installs work
// without an agent.
type LocalBackend struct {
	prefix string
}

// NewLocalBackend creates a node-local backend rooted at prefix.
func NewLocalBackend(prefix string) *LocalBackend {
	return &LocalBackend{prefix: prefix}
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) NodeBound() bool { return true }

// Path returns the host path for a drive.
func (b *LocalBackend) Path(driveName string) string {
	return filepath.Join(b.prefix, driveName)
}

func (b *LocalBackend) CreatePhysical(_ context.Context, driveName string, _ int) (string, error) {
	path := b.Path(driveName)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating local drive directory: %w", err)
	}
	return path, nil
}

func (b *LocalBackend) DeletePhysical(_ context.Context, d Disk) error {
	path := d.BackendRef
	if path == "" {
		path = b.Path(d.DriveName)
	}
	// Refuse to remove anything outside the storage prefix.
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(b.prefix)+string(filepath.Separator)) {
		return fmt.Errorf("refusing to delete %q: outside storage prefix %q", path, b.prefix)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing local drive directory: %w", err)
	}
	return nil
}

func (b *LocalBackend) EnrichVolume(v *corev1.Volume, d Disk) {
	path := d.BackendRef
	if path == "" {
		path = b.Path(d.DriveName)
	}
	v.VolumeSource = corev1.VolumeSource{
		HostPath: &corev1.HostPathVolumeSource{Path: path},
	}
}

func (b *LocalBackend) ListAll(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.prefix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing local drives: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
