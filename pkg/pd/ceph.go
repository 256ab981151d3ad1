package pd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// CephConfig describes the RBD pool the control plane provisions from.
type CephConfig struct {
	Pool     string
	User     string
	Monitors []string
	Keyring  string
	FSType   string
}

// CephBackend stores drives as RBD images, driven through the rbd CLI on the
// master. Mapping and filesystem creation happen on the node at mount time;
// the control plane only owns image lifecycle.
type CephBackend struct {
	cfg CephConfig

	// runCommand is swapped in tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCephBackend creates a Ceph RBD backend.
func NewCephBackend(cfg CephConfig) *CephBackend {
	return &CephBackend{
		cfg: cfg,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

func (b *CephBackend) Name() string { return "ceph" }

func (b *CephBackend) NodeBound() bool { return false }

func (b *CephBackend) rbd(ctx context.Context, args ...string) ([]byte, error) {
	base := []string{"--pool", b.cfg.Pool, "--id", b.cfg.User, "--keyring", b.cfg.Keyring}
	return b.runCommand(ctx, "rbd", append(base, args...)...)
}

func (b *CephBackend) CreatePhysical(ctx context.Context, driveName string, sizeGB int) (string, error) {
	out, err := b.rbd(ctx, "create", driveName, "--size", fmt.Sprintf("%dG", sizeGB))
	if err != nil {
		return "", fmt.Errorf("creating rbd image %q: %w: %s", driveName, err, strings.TrimSpace(string(out)))
	}
	return driveName, nil
}

func (b *CephBackend) DeletePhysical(ctx context.Context, d Disk) error {
	image := d.BackendRef
	if image == "" {
		image = d.DriveName
	}
	out, err := b.rbd(ctx, "rm", image)
	if err != nil {
		if strings.Contains(string(out), "No such file") {
			return nil
		}
		return fmt.Errorf("removing rbd image %q: %w: %s", image, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *CephBackend) EnrichVolume(v *corev1.Volume, d Disk) {
	image := d.BackendRef
	if image == "" {
		image = d.DriveName
	}
	v.VolumeSource = corev1.VolumeSource{
		RBD: &corev1.RBDVolumeSource{
			CephMonitors: b.cfg.Monitors,
			RBDImage:     image,
			RBDPool:      b.cfg.Pool,
			RadosUser:    b.cfg.User,
			Keyring:      b.cfg.Keyring,
			FSType:       b.cfg.FSType,
		},
	}
}

func (b *CephBackend) ListAll(ctx context.Context) ([]string, error) {
	out, err := b.rbd(ctx, "ls")
	if err != nil {
		return nil, fmt.Errorf("listing rbd images: %w: %s", err, strings.TrimSpace(string(out)))
	}
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
