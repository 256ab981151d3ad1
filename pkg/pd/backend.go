package pd

import (
	"context"

	corev1 "k8s.io/api/core/v1"
)

// Backend is the storage driver contract. CreatePhysical returns a backend
// reference (EBS volume id, RBD image, host path) that is persisted with the
// row and later fed back into EnrichVolume and DeletePhysical.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// CreatePhysical provisions the drive and returns its backend reference.
	CreatePhysical(ctx context.Context, driveName string, sizeGB int) (string, error)

	// DeletePhysical destroys the drive. Idempotent: deleting an absent
	// drive succeeds so the GC loop can retry safely.
	DeletePhysical(ctx context.Context, d Disk) error

	// EnrichVolume rewrites the Kubernetes volume stanza to mount the drive.
	EnrichVolume(v *corev1.Volume, d Disk)

	// ListAll enumerates the physical drives the backend knows about.
	ListAll(ctx context.Context) ([]string, error)

	// NodeBound reports whether disks of this backend pin their pod to one
	// node.
	NodeBound() bool
}
