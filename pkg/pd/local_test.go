package pd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	corev1 "k8s.io/api/core/v1"
)

func TestLocalBackend_CreateDelete(t *testing.T) {
	prefix := t.TempDir()
	b := NewLocalBackend(prefix)
	ctx := context.Background()

	ref, err := b.CreatePhysical(ctx, "data__SEPID__1", 1)
	if err != nil {
		t.Fatalf("CreatePhysical() error = %v", err)
	}
	if ref != filepath.Join(prefix, "data__SEPID__1") {
		t.Errorf("CreatePhysical() ref = %q, want path under prefix", ref)
	}
	if _, err := os.Stat(ref); err != nil {
		t.Fatalf("drive directory was not created: %v", err)
	}

	names, err := b.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(names) != 1 || names[0] != "data__SEPID__1" {
		t.Errorf("ListAll() = %v, want [data__SEPID__1]", names)
	}

	if err := b.DeletePhysical(ctx, Disk{DriveName: "data__SEPID__1", BackendRef: ref}); err != nil {
		t.Fatalf("DeletePhysical() error = %v", err)
	}
	if _, err := os.Stat(ref); !os.IsNotExist(err) {
		t.Errorf("drive directory still exists after delete")
	}

	// Deleting again is a no-op, so the GC loop can retry.
	if err := b.DeletePhysical(ctx, Disk{DriveName: "data__SEPID__1", BackendRef: ref}); err != nil {
		t.Fatalf("repeated DeletePhysical() error = %v", err)
	}
}

func TestLocalBackend_RefusesEscapingPath(t *testing.T) {
	b := NewLocalBackend(t.TempDir())
	err := b.DeletePhysical(context.Background(), Disk{BackendRef: "/etc"})
	if err == nil {
		t.Fatal("DeletePhysical() accepted a path outside the storage prefix")
	}
}

func TestLocalBackend_EnrichVolume(t *testing.T) {
	b := NewLocalBackend("/var/lib/kuberdock/storage")
	v := corev1.Volume{Name: "data"}
	b.EnrichVolume(&v, Disk{DriveName: "data__SEPID__1"})

	if v.HostPath == nil {
		t.Fatal("EnrichVolume() did not set a hostPath source")
	}
	want := "/var/lib/kuberdock/storage/data__SEPID__1"
	if v.HostPath.Path != want {
		t.Errorf("hostPath = %q, want %q", v.HostPath.Path, want)
	}
}

func TestCephBackend_EnrichVolume(t *testing.T) {
	b := NewCephBackend(CephConfig{
		Pool:     "rbd",
		User:     "admin",
		Monitors: []string{"10.0.0.1:6789"},
		Keyring:  "/etc/ceph/ceph.client.admin.keyring",
		FSType:   "ext4",
	})
	v := corev1.Volume{Name: "data"}
	b.EnrichVolume(&v, Disk{DriveName: "data__SEPID__1"})

	if v.RBD == nil {
		t.Fatal("EnrichVolume() did not set an rbd source")
	}
	if v.RBD.RBDImage != "data__SEPID__1" || v.RBD.RBDPool != "rbd" {
		t.Errorf("rbd source = %+v, want image data__SEPID__1 in pool rbd", v.RBD)
	}
	if len(v.RBD.CephMonitors) != 1 {
		t.Errorf("monitors = %v, want one entry", v.RBD.CephMonitors)
	}
}

func TestEBSBackend_EnrichVolume(t *testing.T) {
	b := NewEBSBackendWithClient(EBSConfig{FSType: "ext4"}, nil)
	v := corev1.Volume{Name: "data"}
	b.EnrichVolume(&v, Disk{DriveName: "data__SEPID__1", BackendRef: "vol-0abc"})

	if v.AWSElasticBlockStore == nil {
		t.Fatal("EnrichVolume() did not set an awsElasticBlockStore source")
	}
	if v.AWSElasticBlockStore.VolumeID != "vol-0abc" {
		t.Errorf("volumeID = %q, want vol-0abc", v.AWSElasticBlockStore.VolumeID)
	}
	if v.AWSElasticBlockStore.FSType != "ext4" {
		t.Errorf("fsType = %q, want ext4", v.AWSElasticBlockStore.FSType)
	}
}
