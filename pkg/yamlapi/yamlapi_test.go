package yamlapi

import (
	"testing"

	"github.com/wisbric/kuberdock/internal/apierror"
)

const sampleDoc = `
apiVersion: v1
kind: Pod
metadata:
  name: web
kuberdock:
  kube_type: 1
spec:
  restartPolicy: Always
  containers:
  - name: web
    image: nginx
    kubes: 2
    ports:
    - containerPort: 80
      isPublic: true
  - name: sidecar
    image: busybox
  volumes:
  - name: data
    persistentDisk:
      pdName: webdata
      pdSize: 2
`

func TestParseAndConvert(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	spec, err := Convert(doc)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if spec.Name != "web" || spec.KubeType != 1 || spec.RestartPolicy != "Always" {
		t.Errorf("spec header = %+v", spec)
	}
	if len(spec.Containers) != 2 {
		t.Fatalf("got %d containers, want 2", len(spec.Containers))
	}
	if spec.Containers[0].Kubes != 2 {
		t.Errorf("explicit kubes = %d, want 2", spec.Containers[0].Kubes)
	}
	if spec.Containers[1].Kubes != 1 {
		t.Errorf("defaulted kubes = %d, want 1", spec.Containers[1].Kubes)
	}
	if !spec.SetPublicIP {
		t.Error("public port must imply set_public_ip")
	}
	if len(spec.Volumes) != 1 || spec.Volumes[0].PersistentDisk == nil ||
		spec.Volumes[0].PersistentDisk.PDName != "webdata" {
		t.Errorf("volumes = %+v", spec.Volumes)
	}
}

func TestConvertRejections(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{"wrong kind", Document{Kind: "Deployment", Metadata: Metadata{Name: "x"}}},
		{"missing name", Document{Kind: "Pod"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Convert(tt.doc)
			apiErr := apierror.From(err)
			if apiErr == nil || apiErr.Kind != apierror.KindValidation {
				t.Errorf("Convert() error = %v, want validation", err)
			}
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("\t{not yaml")); err == nil {
		t.Error("Parse() accepted malformed yaml")
	}
}

func TestConvertDefaultsRestartPolicy(t *testing.T) {
	doc := Document{Kind: "Pod", Metadata: Metadata{Name: "w"}}
	spec, err := Convert(doc)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if spec.RestartPolicy != "Always" {
		t.Errorf("restart policy = %q, want Always", spec.RestartPolicy)
	}
}
