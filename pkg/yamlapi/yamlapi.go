// Package yamlapi accepts Kubernetes-style YAML pod documents and feeds
// them through the regular pod create path.
package yamlapi

import (
	"encoding/json"

	"sigs.k8s.io/yaml"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/pkg/pod"
)

// Document is the accepted YAML shape: a v1 Pod with a kuberdock extension
// block carrying the fields Kubernetes has no place for.
type Document struct {
	APIVersion string     `json:"apiVersion"`
	Kind       string     `json:"kind"`
	Metadata   Metadata   `json:"metadata"`
	KuberDock  Extensions `json:"kuberdock"`
	Spec       SpecDoc    `json:"spec"`
}

// Metadata carries the pod name.
type Metadata struct {
	Name string `json:"name"`
}

// Extensions is the kuberdock block.
type Extensions struct {
	KubeType    int  `json:"kube_type"`
	SetPublicIP bool `json:"set_public_ip"`
}

// SpecDoc mirrors the subset of the Kubernetes pod spec the platform
// understands. Container and volume stanzas share the pod package's shapes.
type SpecDoc struct {
	RestartPolicy string          `json:"restartPolicy"`
	Containers    []pod.Container `json:"containers"`
	Volumes       []pod.Volume    `json:"volumes"`
}

// Parse decodes one YAML document.
func Parse(raw []byte) (Document, error) {
	jsonBytes, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return Document{}, apierror.Validation("invalid yaml: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return Document{}, apierror.Validation("invalid pod document: %v", err)
	}
	return doc, nil
}

// Convert turns a parsed document into the user pod spec. Containers
// without an explicit kube count get one kube.
func Convert(doc Document) (pod.Spec, error) {
	if doc.Kind != "Pod" {
		return pod.Spec{}, apierror.Validation("unsupported kind %q, expected Pod", doc.Kind)
	}
	if doc.Metadata.Name == "" {
		return pod.Spec{}, apierror.Validation("metadata.name is required")
	}

	spec := pod.Spec{
		Name:          doc.Metadata.Name,
		RestartPolicy: doc.Spec.RestartPolicy,
		KubeType:      doc.KuberDock.KubeType,
		SetPublicIP:   doc.KuberDock.SetPublicIP,
		Containers:    doc.Spec.Containers,
		Volumes:       doc.Spec.Volumes,
	}
	if spec.RestartPolicy == "" {
		spec.RestartPolicy = "Always"
	}
	for i := range spec.Containers {
		if spec.Containers[i].Kubes == 0 {
			spec.Containers[i].Kubes = 1
		}
	}
	if !spec.SetPublicIP {
		for _, c := range spec.Containers {
			for _, p := range c.Ports {
				if p.IsPublic {
					spec.SetPublicIP = true
				}
			}
		}
	}
	return spec, nil
}
