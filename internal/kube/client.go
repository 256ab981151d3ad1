// Package kube wraps the Kubernetes client for the control plane's needs:
// typed access to the handful of core/v1 resources KuberDock manages,
// namespace lifecycle helpers, annotation compare-and-swap updates, and a
// supervised watch loop. The database stays authoritative; everything here
// treats the cluster as a materialized view.
package kube

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	corev1 "k8s.io/api/core/v1"

	"github.com/wisbric/kuberdock/internal/apierror"
)

// requestTimeout bounds every non-watch call to the API server.
const requestTimeout = 15 * time.Second

// Well-known labels and annotations written onto managed objects.
const (
	LabelPodUID       = "kuberdock-pod-uid"
	LabelUserUID      = "kuberdock-user-uid"
	LabelKubeType     = "kuberdock-kube-type"
	LabelNodeHostname = "kuberdock-node-hostname"
	LabelPublicIP     = "kuberdock-public-ip"

	AnnotationPodPorts      = "kuberdock-pod-ports"
	AnnotationVolumes       = "kuberdock-volume-annotations"
	AnnotationPublicIPState = "public-ip-state"
	AnnotationFreePublicIPs = "kuberdock-free-public-ip-count"
)

// Client is a thin wrapper over the generated clientset.
type Client struct {
	clientset kubernetes.Interface
}

// New builds a client. Resolution order: explicit kubeconfig path, explicit
// API server host, in-cluster service account.
func New(apiURL, kubeconfigPath string) (*Client, error) {
	var (
		cfg *rest.Config
		err error
	)
	switch {
	case kubeconfigPath != "":
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	case apiURL != "":
		cfg = &rest.Config{Host: apiURL}
	default:
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("building kubernetes config: %w", err)
	}
	cfg.Timeout = requestTimeout

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes clientset: %w", err)
	}
	return &Client{clientset: clientset}, nil
}

// NewFromClientset wraps an existing clientset; tests pass a fake.
func NewFromClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// Clientset exposes the underlying typed interface for watch construction.
func (c *Client) Clientset() kubernetes.Interface {
	return c.clientset
}

// WrapError translates an API server error into the control plane's taxonomy.
// Nil and already-typed errors pass through unchanged.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case apierrors.IsNotFound(err):
		return apierror.NotFound("%s: %v", op, err)
	case apierrors.IsConflict(err) || apierrors.IsAlreadyExists(err):
		return apierror.Conflict("%s: %v", op, err)
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		return apierror.PermissionDenied("%s: %v", op, err)
	default:
		return apierror.New(apierror.KindInternal, "%s: %v", op, err)
	}
}

// EnsureNamespace creates the pod's namespace if it does not exist yet.
func (c *Client) EnsureNamespace(ctx context.Context, name string) error {
	_, err := c.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return WrapError("getting namespace", err)
	}

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{LabelPodUID: name},
		},
	}
	if _, err := c.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return WrapError("creating namespace", err)
	}
	return nil
}

// DeleteNamespace removes the pod's namespace, tolerating absence.
func (c *Client) DeleteNamespace(ctx context.Context, name string) error {
	err := c.clientset.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return WrapError("deleting namespace", err)
	}
	return nil
}

// UpdateNodeAnnotation sets one annotation on a node with a get-mutate-update
// cycle, retrying exactly once on a stale resourceVersion.
func (c *Client) UpdateNodeAnnotation(ctx context.Context, nodeName, key, value string) error {
	update := func() error {
		node, err := c.clientset.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
		if err != nil {
			return err
		}
		if node.Annotations == nil {
			node.Annotations = map[string]string{}
		}
		if node.Annotations[key] == value {
			return nil
		}
		node.Annotations[key] = value
		_, err = c.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})
		return err
	}

	err := update()
	if apierrors.IsConflict(err) {
		err = update()
	}
	return WrapError("updating node annotation", err)
}

// SetServiceExternalIPs rewrites the externalIPs of every service selecting
// the pod, retrying once on a stale resourceVersion. An empty list clears
// the field.
func (c *Client) SetServiceExternalIPs(ctx context.Context, namespace string, podUID string, ips []string) error {
	svcs, err := c.clientset.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: LabelPodUID + "=" + podUID,
	})
	if err != nil {
		return WrapError("listing pod services", err)
	}

	for i := range svcs.Items {
		svc := &svcs.Items[i]
		update := func() error {
			current, err := c.clientset.CoreV1().Services(namespace).Get(ctx, svc.Name, metav1.GetOptions{})
			if err != nil {
				return err
			}
			current.Spec.ExternalIPs = ips
			_, err = c.clientset.CoreV1().Services(namespace).Update(ctx, current, metav1.UpdateOptions{})
			return err
		}
		err := update()
		if apierrors.IsConflict(err) {
			err = update()
		}
		if err != nil {
			return WrapError("updating service externalIPs", err)
		}
	}
	return nil
}

// UpdateServiceAnnotation writes one annotation on a service the same way.
func (c *Client) UpdateServiceAnnotation(ctx context.Context, namespace, name, key, value string) error {
	update := func() error {
		svc, err := c.clientset.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		if svc.Annotations == nil {
			svc.Annotations = map[string]string{}
		}
		if svc.Annotations[key] == value {
			return nil
		}
		svc.Annotations[key] = value
		_, err = c.clientset.CoreV1().Services(namespace).Update(ctx, svc, metav1.UpdateOptions{})
		return err
	}

	err := update()
	if apierrors.IsConflict(err) {
		err = update()
	}
	return WrapError("updating service annotation", err)
}
