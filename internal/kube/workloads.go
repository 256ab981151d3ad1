package kube

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// CreateReplicationController posts the RC into the pod's namespace.
func (c *Client) CreateReplicationController(ctx context.Context, namespace string, rc *corev1.ReplicationController) error {
	_, err := c.clientset.CoreV1().ReplicationControllers(namespace).Create(ctx, rc, metav1.CreateOptions{})
	return WrapError("creating replication controller", err)
}

// DeleteReplicationController removes an RC and its pods, tolerating absence.
func (c *Client) DeleteReplicationController(ctx context.Context, namespace, name string) error {
	policy := metav1.DeletePropagationBackground
	err := c.clientset.CoreV1().ReplicationControllers(namespace).Delete(ctx, name,
		metav1.DeleteOptions{PropagationPolicy: &policy})
	if err != nil && !apierrors.IsNotFound(err) {
		return WrapError("deleting replication controller", err)
	}
	return nil
}

// ListReplicationControllers returns the RCs selecting one pod.
func (c *Client) ListReplicationControllers(ctx context.Context, namespace, podUID string) ([]corev1.ReplicationController, error) {
	list, err := c.clientset.CoreV1().ReplicationControllers(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: LabelPodUID + "=" + podUID,
	})
	if err != nil {
		return nil, WrapError("listing replication controllers", err)
	}
	return list.Items, nil
}

// CreateService posts the pod's service.
func (c *Client) CreateService(ctx context.Context, namespace string, svc *corev1.Service) error {
	_, err := c.clientset.CoreV1().Services(namespace).Create(ctx, svc, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return WrapError("creating service", err)
}

// GetService fetches one service.
func (c *Client) GetService(ctx context.Context, namespace, name string) (*corev1.Service, error) {
	svc, err := c.clientset.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, WrapError("getting service", err)
	}
	return svc, nil
}

// DeleteServicesByPod removes every service selecting the pod.
func (c *Client) DeleteServicesByPod(ctx context.Context, namespace, podUID string) error {
	svcs, err := c.clientset.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: LabelPodUID + "=" + podUID,
	})
	if err != nil {
		return WrapError("listing pod services", err)
	}
	for _, svc := range svcs.Items {
		err := c.clientset.CoreV1().Services(namespace).Delete(ctx, svc.Name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return WrapError("deleting service", err)
		}
	}
	return nil
}

// ListPodsByLabel returns the live pods carrying the pod-uid label.
func (c *Client) ListPodsByLabel(ctx context.Context, namespace, podUID string) ([]corev1.Pod, error) {
	list, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: LabelPodUID + "=" + podUID,
	})
	if err != nil {
		return nil, WrapError("listing pods", err)
	}
	return list.Items, nil
}

// GetNode fetches one node, for condition reporting.
func (c *Client) GetNode(ctx context.Context, name string) (*corev1.Node, error) {
	node, err := c.clientset.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, WrapError("getting node", err)
	}
	return node, nil
}
