package kube

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DeploymentStatus holds the replica counts of a deployment.
type DeploymentStatus struct {
	Desired       int32
	ReadyReplicas int32
	Updated       int32
	Observed      bool
}

// Ready reports whether every desired replica is updated and ready. A deployment scaled to
// zero is ready once its generation is observed.
func (s DeploymentStatus) Ready() bool {
	return s.Observed && s.ReadyReplicas >= s.Desired && s.Updated >= s.Desired
}

func (s DeploymentStatus) String() string {
	return fmt.Sprintf("%d/%d ready, %d updated", s.ReadyReplicas, s.Desired, s.Updated)
}

// ListNodes implements API.
func (c *Client) ListNodes(ctx context.Context) ([]string, error) {
	nodes, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	names := make([]string, 0, len(nodes.Items))
	for _, n := range nodes.Items {
		names = append(names, n.Name)
	}
	return names, nil
}

// DeploymentStatus implements API.
func (c *Client) DeploymentStatus(ctx context.Context, namespace, name string) (DeploymentStatus, error) {
	d, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return DeploymentStatus{}, fmt.Errorf("failed to get deployment %s/%s: %w", namespace, name, err)
	}
	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	return DeploymentStatus{
		Desired:       desired,
		ReadyReplicas: d.Status.ReadyReplicas,
		Updated:       d.Status.UpdatedReplicas,
		Observed:      d.Status.ObservedGeneration >= d.Generation,
	}, nil
}

// IngressHostname implements API.
func (c *Client) IngressHostname(ctx context.Context, namespace, name string) (string, error) {
	ing, err := c.clientset.NetworkingV1().Ingresses(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get ingress %s/%s: %w", namespace, name, err)
	}
	for _, lb := range ing.Status.LoadBalancer.Ingress {
		if lb.Hostname != "" {
			return lb.Hostname, nil
		}
		if lb.IP != "" {
			return lb.IP, nil
		}
	}
	return "", nil
}

// ServiceHostname implements API.
func (c *Client) ServiceHostname(ctx context.Context, namespace, name string) (string, error) {
	svc, err := c.clientset.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get service %s/%s: %w", namespace, name, err)
	}
	if svc.Spec.Type != corev1.ServiceTypeLoadBalancer {
		return "", nil
	}
	for _, lb := range svc.Status.LoadBalancer.Ingress {
		if lb.Hostname != "" {
			return lb.Hostname, nil
		}
		if lb.IP != "" {
			return lb.IP, nil
		}
	}
	return "", nil
}

// EnsureNamespace implements API.
func (c *Client) EnsureNamespace(ctx context.Context, name string) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	_, err := c.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create namespace %s: %w", name, err)
	}
	return nil
}

// UpsertSecret implements API. An existing secret is updated in place.
func (c *Client) UpsertSecret(ctx context.Context, secret *corev1.Secret) error {
	if secret.Namespace == "" || secret.Name == "" {
		return fmt.Errorf("secret namespace and name are required")
	}
	secrets := c.clientset.CoreV1().Secrets(secret.Namespace)

	existing, err := secrets.Get(ctx, secret.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := secrets.Create(ctx, secret, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create secret %s/%s: %w", secret.Namespace, secret.Name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get secret %s/%s: %w", secret.Namespace, secret.Name, err)
	}

	updated := secret.DeepCopy()
	updated.ResourceVersion = existing.ResourceVersion
	if _, err := secrets.Update(ctx, updated, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update secret %s/%s: %w", secret.Namespace, secret.Name, err)
	}
	return nil
}

// UpsertConfigMap implements API.
func (c *Client) UpsertConfigMap(ctx context.Context, cm *corev1.ConfigMap) error {
	if cm.Namespace == "" || cm.Name == "" {
		return fmt.Errorf("config map namespace and name are required")
	}
	maps := c.clientset.CoreV1().ConfigMaps(cm.Namespace)

	existing, err := maps.Get(ctx, cm.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := maps.Create(ctx, cm, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create config map %s/%s: %w", cm.Namespace, cm.Name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get config map %s/%s: %w", cm.Namespace, cm.Name, err)
	}

	updated := cm.DeepCopy()
	updated.ResourceVersion = existing.ResourceVersion
	if _, err := maps.Update(ctx, updated, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update config map %s/%s: %w", cm.Namespace, cm.Name, err)
	}
	return nil
}
