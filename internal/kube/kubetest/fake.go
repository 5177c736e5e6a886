// Package kubetest provides an in-memory kube.API for tests.
package kubetest

import (
	"context"
	"fmt"
	"sync"

	corev1 "k8s.io/api/core/v1"

	"github.com/codex-k8s/deployctl/internal/kube"
)

// StatusFunc returns the status of a deployment on the given observation (1-based).
type StatusFunc func(observation int) (kube.DeploymentStatus, error)

// Fake is a scripted kube.API.
type Fake struct {
	mu sync.Mutex

	Nodes      []string
	NodesErr   error
	ApplyErr   error
	Deployment map[string]StatusFunc
	Ingress    map[string]string
	Service    map[string]string

	Applied      [][]byte
	Namespaces   []string
	Secrets      map[string]*corev1.Secret
	ConfigMaps   map[string]*corev1.ConfigMap
	Observations map[string]int
}

var _ kube.API = (*Fake)(nil)

// New returns an empty Fake with one node.
func New() *Fake {
	return &Fake{
		Nodes:        []string{"node-1"},
		Deployment:   map[string]StatusFunc{},
		Ingress:      map[string]string{},
		Service:      map[string]string{},
		Secrets:      map[string]*corev1.Secret{},
		ConfigMaps:   map[string]*corev1.ConfigMap{},
		Observations: map[string]int{},
	}
}

// ReadyAfter returns a StatusFunc that reports ready from observation n onwards.
func ReadyAfter(n int, replicas int32) StatusFunc {
	return func(obs int) (kube.DeploymentStatus, error) {
		if obs < n {
			return kube.DeploymentStatus{Desired: replicas, Observed: true}, nil
		}
		return kube.DeploymentStatus{Desired: replicas, ReadyReplicas: replicas, Updated: replicas, Observed: true}, nil
	}
}

// ListNodes implements kube.API.
func (f *Fake) ListNodes(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Nodes, f.NodesErr
}

// ApplyManifests implements kube.API.
func (f *Fake) ApplyManifests(_ context.Context, manifests []byte, _, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ApplyErr != nil {
		return 0, f.ApplyErr
	}
	f.Applied = append(f.Applied, manifests)
	return 1, nil
}

// DeploymentStatus implements kube.API.
func (f *Fake) DeploymentStatus(_ context.Context, namespace, name string) (kube.DeploymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := namespace + "/" + name
	f.Observations[key]++
	fn, ok := f.Deployment[key]
	if !ok {
		return kube.DeploymentStatus{}, fmt.Errorf("deployment %s not found", key)
	}
	return fn(f.Observations[key])
}

// IngressHostname implements kube.API.
func (f *Fake) IngressHostname(_ context.Context, namespace, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Ingress[namespace+"/"+name], nil
}

// ServiceHostname implements kube.API.
func (f *Fake) ServiceHostname(_ context.Context, namespace, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Service[namespace+"/"+name], nil
}

// EnsureNamespace implements kube.API.
func (f *Fake) EnsureNamespace(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Namespaces = append(f.Namespaces, name)
	return nil
}

// UpsertSecret implements kube.API.
func (f *Fake) UpsertSecret(_ context.Context, secret *corev1.Secret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[secret.Namespace+"/"+secret.Name] = secret.DeepCopy()
	return nil
}

// UpsertConfigMap implements kube.API.
func (f *Fake) UpsertConfigMap(_ context.Context, cm *corev1.ConfigMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConfigMaps[cm.Namespace+"/"+cm.Name] = cm.DeepCopy()
	return nil
}
