// Package kube provides the cluster API used by the pipeline, backed by client-go, and a kubectl
// helper for local port-forward tunnels.
package kube

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
)

// API is the set of cluster operations the pipeline depends on.
type API interface {
	// ListNodes returns the node names. Used as the liveness probe.
	ListNodes(ctx context.Context) ([]string, error)
	// ApplyManifests applies multi-document YAML with server-side apply and returns the number
	// of objects applied. Namespaced objects without a namespace go to defaultNamespace.
	ApplyManifests(ctx context.Context, manifests []byte, fieldManager, defaultNamespace string) (int, error)
	// DeploymentStatus reports replica counts of a deployment.
	DeploymentStatus(ctx context.Context, namespace, name string) (DeploymentStatus, error)
	// IngressHostname returns the load-balancer hostname of an ingress, or "" if not yet assigned.
	IngressHostname(ctx context.Context, namespace, name string) (string, error)
	// ServiceHostname returns the load-balancer hostname of a service, or "" if not yet assigned.
	ServiceHostname(ctx context.Context, namespace, name string) (string, error)
	// EnsureNamespace creates the namespace if it does not exist.
	EnsureNamespace(ctx context.Context, name string) error
	// UpsertSecret creates or updates an opaque secret.
	UpsertSecret(ctx context.Context, secret *corev1.Secret) error
	// UpsertConfigMap creates or updates a config map.
	UpsertConfigMap(ctx context.Context, cm *corev1.ConfigMap) error
}

// Client implements API with client-go.
type Client struct {
	clientset     kubernetes.Interface
	dynamicClient dynamic.Interface
	mapper        meta.RESTMapper
}

var _ API = (*Client)(nil)

// NewFromKubeconfig creates a Client from a kubeconfig file and optional context name. An empty
// path uses KUBECONFIG or ~/.kube/config.
// Discovery is deferred until the first apply, so construction does not contact the cluster.
func NewFromKubeconfig(path, kubeContext string) (*Client, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	rules.ExplicitPath = path
	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		rules,
		&clientcmd.ConfigOverrides{CurrentContext: kubeContext},
	)
	restConfig, err := loader.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig %q: %w", path, err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	discoveryClient, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(discoveryClient))

	return NewFromClients(clientset, dynamicClient, mapper), nil
}

// NewFromClients creates a Client from pre-configured clients.
func NewFromClients(clientset kubernetes.Interface, dynamicClient dynamic.Interface, mapper meta.RESTMapper) *Client {
	return &Client{
		clientset:     clientset,
		dynamicClient: dynamicClient,
		mapper:        mapper,
	}
}
