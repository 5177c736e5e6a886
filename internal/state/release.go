package state

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/codex-k8s/deployctl/internal/kube"
	"github.com/codex-k8s/deployctl/internal/logging"
)

// Keys of the release record ConfigMap.
const (
	keyImage      = "image"
	keyRevision   = "revision"
	keyCluster    = "cluster"
	keyDeployedAt = "deployedAt"
)

// Release is what a successful rollout deployed.
type Release struct {
	Project    string
	Namespace  string
	Image      string
	Revision   string
	Cluster    string
	DeployedAt time.Time
}

// ReleaseName returns the ConfigMap name of the release record for project.
func ReleaseName(project string) string {
	return strings.TrimSpace(project) + "-release"
}

// Recorder persists release records as ConfigMaps.
type Recorder struct {
	api    kube.API
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(api kube.API, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{api: api, logger: logger, now: time.Now}
}

// Record creates or updates the release ConfigMap. A zero DeployedAt is stamped with the current time.
func (r *Recorder) Record(ctx context.Context, rel Release) error {
	if rel.Project == "" || rel.Namespace == "" {
		return fmt.Errorf("release record requires project and namespace")
	}
	if rel.DeployedAt.IsZero() {
		rel.DeployedAt = r.now()
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ReleaseName(rel.Project),
			Namespace: rel.Namespace,
			Labels: map[string]string{
				"app.kubernetes.io/name":       rel.Project,
				"app.kubernetes.io/managed-by": "deployctl",
			},
		},
		Data: map[string]string{
			keyImage:      rel.Image,
			keyRevision:   rel.Revision,
			keyCluster:    rel.Cluster,
			keyDeployedAt: rel.DeployedAt.UTC().Format(time.RFC3339),
		},
	}
	if err := r.api.UpsertConfigMap(ctx, cm); err != nil {
		return fmt.Errorf("write release record %s/%s: %w", cm.Namespace, cm.Name, err)
	}
	r.logger.Info("release recorded", "namespace", cm.Namespace, "configmap", cm.Name, "image", rel.Image)
	return nil
}

// ReleaseFromConfigMap decodes a release record.
func ReleaseFromConfigMap(cm *corev1.ConfigMap) (Release, error) {
	rel := Release{
		Project:   strings.TrimSuffix(cm.Name, "-release"),
		Namespace: cm.Namespace,
		Image:     cm.Data[keyImage],
		Revision:  cm.Data[keyRevision],
		Cluster:   cm.Data[keyCluster],
	}
	if raw := cm.Data[keyDeployedAt]; raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Release{}, fmt.Errorf("decode %s of %s: %w", keyDeployedAt, cm.Name, err)
		}
		rel.DeployedAt = t
	}
	return rel, nil
}
