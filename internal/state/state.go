// Package state defines the record threaded through pipeline phases and the release record
// persisted in the cluster after a rollout.
package state

import (
	"fmt"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/registry"
)

// Phase is one step of the pipeline.
type Phase string

const (
	PhaseInit              Phase = "init"
	PhaseVerifying         Phase = "verifying"
	PhaseBuilding          Phase = "building"
	PhaseProvisioning      Phase = "provisioning"
	PhaseConfiguring       Phase = "configuring"
	PhaseControllerInstall Phase = "controller-install"
	PhaseRollingOut        Phase = "rolling-out"
	PhaseVerifyingHealth   Phase = "verifying-health"
	PhaseDone              Phase = "done"
)

// Phases returns the phases in execution order.
func Phases() []Phase {
	return []Phase{
		PhaseInit,
		PhaseVerifying,
		PhaseBuilding,
		PhaseProvisioning,
		PhaseConfiguring,
		PhaseControllerInstall,
		PhaseRollingOut,
		PhaseVerifyingHealth,
		PhaseDone,
	}
}

// Marker records how a phase ended.
type Marker string

const (
	MarkerCompleted Marker = "completed"
	MarkerSkipped   Marker = "skipped"
)

// PipelineState is the record phases read from and write to. Fields are append-only: a set
// field may be set again only to the same value.
type PipelineState struct {
	registry          registry.Descriptor
	imageRef          string
	revision          string
	clusterName       string
	clusterEndpoint   string
	databaseEndpoint  string
	databaseSecretRef string
	externalHostname  string
	kubeconfig        string
	healthEndpoint    string
	healthy           bool

	markers map[Phase]Marker
}

// New returns an empty state.
func New() *PipelineState {
	return &PipelineState{markers: map[Phase]Marker{}}
}

// Complete marks phase as completed.
func (s *PipelineState) Complete(phase Phase) { s.markers[phase] = MarkerCompleted }

// Skip marks phase as skipped.
func (s *PipelineState) Skip(phase Phase) { s.markers[phase] = MarkerSkipped }

// Marker returns the marker of phase, or "" if it has not ended.
func (s *PipelineState) Marker(phase Phase) Marker { return s.markers[phase] }

// Passed reports whether phase completed or was skipped.
func (s *PipelineState) Passed(phase Phase) bool { return s.markers[phase] != "" }

// Require fails unless every phase in phases has passed. Phases call it before reading fields
// produced by an earlier phase.
func (s *PipelineState) Require(phases ...Phase) error {
	for _, p := range phases {
		if !s.Passed(p) {
			return apperrors.New(apperrors.KindStageFailed, "phase %s has not run", p)
		}
	}
	return nil
}

func setOnce(field string, dst *string, v string) error {
	if v == "" || *dst == v {
		return nil
	}
	if *dst != "" {
		return apperrors.New(apperrors.KindStageFailed, "%s already set to %q, refusing %q", field, *dst, v)
	}
	*dst = v
	return nil
}

// SetRegistry records the selected registry.
func (s *PipelineState) SetRegistry(d registry.Descriptor) error {
	if s.registry.Kind != "" && s.registry != d {
		return apperrors.New(apperrors.KindStageFailed, "registry already selected as %s", s.registry.Kind)
	}
	s.registry = d
	return nil
}

// SetImage records the canonical image reference and the revision it was tagged with.
func (s *PipelineState) SetImage(ref, revision string) error {
	if err := setOnce("image reference", &s.imageRef, ref); err != nil {
		return err
	}
	return setOnce("revision", &s.revision, revision)
}

// SetCluster records the cluster identifier and API endpoint.
func (s *PipelineState) SetCluster(name, endpoint string) error {
	if err := setOnce("cluster name", &s.clusterName, name); err != nil {
		return err
	}
	return setOnce("cluster endpoint", &s.clusterEndpoint, endpoint)
}

// SetDatabase records the data-store endpoint and credential reference.
func (s *PipelineState) SetDatabase(endpoint, secretRef string) error {
	if err := setOnce("database endpoint", &s.databaseEndpoint, endpoint); err != nil {
		return err
	}
	return setOnce("database secret reference", &s.databaseSecretRef, secretRef)
}

// SetExternalHostname records the externally reachable hostname.
func (s *PipelineState) SetExternalHostname(h string) error {
	return setOnce("external hostname", &s.externalHostname, h)
}

// SetKubeconfig records the kubeconfig written for the cluster.
func (s *PipelineState) SetKubeconfig(path string) error {
	return setOnce("kubeconfig", &s.kubeconfig, path)
}

// SetHealth records the health check outcome.
func (s *PipelineState) SetHealth(endpoint string, healthy bool) error {
	if err := setOnce("health endpoint", &s.healthEndpoint, endpoint); err != nil {
		return err
	}
	s.healthy = s.healthy || healthy
	return nil
}

// Registry returns the selected registry backend.
func (s *PipelineState) Registry() registry.Descriptor { return s.registry }

// ImageRef returns the canonical image reference.
func (s *PipelineState) ImageRef() string { return s.imageRef }

// Revision returns the revision the image tag was derived from, empty when unknown.
func (s *PipelineState) Revision() string { return s.revision }

// ClusterName returns the cluster identifier.
func (s *PipelineState) ClusterName() string { return s.clusterName }

// ClusterEndpoint returns the cluster API endpoint.
func (s *PipelineState) ClusterEndpoint() string { return s.clusterEndpoint }

// DatabaseEndpoint returns the data-store endpoint, empty when none was provisioned.
func (s *PipelineState) DatabaseEndpoint() string { return s.databaseEndpoint }

// DatabaseSecretRef returns the database credential reference.
func (s *PipelineState) DatabaseSecretRef() string { return s.databaseSecretRef }

// ExternalHostname returns the load-balancer hostname reported by the provisioner.
func (s *PipelineState) ExternalHostname() string { return s.externalHostname }

// Kubeconfig returns the kubeconfig path written while configuring the cluster.
func (s *PipelineState) Kubeconfig() string { return s.kubeconfig }

// HealthEndpoint returns the URL the health check polled.
func (s *PipelineState) HealthEndpoint() string { return s.healthEndpoint }

// Healthy reports whether the health check observed the success status.
func (s *PipelineState) Healthy() bool { return s.healthy }

// Outputs returns the values reported to CI.
func (s *PipelineState) Outputs() map[string]string {
	return map[string]string{
		"image":    s.imageRef,
		"cluster":  s.clusterName,
		"endpoint": s.healthEndpoint,
		"health":   fmt.Sprintf("%t", s.healthy),
	}
}
