// Package pipeline sequences the deployment phases and threads their state.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/codex-k8s/deployctl/internal/addons"
	"github.com/codex-k8s/deployctl/internal/cluster"
	"github.com/codex-k8s/deployctl/internal/config"
	"github.com/codex-k8s/deployctl/internal/dbsecret"
	"github.com/codex-k8s/deployctl/internal/engine"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/health"
	"github.com/codex-k8s/deployctl/internal/image"
	"github.com/codex-k8s/deployctl/internal/infra"
	"github.com/codex-k8s/deployctl/internal/logging"
	"github.com/codex-k8s/deployctl/internal/registry"
	"github.com/codex-k8s/deployctl/internal/rollout"
	"github.com/codex-k8s/deployctl/internal/state"
)

// Options are the run-time switches of one run.
type Options struct {
	SkipInfra bool
	SkipBuild bool
}

// Preflight checks tools and credentials.
type Preflight interface {
	Verify(ctx context.Context) error
}

// ImageBuilder builds and pushes the application image.
type ImageBuilder interface {
	Build(ctx context.Context, ref string, spec image.Spec) error
	Push(ctx context.Context, ref, credentials string) error
}

// ClusterConfigurator establishes cluster access.
type ClusterConfigurator interface {
	Configure(ctx context.Context, req cluster.Request) (cluster.Session, error)
}

// ControllerInstaller installs the ingress controller.
type ControllerInstaller interface {
	InstallOrUpgrade(ctx context.Context, kubeconfig, kubeContext string, rel addons.Release) (addons.Action, error)
}

// SecretSyncer copies database credentials into the cluster.
type SecretSyncer interface {
	Sync(ctx context.Context, req dbsecret.Request) (bool, error)
}

// WorkloadRollout applies workloads and waits for readiness.
type WorkloadRollout interface {
	Rollout(ctx context.Context, req rollout.Request) (rollout.Result, error)
}

// HealthVerifier polls the application health endpoint.
type HealthVerifier interface {
	Verify(ctx context.Context, t health.Target) (health.Result, error)
}

// ReleaseRecorder persists what was deployed.
type ReleaseRecorder interface {
	Record(ctx context.Context, rel state.Release) error
}

// ClusterServices are the collaborators that need an established cluster session.
type ClusterServices struct {
	Secrets  SecretSyncer
	Rollout  WorkloadRollout
	Health   HealthVerifier
	Releases ReleaseRecorder
}

// Deps are the collaborators of a Sequencer.
type Deps struct {
	Preflight   Preflight
	Registry    func() (registry.Descriptor, error)
	Revision    func() string
	Builder     ImageBuilder
	Provisioner infra.Provisioner
	Cluster     ClusterConfigurator
	Controller  ControllerInstaller
	// Services builds the session-bound collaborators once the cluster is reachable. It is
	// required and must return a Rollout and a Health collaborator.
	Services    func(s cluster.Session) ClusterServices
	Renderer    *engine.Renderer
}

// Status is how a phase ended.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusWarned    Status = "warned"
	StatusFailed    Status = "failed"
)

// StageResult is the outcome of one phase.
type StageResult struct {
	Phase    state.Phase
	Status   Status
	Duration time.Duration
	Err      error
}

// Sequencer runs the phases in order.
type Sequencer struct {
	cfg    *config.Config
	opts   Options
	deps   Deps
	logger *slog.Logger

	session  cluster.Session
	services ClusterServices
}

// New constructs a Sequencer.
func New(cfg *config.Config, opts Options, deps Deps, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = logging.Discard()
	}
	if deps.Renderer == nil {
		deps.Renderer = engine.NewRenderer(cfg.Root)
	}
	if deps.Revision == nil {
		dir := cfg.Path(cfg.Image.Context)
		deps.Revision = func() string { return registry.Revision(dir) }
	}
	return &Sequencer{cfg: cfg, opts: opts, deps: deps, logger: logger}
}

// outcome is what a phase function reports besides an error.
type outcome int

const (
	ran outcome = iota
	skipped
)

type phaseFunc func(ctx context.Context, st *state.PipelineState) (outcome, error)

// Run executes every phase. It stops at the first fatal failure and returns the state reached,
// the per-phase results and the classified error. A failed health check is a warning and the
// run still reaches done.
func (s *Sequencer) Run(ctx context.Context) (*state.PipelineState, []StageResult, error) {
	st := state.New()
	var results []StageResult
	start := time.Now()

	phases := []struct {
		phase state.Phase
		run   phaseFunc
	}{
		{state.PhaseInit, s.initPhase},
		{state.PhaseVerifying, s.verify},
		{state.PhaseBuilding, s.build},
		{state.PhaseProvisioning, s.provision},
		{state.PhaseConfiguring, s.configure},
		{state.PhaseControllerInstall, s.installController},
		{state.PhaseRollingOut, s.rollout},
		{state.PhaseVerifyingHealth, s.verifyHealth},
	}

	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			cerr := apperrors.InPhase(apperrors.Wrap(apperrors.KindCancelled, err, "run interrupted"), string(p.phase))
			results = append(results, StageResult{Phase: p.phase, Status: StatusFailed, Err: cerr})
			return st, results, cerr
		}

		phaseStart := time.Now()
		s.logger.Info("phase started", "phase", p.phase)
		out, err := p.run(ctx, st)
		res := StageResult{Phase: p.phase, Duration: time.Since(phaseStart).Round(time.Millisecond)}

		switch {
		case err != nil && !apperrors.KindOf(err).Fatal():
			res.Status, res.Err = StatusWarned, apperrors.InPhase(err, string(p.phase))
			st.Complete(p.phase)
			s.logger.Warn("phase completed with warning", "phase", p.phase, "duration", res.Duration,
				"error", err, "remediation", apperrors.RemediationOf(err))
		case err != nil:
			res.Status, res.Err = StatusFailed, apperrors.InPhase(err, string(p.phase))
			results = append(results, res)
			s.logger.Error("phase failed", "phase", p.phase, "duration", res.Duration, "error", err)
			return st, results, res.Err
		case out == skipped:
			res.Status = StatusSkipped
			st.Skip(p.phase)
			s.logger.Info("phase skipped", "phase", p.phase)
		default:
			res.Status = StatusCompleted
			st.Complete(p.phase)
			s.logger.Info("phase completed", "phase", p.phase, "duration", res.Duration)
		}
		results = append(results, res)
	}

	st.Complete(state.PhaseDone)
	results = append(results, StageResult{Phase: state.PhaseDone, Status: StatusCompleted})
	s.logger.Info("deployment done", "image", st.ImageRef(), "cluster", st.ClusterName(),
		"healthy", st.Healthy(), "duration", time.Since(start).Round(time.Millisecond))
	return st, results, nil
}
