package pipeline

import (
	"context"
	"errors"

	"github.com/codex-k8s/deployctl/internal/addons"
	"github.com/codex-k8s/deployctl/internal/cluster"
	"github.com/codex-k8s/deployctl/internal/dbsecret"
	"github.com/codex-k8s/deployctl/internal/engine"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/health"
	"github.com/codex-k8s/deployctl/internal/image"
	"github.com/codex-k8s/deployctl/internal/infra"
	"github.com/codex-k8s/deployctl/internal/registry"
	"github.com/codex-k8s/deployctl/internal/rollout"
	"github.com/codex-k8s/deployctl/internal/state"
)

func (s *Sequencer) initPhase(_ context.Context, _ *state.PipelineState) (outcome, error) {
	s.logger.Info("deploying", "project", s.cfg.Project, "region", s.cfg.Region,
		"skipInfra", s.opts.SkipInfra, "skipBuild", s.opts.SkipBuild)
	return ran, nil
}

// verify checks prerequisites and selects the registry.
func (s *Sequencer) verify(ctx context.Context, st *state.PipelineState) (outcome, error) {
	if s.deps.Preflight != nil {
		if err := s.deps.Preflight.Verify(ctx); err != nil {
			return ran, err
		}
	}

	desc, err := s.deps.Registry()
	if err != nil {
		return ran, err
	}
	s.logger.Info("registry selected", "kind", desc.Kind, "root", desc.Root, "source", desc.Source)
	return ran, st.SetRegistry(desc)
}

// build computes the image reference and, unless skipped, builds and pushes it. The reference
// is recorded even when the build is skipped so later phases can deploy a previously built image.
func (s *Sequencer) build(ctx context.Context, st *state.PipelineState) (outcome, error) {
	if err := st.Require(state.PhaseVerifying); err != nil {
		return ran, err
	}
	desc := st.Registry()
	revision := s.deps.Revision()
	ref, err := registry.ImageReference(desc, s.cfg.Project, revision)
	if err != nil {
		return ran, apperrors.Wrap(apperrors.KindStageFailed, err, "build image reference")
	}
	if revision == "" {
		revision = registry.LatestTag
	}
	if err := st.SetImage(ref, revision); err != nil {
		return ran, err
	}

	if s.opts.SkipBuild {
		s.logger.Info("image build skipped", "image", ref)
		return skipped, nil
	}

	spec := image.Spec{
		Context:    s.cfg.Path(s.cfg.Image.Context),
		Dockerfile: s.cfg.Path(s.cfg.Image.Dockerfile),
		Platform:   s.cfg.Image.Platform,
		BuildArgs:  s.cfg.Image.BuildArgs,
	}
	if err := s.deps.Builder.Build(ctx, ref, spec); err != nil {
		return ran, err
	}
	if !desc.Remote() {
		s.logger.Info("local registry selected, push skipped", "image", ref)
		return ran, nil
	}
	return ran, s.deps.Builder.Push(ctx, ref, desc.CredentialsHandle)
}

// provision applies the infrastructure, or only reads its outputs when infra is skipped.
func (s *Sequencer) provision(ctx context.Context, st *state.PipelineState) (outcome, error) {
	out := ran
	if s.opts.SkipInfra {
		s.logger.Info("infrastructure apply skipped, reading existing outputs")
		out = skipped
	} else {
		delta, err := s.deps.Provisioner.Apply(ctx)
		if err != nil {
			return ran, provisionerError(ctx, err, "apply infrastructure")
		}
		if delta.Empty() {
			s.logger.Info("infrastructure up to date")
		} else {
			s.logger.Info("infrastructure applied", "delta", delta.String())
		}
	}

	outputs, err := s.deps.Provisioner.Outputs(ctx)
	if err != nil {
		return ran, provisionerError(ctx, err, "read infrastructure outputs")
	}

	clusterName, err := outputs.Get(infra.OutputClusterName)
	if err != nil {
		return ran, err
	}
	endpoint, err := outputs.Get(infra.OutputClusterEndpoint)
	if err != nil {
		return ran, err
	}
	if err := st.SetCluster(clusterName, endpoint); err != nil {
		return ran, err
	}

	dbEndpoint, _ := outputs.Lookup(infra.OutputDatabaseEndpoint)
	secretRef, _ := outputs.Lookup(infra.OutputDatabaseSecretARN)
	if err := st.SetDatabase(dbEndpoint, secretRef); err != nil {
		return ran, err
	}
	lbHostname, _ := outputs.Lookup(infra.OutputLoadBalancerHostname)
	if err := st.SetExternalHostname(lbHostname); err != nil {
		return ran, err
	}

	s.logger.Info("infrastructure outputs", "cluster", clusterName, "endpoint", endpoint,
		"database", dbEndpoint, "loadBalancer", lbHostname)
	return out, nil
}

func provisionerError(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return apperrors.Wrap(apperrors.KindCancelled, ctx.Err(), "%s interrupted", msg)
	}
	var classified *apperrors.Error
	if errors.As(err, &classified) {
		return err
	}
	return apperrors.Wrap(apperrors.KindStageFailed, err, "%s", msg)
}

func (s *Sequencer) configure(ctx context.Context, st *state.PipelineState) (outcome, error) {
	if err := st.Require(state.PhaseProvisioning); err != nil {
		return ran, err
	}

	sess, err := s.deps.Cluster.Configure(ctx, cluster.Request{
		ClusterName: st.ClusterName(),
		Region:      s.cfg.Region,
		Kubeconfig:  s.cfg.Path(s.cfg.Cluster.Kubeconfig),
		Timeout:     s.cfg.Cluster.ConnectTimeout,
	})
	if err != nil {
		return ran, err
	}
	if err := st.SetKubeconfig(sess.Kubeconfig); err != nil {
		return ran, err
	}
	services, err := s.clusterServices(sess)
	if err != nil {
		return ran, err
	}
	s.session = sess
	s.services = services
	s.logger.Info("cluster configured", "session", sess.String())
	return ran, nil
}

// clusterServices builds the session-bound collaborators. Rollout and Health are required,
// Secrets and Releases are optional.
func (s *Sequencer) clusterServices(sess cluster.Session) (ClusterServices, error) {
	if s.deps.Services == nil {
		return ClusterServices{}, apperrors.New(apperrors.KindStageFailed, "no cluster services wired")
	}
	services := s.deps.Services(sess)
	if services.Rollout == nil || services.Health == nil {
		return ClusterServices{}, apperrors.New(apperrors.KindStageFailed, "cluster services lack a rollout controller or health verifier")
	}
	return services, nil
}

func (s *Sequencer) installController(ctx context.Context, st *state.PipelineState) (outcome, error) {
	if err := st.Require(state.PhaseConfiguring); err != nil {
		return ran, err
	}
	if !s.cfg.Controller.IsEnabled() || s.deps.Controller == nil {
		return skipped, nil
	}

	rel := addons.ControllerRelease(s.cfg.Controller, st.ClusterName(), s.cfg.Region)
	action, err := s.deps.Controller.InstallOrUpgrade(ctx, s.session.Kubeconfig, s.session.Context, rel)
	if err != nil {
		if ctx.Err() != nil {
			return ran, apperrors.Wrap(apperrors.KindCancelled, ctx.Err(), "controller install interrupted")
		}
		return ran, err
	}
	s.logger.Info("ingress controller ready", "release", rel.Name, "action", action)
	return ran, nil
}

// rollout syncs database credentials, applies the workload and records the release.
func (s *Sequencer) rollout(ctx context.Context, st *state.PipelineState) (outcome, error) {
	if err := st.Require(state.PhaseBuilding, state.PhaseConfiguring); err != nil {
		return ran, err
	}
	ns := s.cfg.Rollout.Namespace

	if s.services.Secrets != nil {
		if _, err := s.services.Secrets.Sync(ctx, dbsecret.Request{
			Namespace:  ns,
			SecretName: s.cfg.Database.SecretName,
			Reference:  st.DatabaseSecretRef(),
			Endpoint:   st.DatabaseEndpoint(),
		}); err != nil {
			return ran, err
		}
	}

	values := engine.Values{
		Project:          s.cfg.Project,
		Namespace:        ns,
		Image:            st.ImageRef(),
		Revision:         st.Revision(),
		ClusterName:      st.ClusterName(),
		DatabaseEndpoint: st.DatabaseEndpoint(),
		Hostname:         st.ExternalHostname(),
		Env:              s.cfg.Env,
	}
	workload, err := s.deps.Renderer.RenderWorkload(s.cfg.Rollout.Manifests, values, s.cfg.Rollout.Deployments)
	if err != nil {
		return ran, apperrors.Wrap(apperrors.KindStageFailed, err, "render workload manifests")
	}
	var extra []byte
	if len(s.cfg.Rollout.ExtraManifests) > 0 {
		if extra, err = s.deps.Renderer.ReadVerbatim(s.cfg.Rollout.ExtraManifests); err != nil {
			return ran, apperrors.Wrap(apperrors.KindStageFailed, err, "read extra manifests")
		}
	}

	res, err := s.services.Rollout.Rollout(ctx, rollout.Request{
		Workload:     workload,
		Extra:        extra,
		Namespace:    ns,
		FieldManager: s.cfg.Rollout.FieldManager,
		Deployments:  s.cfg.Rollout.Deployments,
		Timeout:      s.cfg.Rollout.Timeout,
		Interval:     s.cfg.Rollout.Interval,
	})
	if err != nil {
		return ran, err
	}
	s.logger.Info("workload rolled out", "objects", res.Applied, "observations", res.Observations)

	if s.services.Releases != nil {
		if err := s.services.Releases.Record(ctx, state.Release{
			Project:   s.cfg.Project,
			Namespace: ns,
			Image:     st.ImageRef(),
			Revision:  st.Revision(),
			Cluster:   st.ClusterName(),
		}); err != nil {
			s.logger.Warn("failed to record release", "error", err)
		}
	}
	return ran, nil
}

// verifyHealth polls the application. A HealthCheckTimeout is returned to Run, which downgrades
// it to a warning.
func (s *Sequencer) verifyHealth(ctx context.Context, st *state.PipelineState) (outcome, error) {
	if err := st.Require(state.PhaseRollingOut); err != nil {
		return ran, err
	}
	h := s.cfg.Health
	res, err := s.services.Health.Verify(ctx, health.Target{
		Namespace:            s.cfg.Rollout.Namespace,
		Ingress:              h.Ingress,
		Service:              h.Service,
		LoadBalancerHostname: st.ExternalHostname(),
		Path:                 h.Path,
		Attempts:             h.Attempts,
		Interval:             h.Interval,
		RequestTimeout:       h.RequestTimeout,
		SuccessStatus:        h.SuccessStatus,
	})
	if serr := st.SetHealth(healthURL(res, h.Path), res.Healthy); serr != nil {
		return ran, serr
	}
	if err != nil {
		return ran, err
	}
	s.logger.Info("application healthy", "endpoint", res.Endpoint, "source", res.Source, "attempts", res.Attempts)
	return ran, nil
}

func healthURL(res health.Result, path string) string {
	if res.Endpoint == "" {
		return ""
	}
	return "http://" + res.Endpoint + path
}
