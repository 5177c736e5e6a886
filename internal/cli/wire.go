package cli

import (
	"context"
	"log/slog"

	"github.com/codex-k8s/deployctl/internal/addons"
	"github.com/codex-k8s/deployctl/internal/cluster"
	"github.com/codex-k8s/deployctl/internal/command"
	"github.com/codex-k8s/deployctl/internal/config"
	"github.com/codex-k8s/deployctl/internal/dbsecret"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/health"
	"github.com/codex-k8s/deployctl/internal/image"
	"github.com/codex-k8s/deployctl/internal/infra"
	"github.com/codex-k8s/deployctl/internal/kube"
	"github.com/codex-k8s/deployctl/internal/pipeline"
	"github.com/codex-k8s/deployctl/internal/prereq"
	"github.com/codex-k8s/deployctl/internal/registry"
	"github.com/codex-k8s/deployctl/internal/rollout"
	"github.com/codex-k8s/deployctl/internal/state"
)

// wireFunc builds the pipeline collaborators for a loaded config.
type wireFunc func(ctx context.Context, cfg *config.Config, opts *Options, logger *slog.Logger) (pipeline.Deps, error)

// wireDeps connects the pipeline to terraform, docker, the aws CLI and SDK, helm and the cluster.
func wireDeps(ctx context.Context, cfg *config.Config, opts *Options, logger *slog.Logger) (pipeline.Deps, error) {
	runner := command.NewExec(logger)

	probe, err := prereq.NewSTSProbe(ctx, cfg.Region)
	if err != nil {
		return pipeline.Deps{}, apperrors.Wrap(apperrors.KindPrerequisiteMissing, err, "load AWS configuration").
			WithRemediation("configure AWS credentials (aws configure or AWS_PROFILE)")
	}
	secrets, err := dbsecret.NewSecretsClient(ctx, cfg.Region)
	if err != nil {
		return pipeline.Deps{}, apperrors.Wrap(apperrors.KindPrerequisiteMissing, err, "load AWS configuration")
	}

	registryDir := cfg.Path(cfg.Registry.Dir)
	h := cfg.Health

	return pipeline.Deps{
		Preflight: prereq.NewVerifier(prereq.RequiredTools(opts.SkipBuild), probe, logger),
		Registry: func() (registry.Descriptor, error) {
			return registry.Resolve(registryDir, cfg.Env)
		},
		Builder:     image.NewBuilder(runner, logger),
		Provisioner: infra.NewTerraform(runner, cfg.Path(cfg.Infra.Dir), cfg.Infra.Vars, logger),
		Cluster:     cluster.NewConfigurator(runner, nil, logger),
		Controller:  addons.NewInstaller(logger),
		Services: func(sess cluster.Session) pipeline.ClusterServices {
			tunneler := health.KubectlTunneler{
				Kubectl:    kube.NewKubectl(sess.Kubeconfig, sess.Context, logger),
				Namespace:  cfg.Rollout.Namespace,
				Service:    h.Service,
				LocalPort:  h.LocalPort,
				RemotePort: h.ServicePort,
			}
			return pipeline.ClusterServices{
				Secrets:  dbsecret.NewSyncer(secrets, sess.API, logger),
				Rollout:  rollout.NewController(sess.API, logger),
				Health:   health.NewVerifier(sess.API, tunneler, logger),
				Releases: state.NewRecorder(sess.API, logger),
			}
		},
	}, nil
}
