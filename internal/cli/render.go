package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/deployctl/internal/engine"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/infra"
	"github.com/codex-k8s/deployctl/internal/registry"
)

// newRenderCommand creates the "render" subcommand that prints the workload manifests a rollout would apply.
func newRenderCommand(opts *Options) *cobra.Command {
	var (
		outputDir   string
		withOutputs bool
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render workload manifests from deploy.yaml",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			deps, err := opts.wire(cmd.Context(), cfg, opts, logger)
			if err != nil {
				return err
			}

			desc, err := deps.Registry()
			if err != nil {
				return err
			}
			revision := registry.Revision(cfg.Path(cfg.Image.Context))
			if deps.Revision != nil {
				revision = deps.Revision()
			}
			ref, err := registry.ImageReference(desc, cfg.Project, revision)
			if err != nil {
				return err
			}

			values := engine.Values{
				Project:   cfg.Project,
				Namespace: cfg.Rollout.Namespace,
				Image:     ref,
				Revision:  revision,
				Env:       cfg.Env,
			}
			if withOutputs {
				outputs, err := deps.Provisioner.Outputs(cmd.Context())
				if err != nil {
					return apperrors.Wrap(apperrors.KindOutputNotAvailable, err, "read infrastructure outputs")
				}
				values.ClusterName, _ = outputs.Lookup(infra.OutputClusterName)
				values.DatabaseEndpoint, _ = outputs.Lookup(infra.OutputDatabaseEndpoint)
				values.Hostname, _ = outputs.Lookup(infra.OutputLoadBalancerHostname)
			}

			rendered, err := engine.NewRenderer(cfg.Root).RenderWorkload(cfg.Rollout.Manifests, values, cfg.Rollout.Deployments)
			if err != nil {
				return err
			}

			if outputDir == "" {
				_, writeErr := opts.Stdout.Write(rendered)
				return writeErr
			}

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("create output directory %q: %w", outputDir, err)
			}

			outPath := filepath.Join(outputDir, "rendered.yaml")
			if err := os.WriteFile(outPath, rendered, 0o644); err != nil {
				return fmt.Errorf("write rendered manifests to %q: %w", outPath, err)
			}

			logger.Info("rendered manifests", "path", outPath, "image", ref)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory for rendered manifests (if empty, prints to stdout)")
	cmd.Flags().BoolVar(&withOutputs, "outputs", false, "Fill cluster, database and hostname values from infrastructure outputs")

	return cmd
}
