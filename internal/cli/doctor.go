package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/deployctl/internal/registry"
)

// newDoctorCommand creates the "doctor" subcommand that runs prerequisite checks and registry selection.
func newDoctorCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check tools, credentials and registry configuration",
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

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			if deps.Preflight != nil {
				if err := deps.Preflight.Verify(ctx); err != nil {
					return err
				}
			}

			desc, err := deps.Registry()
			if err != nil {
				return err
			}
			var revision string
			if deps.Revision != nil {
				revision = deps.Revision()
			} else {
				revision = registry.Revision(cfg.Path(cfg.Image.Context))
			}
			ref, err := registry.ImageReference(desc, cfg.Project, revision)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(opts.Stdout, "registry\t%s (%s)\nimage\t%s\n", desc.Kind, desc.Source, ref)
			logger.Info("doctor checks completed successfully", "registry", desc.Kind, "image", ref)
			return nil
		},
	}
	return cmd
}
