package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
)

// newOutputsCommand creates the "outputs" subcommand printing the provisioner outputs.
func newOutputsCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "outputs",
		Short: "Print infrastructure outputs used by the pipeline",
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

			outputs, err := deps.Provisioner.Outputs(cmd.Context())
			if err != nil {
				return apperrors.Wrap(apperrors.KindOutputNotAvailable, err, "read infrastructure outputs").
					WithRemediation("provision the infrastructure first with deployctl")
			}
			if len(outputs) == 0 {
				return apperrors.New(apperrors.KindOutputNotAvailable, "no infrastructure outputs").
					WithRemediation("provision the infrastructure first with deployctl")
			}

			keys := make([]string, 0, len(outputs))
			for k := range outputs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				_, _ = fmt.Fprintf(opts.Stdout, "%s = %s\n", k, outputs[k])
			}
			return nil
		},
	}
}
