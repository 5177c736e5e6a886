// Package cli defines the command-line interface for deployctl.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/deployctl/internal/config"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/logging"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath string
	LogLevel   logging.Level
	SkipInfra  bool
	SkipBuild  bool

	// Stdout receives command results (outputs, summaries). Logs go to stderr.
	Stdout io.Writer
	// wire builds pipeline collaborators; replaced in tests.
	wire wireFunc
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(ctx context.Context, args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	rootOpts := &Options{
		ConfigPath: config.DefaultPath,
		LogLevel:   logging.LevelInfo,
		Stdout:     os.Stdout,
		wire:       wireDeps,
	}

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(ctx)
}

// newRootCommand constructs the root cobra.Command. Running it without a subcommand deploys.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployctl",
		Short: "deployctl provisions, builds, rolls out and verifies the application",
		Long: "deployctl runs the deployment pipeline described by deploy.yaml: prerequisite checks, image build and push, " +
			"infrastructure apply, cluster access, ingress controller install, workload rollout and a health check.",
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := applyEnvDefaults(cmd, opts); err != nil {
				return err
			}
			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			opts.LogLevel = level
			logger = logging.NewLogger(os.Stderr, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDeploy(cmd.Context(), LoggerFromContext(cmd.Context()), opts)
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return apperrors.Wrap(apperrors.KindUsageError, err, "invalid flags").
			WithRemediation("run deployctl --help for usage")
	})

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath, "Path to deploy.yaml configuration file")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.SkipInfra, "skip-infra", false, "Reuse provisioned infrastructure and only read its outputs")
	cmd.Flags().BoolVar(&opts.SkipBuild, "skip-build", false, "Deploy the image reference without building or pushing it")

	cmd.AddCommand(
		newDoctorCommand(opts),
		newOutputsCommand(opts),
		newRenderCommand(opts),
	)

	return cmd
}

// usageArgs classifies positional argument errors as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return apperrors.Wrap(apperrors.KindUsageError, err, "invalid arguments").
				WithRemediation("run deployctl --help for usage")
		}
		return nil
	}
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
