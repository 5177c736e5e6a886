package cli

import (
	"os"
	"strings"

	envparse "github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
)

// baseEnv defines root CLI defaults sourced from DEPLOYCTL_* env vars.
type baseEnv struct {
	// ConfigPath is the deploy.yaml path from DEPLOYCTL_CONFIG.
	ConfigPath string `env:"DEPLOYCTL_CONFIG"`
	// LogLevel is the logging level from DEPLOYCTL_LOG_LEVEL.
	LogLevel string `env:"DEPLOYCTL_LOG_LEVEL"`
	// SkipInfra mirrors --skip-infra.
	SkipInfra bool `env:"DEPLOYCTL_SKIP_INFRA"`
	// SkipBuild mirrors --skip-build.
	SkipBuild bool `env:"DEPLOYCTL_SKIP_BUILD"`
}

// parseEnv fills target from DEPLOYCTL_* env vars via caarlos0/env.
func parseEnv(target interface{}) error {
	return envparse.Parse(target)
}

// envPresent reports whether a non-empty env var exists.
func envPresent(key string) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	return strings.TrimSpace(val) != ""
}

// applyEnvDefaults fills options from DEPLOYCTL_* variables for flags not set on the command line.
func applyEnvDefaults(cmd *cobra.Command, opts *Options) error {
	var e baseEnv
	if err := parseEnv(&e); err != nil {
		return apperrors.Wrap(apperrors.KindUsageError, err, "invalid DEPLOYCTL_* environment")
	}

	flags := cmd.Flags()
	if e.ConfigPath != "" && !flags.Changed("config") {
		opts.ConfigPath = e.ConfigPath
	}
	if e.LogLevel != "" && !flags.Changed("log-level") {
		if err := flags.Set("log-level", e.LogLevel); err != nil {
			return apperrors.Wrap(apperrors.KindUsageError, err, "invalid DEPLOYCTL_LOG_LEVEL")
		}
	}
	if envPresent("DEPLOYCTL_SKIP_INFRA") && flags.Lookup("skip-infra") != nil && !flags.Changed("skip-infra") {
		opts.SkipInfra = e.SkipInfra
	}
	if envPresent("DEPLOYCTL_SKIP_BUILD") && flags.Lookup("skip-build") != nil && !flags.Changed("skip-build") {
		opts.SkipBuild = e.SkipBuild
	}
	return nil
}
