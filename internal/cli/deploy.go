package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/codex-k8s/deployctl/internal/config"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/ghoutput"
	"github.com/codex-k8s/deployctl/internal/pipeline"
)

// loadConfig reads deploy.yaml. Any failure is a usage error: the run never started.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUsageError, err, "load configuration").
			WithRemediation("check %s or pass --config", opts.ConfigPath)
	}
	applyKubeconfigOverride(cfg)
	return cfg, nil
}

// runDeploy runs the full pipeline and reports the outcome.
func runDeploy(ctx context.Context, logger *slog.Logger, opts *Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	deps, err := opts.wire(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}

	seq := pipeline.New(cfg, pipeline.Options{SkipInfra: opts.SkipInfra, SkipBuild: opts.SkipBuild}, deps, logger)
	st, results, runErr := seq.Run(ctx)
	printSummary(opts.Stdout, results)

	if runErr != nil {
		return runErr
	}
	if err := ghoutput.Write(st.Outputs()); err != nil {
		logger.Warn("failed to write GitHub Actions outputs", "error", err)
	}
	return nil
}

// printSummary writes one line per phase.
func printSummary(w io.Writer, results []pipeline.StageResult) {
	if w == nil || len(results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range results {
		line := fmt.Sprintf("%s\t%s\t%s", r.Phase, r.Status, r.Duration)
		if r.Err != nil {
			line += "\t" + string(apperrors.KindOf(r.Err))
		}
		_, _ = fmt.Fprintln(tw, line)
	}
	_ = tw.Flush()
}
