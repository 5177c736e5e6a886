package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/codex-k8s/deployctl/internal/cli"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/logging"
)

// main is the entry point for the deployctl CLI binary.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	logger := logging.NewLogger(os.Stderr, logging.LevelInfo)
	err := cli.Execute(ctx, os.Args[1:], logger)
	stop()
	if err != nil {
		if apperrors.KindOf(err) == "" {
			err = apperrors.Wrap(apperrors.KindStageFailed, err, "deployctl failed")
		}
		fmt.Fprintln(os.Stderr, err)
		if remediation := apperrors.RemediationOf(err); remediation != "" {
			fmt.Fprintf(os.Stderr, "  remediation: %s\n", remediation)
		}
		os.Exit(apperrors.ExitCode(err))
	}
}
