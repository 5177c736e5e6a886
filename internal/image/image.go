// Package image builds and pushes the application image with the docker CLI.
package image

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/codex-k8s/deployctl/internal/command"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/logging"
)

// Spec describes a docker build.
type Spec struct {
	Context    string
	Dockerfile string
	Platform   string
	BuildArgs  map[string]string
}

// Builder runs docker build and docker push.
type Builder struct {
	runner command.Runner
	logger *slog.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(runner command.Runner, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Builder{runner: runner, logger: logger}
}

// BuildArgs returns the docker build arguments for ref and spec.
func BuildArgs(ref string, spec Spec) []string {
	args := []string{"build", "-t", ref}
	if dockerfile := strings.TrimSpace(spec.Dockerfile); dockerfile != "" {
		args = append(args, "-f", dockerfile)
	}
	if platform := strings.TrimSpace(spec.Platform); platform != "" {
		args = append(args, "--platform", platform)
	}

	keys := make([]string, 0, len(spec.BuildArgs))
	for k := range spec.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, strings.TrimSpace(spec.BuildArgs[k])))
	}

	contextPath := strings.TrimSpace(spec.Context)
	if contextPath == "" {
		contextPath = "."
	}
	return append(args, contextPath)
}

// Build builds spec and tags the result as ref.
func (b *Builder) Build(ctx context.Context, ref string, spec Spec) error {
	b.logger.Info("building image", "image", ref, "dockerfile", spec.Dockerfile, "context", spec.Context, "platform", spec.Platform)
	if err := b.runner.Run(ctx, "", "docker", BuildArgs(ref, spec)...); err != nil {
		return b.fail(ctx, err, "docker build for %s", ref)
	}
	return nil
}

// Push pushes ref. credentials names the registry login the docker client is expected to hold.
func (b *Builder) Push(ctx context.Context, ref, credentials string) error {
	b.logger.Info("pushing image", "image", ref, "credentials", credentials)
	if err := b.runner.Run(ctx, "", "docker", "push", ref); err != nil {
		if ctx.Err() != nil {
			return b.fail(ctx, err, "docker push for %s", ref)
		}
		return apperrors.Wrap(apperrors.KindStageFailed, err, "docker push for %s failed", ref).
			WithRemediation("log in to the registry of %s and retry", ref)
	}
	return nil
}

func (b *Builder) fail(ctx context.Context, err error, format string, args ...any) error {
	if ctx.Err() != nil {
		return apperrors.Wrap(apperrors.KindCancelled, ctx.Err(), format+" interrupted", args...)
	}
	return apperrors.Wrap(apperrors.KindStageFailed, err, format+" failed", args...)
}
