package image

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/deployctl/internal/command/commandtest"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
)

const ref = "registry.example.com/webapp:abc1234"

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec Spec
		want []string
	}{
		{
			name: "defaults",
			spec: Spec{},
			want: []string{"build", "-t", ref, "."},
		},
		{
			name: "all options",
			spec: Spec{
				Context:    "app",
				Dockerfile: "app/Dockerfile",
				Platform:   "linux/amd64",
				BuildArgs:  map[string]string{"VERSION": " abc1234 ", "APP_ENV": "prod"},
			},
			want: []string{
				"build", "-t", ref, "-f", "app/Dockerfile", "--platform", "linux/amd64",
				"--build-arg", "APP_ENV=prod", "--build-arg", "VERSION=abc1234", "app",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, BuildArgs(ref, tt.spec))
		})
	}
}

func TestBuildAndPush(t *testing.T) {
	t.Parallel()

	runner := commandtest.New()
	b := NewBuilder(runner, nil)

	require.NoError(t, b.Build(context.Background(), ref, Spec{Context: "."}))
	require.NoError(t, b.Push(context.Background(), ref, "deploy"))
	assert.Equal(t, []string{
		"docker build -t " + ref + " .",
		"docker push " + ref,
	}, runner.Lines())
}

func TestBuildAndPush_Failures(t *testing.T) {
	t.Parallel()

	runner := commandtest.New().
		On("docker build", "", commandtest.ExitError(1)).
		On("docker push", "", commandtest.ExitError(1))
	b := NewBuilder(runner, nil)

	err := b.Build(context.Background(), ref, Spec{})
	assert.True(t, apperrors.Is(err, apperrors.KindStageFailed))

	err = b.Push(context.Background(), ref, "")
	assert.True(t, apperrors.Is(err, apperrors.KindStageFailed))
	assert.Contains(t, apperrors.RemediationOf(err), "log in to the registry")
}

func TestBuild_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewBuilder(commandtest.New(), nil).Build(ctx, ref, Spec{})
	assert.True(t, apperrors.Is(err, apperrors.KindCancelled))
}
