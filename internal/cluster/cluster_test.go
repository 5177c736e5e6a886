package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/deployctl/internal/command/commandtest"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/kube"
	"github.com/codex-k8s/deployctl/internal/kube/kubetest"
)

func request() Request {
	return Request{ClusterName: "webapp-eks", Region: "us-east-1", Kubeconfig: "/tmp/kubeconfig", Timeout: time.Second}
}

func TestConfigure_Success(t *testing.T) {
	t.Parallel()

	runner := commandtest.New()
	api := kubetest.New()
	api.Nodes = []string{"a", "b"}

	var gotPath, gotContext string
	c := NewConfigurator(runner, func(path, kubeContext string) (kube.API, error) {
		gotPath, gotContext = path, kubeContext
		return api, nil
	}, nil)

	s, err := c.Configure(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Nodes)
	assert.Equal(t, "webapp-eks", s.Context)
	assert.Equal(t, "webapp-eks (2 nodes)", s.String())
	assert.Equal(t, "/tmp/kubeconfig", gotPath)
	assert.Equal(t, "webapp-eks", gotContext)
	assert.Equal(t, []string{
		"aws eks update-kubeconfig --name webapp-eks --region us-east-1 --alias webapp-eks --kubeconfig /tmp/kubeconfig",
	}, runner.Lines())
}

func TestConfigure_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		runner  *commandtest.Fake
		connect ConnectFunc
	}{
		{
			name:   "update-kubeconfig fails",
			runner: commandtest.New().On("aws eks", "", commandtest.ExitError(254)),
			connect: func(string, string) (kube.API, error) {
				t.Error("connect must not be called")
				return nil, nil
			},
		},
		{
			name:    "kubeconfig invalid",
			runner:  commandtest.New(),
			connect: func(string, string) (kube.API, error) { return nil, errors.New("context not found") },
		},
		{
			name:   "list nodes fails",
			runner: commandtest.New(),
			connect: func(string, string) (kube.API, error) {
				api := kubetest.New()
				api.NodesErr = errors.New("Unauthorized")
				return api, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewConfigurator(tt.runner, tt.connect, nil).Configure(context.Background(), request())
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.KindClusterUnreachable))
			assert.True(t, apperrors.KindOf(err).Fatal())
			assert.Contains(t, apperrors.RemediationOf(err), "describe-cluster --name webapp-eks")
			assert.LessOrEqual(t, tt.runner.Count("aws eks"), 1)
		})
	}
}

func TestConfigure_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewConfigurator(commandtest.New(), nil, nil).Configure(ctx, request())
	assert.True(t, apperrors.Is(err, apperrors.KindCancelled))
}
