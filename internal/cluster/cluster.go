// Package cluster establishes local credentials for the target cluster and checks it is reachable.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codex-k8s/deployctl/internal/command"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/kube"
	"github.com/codex-k8s/deployctl/internal/logging"
)

// ConnectFunc builds a cluster client from a kubeconfig file and context name.
type ConnectFunc func(kubeconfig, kubeContext string) (kube.API, error)

// Session is an established cluster connection.
type Session struct {
	API        kube.API
	Kubeconfig string
	Context    string
	Nodes      []string
}

// Configurator writes cluster credentials with the aws CLI and verifies liveness by listing nodes.
type Configurator struct {
	runner  command.Runner
	connect ConnectFunc
	logger  *slog.Logger
}

// NewConfigurator constructs a Configurator. connect defaults to kube.NewFromKubeconfig.
func NewConfigurator(runner command.Runner, connect ConnectFunc, logger *slog.Logger) *Configurator {
	if connect == nil {
		connect = func(kubeconfig, kubeContext string) (kube.API, error) {
			return kube.NewFromKubeconfig(kubeconfig, kubeContext)
		}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Configurator{runner: runner, connect: connect, logger: logger}
}

// Request identifies the cluster to configure.
type Request struct {
	ClusterName string
	Region      string
	Kubeconfig  string
	Timeout     time.Duration
}

// Configure writes credentials for the cluster into req.Kubeconfig under a context named after
// the cluster, then lists nodes. Any failure is ClusterUnreachable and is not retried.
func (c *Configurator) Configure(ctx context.Context, req Request) (Session, error) {
	args := []string{"eks", "update-kubeconfig", "--name", req.ClusterName, "--region", req.Region, "--alias", req.ClusterName}
	if req.Kubeconfig != "" {
		args = append(args, "--kubeconfig", req.Kubeconfig)
	}
	if err := c.runner.Run(ctx, "", "aws", args...); err != nil {
		if ctx.Err() != nil {
			return Session{}, apperrors.Wrap(apperrors.KindCancelled, ctx.Err(), "cluster configuration interrupted")
		}
		return Session{}, unreachable(err, req, "write credentials for cluster %q", req.ClusterName)
	}

	api, err := c.connect(req.Kubeconfig, req.ClusterName)
	if err != nil {
		return Session{}, unreachable(err, req, "load kubeconfig for cluster %q", req.ClusterName)
	}

	probeCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	nodes, err := api.ListNodes(probeCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Session{}, apperrors.Wrap(apperrors.KindCancelled, ctx.Err(), "cluster liveness check interrupted")
		}
		return Session{}, unreachable(err, req, "list nodes of cluster %q", req.ClusterName)
	}
	if len(nodes) == 0 {
		c.logger.Warn("cluster has no registered nodes", "cluster", req.ClusterName)
	}
	c.logger.Info("cluster reachable", "cluster", req.ClusterName, "nodes", len(nodes))

	return Session{API: api, Kubeconfig: req.Kubeconfig, Context: req.ClusterName, Nodes: nodes}, nil
}

func unreachable(err error, req Request, format string, args ...any) error {
	return apperrors.Wrap(apperrors.KindClusterUnreachable, err, format, args...).
		WithRemediation("check network access and IAM permissions: aws eks describe-cluster --name %s --region %s", req.ClusterName, req.Region)
}

// String renders the session for logs.
func (s Session) String() string {
	return fmt.Sprintf("%s (%d nodes)", s.Context, len(s.Nodes))
}
