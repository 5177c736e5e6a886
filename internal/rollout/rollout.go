// Package rollout applies workload manifests and waits for the deployments to become ready.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/kube"
	"github.com/codex-k8s/deployctl/internal/logging"
	"github.com/codex-k8s/deployctl/internal/poll"
)

// Request describes one rollout.
type Request struct {
	// Workload is the rendered workload manifest stream.
	Workload []byte
	// Extra is applied verbatim after the workload.
	Extra        []byte
	Namespace    string
	FieldManager string
	Deployments  []string
	Timeout      time.Duration
	Interval     time.Duration
}

// Result summarizes a successful rollout.
type Result struct {
	Applied      int
	Observations int
}

// Controller applies workload definitions and blocks until they are ready.
type Controller struct {
	api    kube.API
	logger *slog.Logger
}

// NewController constructs a Controller.
func NewController(api kube.API, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{api: api, logger: logger}
}

// Rollout applies req and waits for every deployment to be ready. It never rolls back.
func (c *Controller) Rollout(ctx context.Context, req Request) (Result, error) {
	var res Result

	if req.Namespace != "" {
		if err := c.api.EnsureNamespace(ctx, req.Namespace); err != nil {
			return res, apperrors.Wrap(apperrors.KindStageFailed, err, "ensure namespace %q", req.Namespace)
		}
	}

	for _, stream := range [][]byte{req.Workload, req.Extra} {
		if len(stream) == 0 {
			continue
		}
		n, err := c.api.ApplyManifests(ctx, stream, req.FieldManager, req.Namespace)
		res.Applied += n
		if err != nil {
			if ctx.Err() != nil {
				return res, apperrors.Wrap(apperrors.KindCancelled, ctx.Err(), "rollout interrupted while applying manifests")
			}
			return res, apperrors.Wrap(apperrors.KindStageFailed, err, "apply manifests")
		}
	}
	c.logger.Info("manifests applied", "objects", res.Applied, "namespace", req.Namespace)

	if len(req.Deployments) == 0 {
		return res, nil
	}

	last := map[string]string{}
	pr, err := poll.Until(ctx, poll.Condition{
		Name:     "deployments ready",
		Interval: req.Interval,
		Timeout:  req.Timeout,
		Logger:   c.logger,
		Check: func(ctx context.Context) (bool, error) {
			ready := true
			for _, name := range req.Deployments {
				st, err := c.api.DeploymentStatus(ctx, req.Namespace, name)
				if err != nil {
					last[name] = err.Error()
				} else {
					last[name] = st.String()
				}
				if err != nil || !st.Ready() {
					ready = false
				}
			}
			return ready, nil
		},
	})
	res.Observations = pr.Observations

	switch {
	case err == nil:
		c.logger.Info("deployments ready", "deployments", req.Deployments, "observations", pr.Observations)
		return res, nil
	case errors.Is(err, poll.ErrCancelled):
		return res, apperrors.Wrap(apperrors.KindCancelled, err, "rollout interrupted")
	case errors.Is(err, poll.ErrTimeout):
		return res, apperrors.New(apperrors.KindRolloutTimeout, "deployments not ready after %s: %s", req.Timeout, describe(last)).
			WithRemediation("inspect the workload with kubectl -n %s describe deployment %s; no rollback was performed",
				req.Namespace, strings.Join(req.Deployments, " "))
	default:
		return res, apperrors.Wrap(apperrors.KindStageFailed, err, "wait for deployments")
	}
}

func describe(last map[string]string) string {
	names := make([]string, 0, len(last))
	for n := range last {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s (%s)", n, last[n]))
	}
	return strings.Join(parts, ", ")
}
