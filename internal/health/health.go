// Package health verifies the deployed application answers on its health endpoint.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/kube"
	"github.com/codex-k8s/deployctl/internal/logging"
	"github.com/codex-k8s/deployctl/internal/poll"
)

// Source identifies where the checked endpoint came from.
type Source string

const (
	SourceIngress      Source = "ingress"
	SourceService      Source = "service"
	SourceLoadBalancer Source = "load-balancer"
	SourceTunnel       Source = "tunnel"
)

// Tunneler opens a local tunnel to the application. The returned endpoint is host:port.
type Tunneler interface {
	Open(ctx context.Context) (string, io.Closer, error)
}

// Target describes what to check.
type Target struct {
	Namespace string
	Ingress   string
	Service   string
	// LoadBalancerHostname is the provisioner's load-balancer output, tried after the service.
	LoadBalancerHostname string
	Path                 string
	Attempts             int
	Interval             time.Duration
	RequestTimeout       time.Duration
	SuccessStatus        int
}

// Result describes a finished verification.
type Result struct {
	Endpoint string
	Source   Source
	Attempts int
	Healthy  bool
}

// Verifier resolves the application endpoint and polls its health path.
type Verifier struct {
	api      kube.API
	tunneler Tunneler
	client   *http.Client
	logger   *slog.Logger
}

// NewVerifier constructs a Verifier. tunneler may be nil when no local fallback is available.
func NewVerifier(api kube.API, tunneler Tunneler, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Verifier{api: api, tunneler: tunneler, client: &http.Client{}, logger: logger}
}

// Verify resolves the endpoint and polls it. Exhausting the attempt budget returns a
// HealthCheckTimeout error together with the partial result. A tunnel opened here is closed
// before Verify returns.
func (v *Verifier) Verify(ctx context.Context, t Target) (Result, error) {
	var res Result
	endpoint, source, closer, err := v.resolve(ctx, t)
	if closer != nil {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				v.logger.Warn("failed to stop tunnel", "error", cerr)
			}
		}()
	}
	if err != nil {
		if ctx.Err() != nil {
			return res, apperrors.Wrap(apperrors.KindCancelled, ctx.Err(), "health check interrupted")
		}
		return res, apperrors.Wrap(apperrors.KindHealthCheckTimeout, err, "no reachable endpoint")
	}
	res.Endpoint, res.Source = endpoint, source

	url := "http://" + endpoint + t.Path
	v.logger.Info("checking application health", "url", url, "source", source, "attempts", t.Attempts)

	pr, err := poll.Until(ctx, poll.Condition{
		Name:        "health " + url,
		Interval:    t.Interval,
		MaxAttempts: t.Attempts,
		Logger:      v.logger,
		Check: func(ctx context.Context) (bool, error) {
			return v.check(ctx, url, t)
		},
	})
	res.Attempts = pr.Observations

	switch {
	case err == nil:
		res.Healthy = true
		return res, nil
	case errors.Is(err, poll.ErrCancelled):
		return res, apperrors.Wrap(apperrors.KindCancelled, err, "health check interrupted")
	case errors.Is(err, poll.ErrAttemptsExhausted):
		return res, apperrors.Wrap(apperrors.KindHealthCheckTimeout, pr.LastErr, "%s did not report healthy after %d attempts", url, pr.Observations).
			WithRemediation("DNS propagation can lag behind the load balancer; retry with curl %s", url)
	default:
		return res, apperrors.Wrap(apperrors.KindHealthCheckTimeout, err, "health check failed")
	}
}

func (v *Verifier) check(ctx context.Context, url string, t Target) (bool, error) {
	reqCtx := ctx
	if t.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, t.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != t.SuccessStatus {
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return true, nil
}

// resolve picks the endpoint in priority order: ingress, service, provisioner load balancer, tunnel.
func (v *Verifier) resolve(ctx context.Context, t Target) (string, Source, io.Closer, error) {
	if t.Ingress != "" {
		host, err := v.api.IngressHostname(ctx, t.Namespace, t.Ingress)
		if err != nil {
			v.logger.Debug("ingress hostname lookup failed", "ingress", t.Ingress, "error", err)
		} else if host != "" {
			return host, SourceIngress, nil, nil
		}
	}
	if t.Service != "" {
		host, err := v.api.ServiceHostname(ctx, t.Namespace, t.Service)
		if err != nil {
			v.logger.Debug("service hostname lookup failed", "service", t.Service, "error", err)
		} else if host != "" {
			return host, SourceService, nil, nil
		}
	}
	if host := strings.TrimSpace(t.LoadBalancerHostname); host != "" {
		return host, SourceLoadBalancer, nil, nil
	}
	if v.tunneler == nil {
		return "", "", nil, fmt.Errorf("no external hostname and no tunnel available")
	}

	v.logger.Info("no external hostname, opening local tunnel", "service", t.Service)
	endpoint, closer, err := v.tunneler.Open(ctx)
	if err != nil {
		return "", "", nil, fmt.Errorf("open tunnel: %w", err)
	}
	return endpoint, SourceTunnel, closer, nil
}

// KubectlTunneler opens a kubectl port-forward to a service.
type KubectlTunneler struct {
	Kubectl    *kube.Kubectl
	Namespace  string
	Service    string
	LocalPort  int
	RemotePort int
}

// Open implements Tunneler.
func (k KubectlTunneler) Open(ctx context.Context) (string, io.Closer, error) {
	tun, err := k.Kubectl.PortForward(ctx, k.Namespace, k.Service, k.LocalPort, k.RemotePort)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("127.0.0.1:%d", k.LocalPort), tun, nil
}
