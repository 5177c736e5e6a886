package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/kube/kubetest"
)

func target() Target {
	return Target{
		Namespace:      "webapp",
		Ingress:        "webapp",
		Service:        "webapp",
		Path:           "/health",
		Attempts:       5,
		Interval:       5 * time.Millisecond,
		RequestTimeout: time.Second,
		SuccessStatus:  http.StatusOK,
	}
}

func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

// healthyAfter returns a server answering 503 until the nth request, then 200.
func healthyAfter(t *testing.T, n int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if calls.Add(1) < n {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

type fakeTunnel struct {
	endpoint string
	err      error
	opened   int
	closed   int
}

func (f *fakeTunnel) Open(context.Context) (string, io.Closer, error) {
	f.opened++
	if f.err != nil {
		return "", nil, f.err
	}
	return f.endpoint, f, nil
}

func (f *fakeTunnel) Close() error {
	f.closed++
	return nil
}

func TestVerify_IngressFirst(t *testing.T) {
	t.Parallel()

	srv, calls := healthyAfter(t, 3)
	api := kubetest.New()
	api.Ingress["webapp/webapp"] = hostOf(srv)
	api.Service["webapp/webapp"] = "unreachable.invalid"
	tun := &fakeTunnel{}

	res, err := NewVerifier(api, tun, nil).Verify(context.Background(), target())
	require.NoError(t, err)
	assert.True(t, res.Healthy)
	assert.Equal(t, SourceIngress, res.Source)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, tun.opened)
}

func TestVerify_ServiceThenLoadBalancerOutput(t *testing.T) {
	t.Parallel()

	srv, _ := healthyAfter(t, 1)

	api := kubetest.New()
	api.Service["webapp/webapp"] = hostOf(srv)
	res, err := NewVerifier(api, nil, nil).Verify(context.Background(), target())
	require.NoError(t, err)
	assert.Equal(t, SourceService, res.Source)

	tg := target()
	tg.LoadBalancerHostname = hostOf(srv)
	res, err = NewVerifier(kubetest.New(), nil, nil).Verify(context.Background(), tg)
	require.NoError(t, err)
	assert.Equal(t, SourceLoadBalancer, res.Source)
	assert.Equal(t, 1, res.Attempts)
}

func TestVerify_TunnelFallbackClosedOnSuccess(t *testing.T) {
	t.Parallel()

	srv, _ := healthyAfter(t, 2)
	tun := &fakeTunnel{endpoint: hostOf(srv)}

	res, err := NewVerifier(kubetest.New(), tun, nil).Verify(context.Background(), target())
	require.NoError(t, err)
	assert.Equal(t, SourceTunnel, res.Source)
	assert.Equal(t, 1, tun.opened)
	assert.Equal(t, 1, tun.closed)
}

func TestVerify_ExhaustedAttemptsIsHealthCheckTimeout(t *testing.T) {
	t.Parallel()

	srv, calls := healthyAfter(t, 1000)
	tun := &fakeTunnel{endpoint: hostOf(srv)}

	tg := target()
	tg.Attempts = 4
	res, err := NewVerifier(kubetest.New(), tun, nil).Verify(context.Background(), tg)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindHealthCheckTimeout))
	assert.False(t, apperrors.KindOf(err).Fatal())
	assert.Contains(t, err.Error(), "unexpected status 503")
	assert.False(t, res.Healthy)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 1, tun.closed, "tunnel closed on failure")
}

func TestVerify_WrongSuccessStatus(t *testing.T) {
	t.Parallel()

	srv, _ := healthyAfter(t, 1)
	tg := target()
	tg.Attempts = 2
	tg.SuccessStatus = http.StatusNoContent
	tg.LoadBalancerHostname = hostOf(srv)

	_, err := NewVerifier(kubetest.New(), nil, nil).Verify(context.Background(), tg)
	assert.True(t, apperrors.Is(err, apperrors.KindHealthCheckTimeout))
}

func TestVerify_NoEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewVerifier(kubetest.New(), nil, nil).Verify(context.Background(), target())
	assert.True(t, apperrors.Is(err, apperrors.KindHealthCheckTimeout))

	tun := &fakeTunnel{err: errors.New("kubectl not found")}
	_, err = NewVerifier(kubetest.New(), tun, nil).Verify(context.Background(), target())
	assert.True(t, apperrors.Is(err, apperrors.KindHealthCheckTimeout))
	assert.Zero(t, tun.closed)
}

func TestVerify_CancelledClosesTunnel(t *testing.T) {
	t.Parallel()

	srv, _ := healthyAfter(t, 1000)
	tun := &fakeTunnel{endpoint: hostOf(srv)}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	tg := target()
	tg.Attempts = 1000

	_, err := NewVerifier(kubetest.New(), tun, nil).Verify(ctx, tg)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindCancelled))
	assert.Equal(t, 1, tun.closed)
}
