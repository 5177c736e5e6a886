package kube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/codex-k8s/deployctl/internal/logging"
)

// tunnelStopGrace is how long a tunnel gets to exit after SIGTERM before it is killed.
const tunnelStopGrace = 5 * time.Second

// Kubectl runs kubectl against a kubeconfig and context.
type Kubectl struct {
	Kubeconfig string
	Context    string
	Logger     *slog.Logger
}

// NewKubectl constructs a kubectl helper.
func NewKubectl(kubeconfig, kubeContext string, logger *slog.Logger) *Kubectl {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Kubectl{Kubeconfig: kubeconfig, Context: kubeContext, Logger: logger}
}

// PortForwardArgs returns the kubectl arguments forwarding localPort to svc/service:remotePort.
func (k *Kubectl) PortForwardArgs(namespace, service string, localPort, remotePort int) []string {
	args := make([]string, 0, 10)
	if k.Kubeconfig != "" {
		args = append(args, "--kubeconfig", k.Kubeconfig)
	}
	if k.Context != "" {
		args = append(args, "--context", k.Context)
	}
	args = append(args, "port-forward", "-n", namespace, "svc/"+service,
		strconv.Itoa(localPort)+":"+strconv.Itoa(remotePort), "--address", "127.0.0.1")
	return args
}

// PortForward starts a kubectl port-forward process in the background. The caller must Close it.
func (k *Kubectl) PortForward(ctx context.Context, namespace, service string, localPort, remotePort int) (*Tunnel, error) {
	return startTunnel(ctx, k.Logger, "kubectl", k.PortForwardArgs(namespace, service, localPort, remotePort)...)
}

// Tunnel is a running background process.
type Tunnel struct {
	cmd    *exec.Cmd
	out    *logging.Writer
	done   chan struct{}
	err    error
	logger *slog.Logger
}

func startTunnel(ctx context.Context, logger *slog.Logger, name string, args ...string) (*Tunnel, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	out := logging.NewWriter(logger, name)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = tunnelStopGrace

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	logger.Debug("tunnel started", "cmd", name, "pid", cmd.Process.Pid)

	t := &Tunnel{cmd: cmd, out: out, done: make(chan struct{}), logger: logger}
	go func() {
		t.err = cmd.Wait()
		out.Flush()
		close(t.done)
	}()
	return t, nil
}

// Exited reports whether the process has already terminated.
func (t *Tunnel) Exited() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Close terminates the process with SIGTERM, killing it if it does not exit within the grace period.
// Closing an exited tunnel is a no-op.
func (t *Tunnel) Close() error {
	if t.Exited() {
		return nil
	}
	if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		t.logger.Debug("tunnel signal failed", "error", err)
	}

	timer := time.NewTimer(tunnelStopGrace)
	defer timer.Stop()
	select {
	case <-t.done:
	case <-timer.C:
		if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill tunnel: %w", err)
		}
		<-t.done
	}
	t.logger.Debug("tunnel stopped", "pid", t.cmd.Process.Pid)
	return nil
}
