package cli

import (
	"os"
	"strings"

	"github.com/codex-k8s/deployctl/internal/config"
)

// applyKubeconfigOverride lets DEPLOYCTL_KUBECONFIG redirect where cluster credentials are written.
func applyKubeconfigOverride(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if override := strings.TrimSpace(os.Getenv("DEPLOYCTL_KUBECONFIG")); override != "" {
		cfg.Cluster.Kubeconfig = override
	}
}
