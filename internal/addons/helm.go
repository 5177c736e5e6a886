package addons

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/storage/driver"
)

// helmClient implements ReleaseClient with the Helm SDK.
type helmClient struct {
	cfg *action.Configuration
}

// newHelmClient initializes a Helm action configuration against a kubeconfig file and context.
func newHelmClient(kubeconfig, kubeContext, namespace string, logger *slog.Logger) (ReleaseClient, error) {
	settings := cli.New()
	settings.KubeConfig = kubeconfig
	settings.KubeContext = kubeContext
	settings.SetNamespace(namespace)

	cfg := new(action.Configuration)
	debug := func(format string, v ...interface{}) {
		logger.Debug(fmt.Sprintf(format, v...), "tool", "helm")
	}
	if err := cfg.Init(settings.RESTClientGetter(), namespace, "secret", debug); err != nil {
		return nil, fmt.Errorf("failed to initialize helm action config: %w", err)
	}
	return &helmClient{cfg: cfg}, nil
}

func (h *helmClient) Exists(name string) (bool, error) {
	hist := action.NewHistory(h.cfg)
	hist.Max = 1
	if _, err := hist.Run(name); err != nil {
		if errors.Is(err, driver.ErrReleaseNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read release history: %w", err)
	}
	return true, nil
}

func (h *helmClient) Install(ctx context.Context, rel Release, ch *chart.Chart) error {
	install := action.NewInstall(h.cfg)
	install.ReleaseName = rel.Name
	install.Namespace = rel.Namespace
	install.CreateNamespace = true
	install.Version = rel.Version
	install.Wait = true
	install.Timeout = rel.Timeout
	if _, err := install.RunWithContext(ctx, ch, rel.Values); err != nil {
		return fmt.Errorf("helm install failed: %w", err)
	}
	return nil
}

func (h *helmClient) Upgrade(ctx context.Context, rel Release, ch *chart.Chart) error {
	upgrade := action.NewUpgrade(h.cfg)
	upgrade.Namespace = rel.Namespace
	upgrade.Version = rel.Version
	upgrade.Wait = true
	upgrade.Timeout = rel.Timeout
	upgrade.ReuseValues = false
	if _, err := upgrade.RunWithContext(ctx, rel.Name, ch, rel.Values); err != nil {
		return fmt.Errorf("helm upgrade failed: %w", err)
	}
	return nil
}

// locateChart downloads the chart from its repository and loads it.
func locateChart(rel Release) (*chart.Chart, error) {
	settings := cli.New()
	cp := &action.ChartPathOptions{RepoURL: rel.RepoURL, Version: rel.Version}

	chartPath, err := cp.LocateChart(rel.Chart, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to locate chart %s in %s: %w", rel.Chart, rel.RepoURL, err)
	}
	ch, err := loader.Load(chartPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load chart: %w", err)
	}
	return ch, nil
}
