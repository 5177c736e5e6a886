// Package addons installs cluster add-ons with Helm; today that is the ingress controller.
package addons

import (
	"context"
	"log/slog"
	"time"

	"helm.sh/helm/v3/pkg/chart"

	"github.com/codex-k8s/deployctl/internal/config"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/logging"
)

// Release describes a chart release.
type Release struct {
	Name      string
	Namespace string
	RepoURL   string
	Chart     string
	Version   string
	Values    map[string]any
	Timeout   time.Duration
}

// ReleaseClient performs release operations in one namespace.
type ReleaseClient interface {
	Exists(name string) (bool, error)
	Install(ctx context.Context, rel Release, ch *chart.Chart) error
	Upgrade(ctx context.Context, rel Release, ch *chart.Chart) error
}

// ClientFactory builds a ReleaseClient for a kubeconfig, context and namespace.
type ClientFactory func(kubeconfig, kubeContext, namespace string) (ReleaseClient, error)

// ChartLoader fetches the chart of a release.
type ChartLoader func(rel Release) (*chart.Chart, error)

// Action is what InstallOrUpgrade did.
type Action string

const (
	ActionInstalled Action = "installed"
	ActionUpgraded  Action = "upgraded"
)

// Installer installs or upgrades releases.
type Installer struct {
	newClient ClientFactory
	loadChart ChartLoader
	logger    *slog.Logger
}

// NewInstaller constructs an Installer backed by the Helm SDK.
func NewInstaller(logger *slog.Logger) *Installer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Installer{
		newClient: func(kubeconfig, kubeContext, namespace string) (ReleaseClient, error) {
			return newHelmClient(kubeconfig, kubeContext, namespace, logger)
		},
		loadChart: locateChart,
		logger:    logger,
	}
}

// NewInstallerWith constructs an Installer with custom collaborators.
func NewInstallerWith(newClient ClientFactory, loadChart ChartLoader, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Installer{newClient: newClient, loadChart: loadChart, logger: logger}
}

// InstallOrUpgrade installs rel when it has no history and upgrades it otherwise, so repeated
// runs converge on the same release. Failures are StageFailed.
func (i *Installer) InstallOrUpgrade(ctx context.Context, kubeconfig, kubeContext string, rel Release) (Action, error) {
	client, err := i.newClient(kubeconfig, kubeContext, rel.Namespace)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindStageFailed, err, "connect helm to cluster")
	}

	ch, err := i.loadChart(rel)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindStageFailed, err, "fetch chart %s", rel.Chart).
			WithRemediation("check network access to %s", rel.RepoURL)
	}

	exists, err := client.Exists(rel.Name)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindStageFailed, err, "inspect release %s", rel.Name)
	}

	if exists {
		i.logger.Info("upgrading release", "release", rel.Name, "namespace", rel.Namespace, "chart", rel.Chart, "version", rel.Version)
		if err := client.Upgrade(ctx, rel, ch); err != nil {
			return "", apperrors.Wrap(apperrors.KindStageFailed, err, "upgrade release %s", rel.Name)
		}
		return ActionUpgraded, nil
	}

	i.logger.Info("installing release", "release", rel.Name, "namespace", rel.Namespace, "chart", rel.Chart, "version", rel.Version)
	if err := client.Install(ctx, rel, ch); err != nil {
		return "", apperrors.Wrap(apperrors.KindStageFailed, err, "install release %s", rel.Name)
	}
	return ActionInstalled, nil
}

// ControllerRelease builds the ingress controller release for a cluster. Configured values
// override the generated clusterName and region.
func ControllerRelease(cfg config.ControllerConfig, clusterName, region string) Release {
	values := map[string]any{
		"clusterName": clusterName,
		"region":      region,
	}
	for k, v := range cfg.Values {
		values[k] = v
	}
	return Release{
		Name:      cfg.Release,
		Namespace: cfg.Namespace,
		RepoURL:   cfg.RepoURL,
		Chart:     cfg.Chart,
		Version:   cfg.Version,
		Values:    values,
		Timeout:   cfg.Timeout,
	}
}
