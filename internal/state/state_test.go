package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/kube/kubetest"
	"github.com/codex-k8s/deployctl/internal/registry"
)

func TestPipelineState_AppendOnly(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.SetCluster("webapp-eks", "https://eks.example"))
	require.NoError(t, s.SetCluster("webapp-eks", ""), "empty values never unset")
	require.NoError(t, s.SetCluster("webapp-eks", "https://eks.example"), "same value is accepted")

	err := s.SetCluster("other", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindStageFailed))
	assert.Equal(t, "webapp-eks", s.ClusterName())
	assert.Equal(t, "https://eks.example", s.ClusterEndpoint())

	d := registry.Descriptor{Kind: registry.KindLocal, Root: "localhost:5000"}
	require.NoError(t, s.SetRegistry(d))
	require.NoError(t, s.SetRegistry(d))
	assert.Error(t, s.SetRegistry(registry.Descriptor{Kind: registry.KindGeneric, Root: "r.example"}))
}

func TestPipelineState_Markers(t *testing.T) {
	t.Parallel()

	s := New()
	assert.Error(t, s.Require(PhaseProvisioning))

	s.Skip(PhaseProvisioning)
	s.Complete(PhaseBuilding)
	require.NoError(t, s.Require(PhaseBuilding, PhaseProvisioning))
	assert.Equal(t, MarkerSkipped, s.Marker(PhaseProvisioning))
	assert.Equal(t, MarkerCompleted, s.Marker(PhaseBuilding))
	assert.Equal(t, Marker(""), s.Marker(PhaseDone))
	assert.Equal(t, PhaseInit, Phases()[0])
	assert.Equal(t, PhaseDone, Phases()[len(Phases())-1])
}

func TestPipelineState_Outputs(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.SetImage("localhost:5000/webapp:abc1234", "abc1234"))
	require.NoError(t, s.SetCluster("webapp-eks", ""))
	require.NoError(t, s.SetHealth("http://app.example/health", true))

	assert.Equal(t, map[string]string{
		"image":    "localhost:5000/webapp:abc1234",
		"cluster":  "webapp-eks",
		"endpoint": "http://app.example/health",
		"health":   "true",
	}, s.Outputs())
}

func TestRecorder_Record(t *testing.T) {
	t.Parallel()

	api := kubetest.New()
	r := NewRecorder(api, nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rel := Release{Project: "webapp", Namespace: "webapp", Image: "r.example/webapp:abc1234", Revision: "abc1234", Cluster: "webapp-eks", DeployedAt: at}
	require.NoError(t, r.Record(context.Background(), rel))
	require.NoError(t, r.Record(context.Background(), rel))

	cm := api.ConfigMaps["webapp/webapp-release"]
	require.NotNil(t, cm)
	assert.Equal(t, "2026-03-01T12:00:00Z", cm.Data["deployedAt"])
	assert.Equal(t, "deployctl", cm.Labels["app.kubernetes.io/managed-by"])

	got, err := ReleaseFromConfigMap(cm)
	require.NoError(t, err)
	assert.Equal(t, rel, got)
}

func TestRecorder_StampsTime(t *testing.T) {
	t.Parallel()

	api := kubetest.New()
	r := NewRecorder(api, nil)
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, r.Record(context.Background(), Release{Project: "webapp", Namespace: "prod"}))
	assert.Equal(t, "2026-01-02T03:04:05Z", api.ConfigMaps["prod/webapp-release"].Data["deployedAt"])
	assert.Error(t, r.Record(context.Background(), Release{Project: "webapp"}))
}
