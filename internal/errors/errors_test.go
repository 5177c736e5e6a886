package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	t.Parallel()

	err := Wrap(KindClusterUnreachable, fmt.Errorf("dial tcp: timeout"), "list nodes on %q", "demo")
	assert.Equal(t, `ClusterUnreachable: list nodes on "demo": dial tcp: timeout`, err.Error())

	err.Phase = "Configuring"
	assert.Equal(t, `ClusterUnreachable (Configuring): list nodes on "demo": dial tcp: timeout`, err.Error())

	plain := New(KindUsageError, "unexpected argument %q", "foo")
	assert.Equal(t, `UsageError: unexpected argument "foo"`, plain.Error())
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := New(KindRolloutTimeout, "deployment api not ready")
	wrapped := fmt.Errorf("rollout: %w", inner)

	assert.Equal(t, KindRolloutTimeout, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindRolloutTimeout))
	assert.False(t, Is(wrapped, KindCancelled))
	assert.Equal(t, Kind(""), KindOf(stderrors.New("plain")))
	assert.False(t, Is(nil, KindRolloutTimeout))
}

func TestInPhase(t *testing.T) {
	t.Parallel()

	t.Run("wraps unclassified errors", func(t *testing.T) {
		t.Parallel()
		err := InPhase(stderrors.New("docker push failed"), "Building")
		require.Error(t, err)
		assert.Equal(t, KindStageFailed, KindOf(err))
		var e *Error
		require.True(t, stderrors.As(err, &e))
		assert.Equal(t, "Building", e.Phase)
	})

	t.Run("keeps existing phase", func(t *testing.T) {
		t.Parallel()
		inner := &Error{Kind: KindOutputNotAvailable, Phase: "Provisioning", Message: "missing"}
		err := InPhase(inner, "Configuring")
		var e *Error
		require.True(t, stderrors.As(err, &e))
		assert.Equal(t, "Provisioning", e.Phase)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, InPhase(nil, "Verifying"))
	})
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: 0},
		{name: "usage", err: New(KindUsageError, "bad flag"), want: 2},
		{name: "prerequisite", err: New(KindPrerequisiteMissing, "kubectl"), want: 3},
		{name: "registry", err: New(KindNoRegistryConfigured, "none"), want: 4},
		{name: "output", err: New(KindOutputNotAvailable, "cluster_name"), want: 5},
		{name: "cluster", err: New(KindClusterUnreachable, "nodes"), want: 6},
		{name: "rollout", err: New(KindRolloutTimeout, "api"), want: 7},
		{name: "cancelled", err: New(KindCancelled, "interrupt"), want: 130},
		{name: "health is not fatal", err: New(KindHealthCheckTimeout, "health"), want: 0},
		{name: "stage failed", err: New(KindStageFailed, "push"), want: 1},
		{name: "unclassified", err: stderrors.New("boom"), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestKind_Fatal(t *testing.T) {
	t.Parallel()

	assert.False(t, KindHealthCheckTimeout.Fatal())
	for _, k := range []Kind{KindPrerequisiteMissing, KindNoRegistryConfigured, KindClusterUnreachable, KindRolloutTimeout, KindUsageError, KindCancelled} {
		assert.True(t, k.Fatal(), string(k))
	}
}

func TestRemediationOf(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("outer: %w", New(KindNoRegistryConfigured, "none").WithRemediation("create %s", ".ecr-config"))
	assert.Equal(t, "create .ecr-config", RemediationOf(err))
	assert.Empty(t, RemediationOf(stderrors.New("x")))
}
