package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/deployctl/internal/command/commandtest"
	apperrors "github.com/codex-k8s/deployctl/internal/errors"
)

const planWithChanges = `{
  "format_version": "1.2",
  "resource_changes": [
    {"address": "aws_eks_cluster.main", "change": {"actions": ["create"]}},
    {"address": "aws_db_instance.main", "change": {"actions": ["update"]}},
    {"address": "aws_security_group.lb", "change": {"actions": ["delete", "create"]}},
    {"address": "data.aws_caller_identity.current", "change": {"actions": ["read"]}},
    {"address": "aws_vpc.main", "change": {"actions": ["no-op"]}}
  ]
}`

const outputsJSON = `{
  "cluster_name": {"sensitive": false, "type": "string", "value": "webapp-eks"},
  "cluster_endpoint": {"sensitive": false, "type": "string", "value": "https://ABC.gr7.us-east-1.eks.amazonaws.com"},
  "db_endpoint": {"sensitive": true, "type": "string", "value": "webapp.c1.us-east-1.rds.amazonaws.com:5432"},
  "subnet_ids": {"sensitive": false, "type": ["list", "string"], "value": ["a", "b"]},
  "unset": {"sensitive": false, "type": "string", "value": null}
}`

func TestTerraform_ApplyWithoutDiffIsNoop(t *testing.T) {
	t.Parallel()

	fake := commandtest.New()
	tf := NewTerraform(fake, "/infra", nil, nil)

	delta, err := tf.Apply(context.Background())
	require.NoError(t, err)
	assert.True(t, delta.Empty())

	delta, err = tf.Apply(context.Background())
	require.NoError(t, err)
	assert.True(t, delta.Empty())

	assert.Equal(t, 1, fake.Count("terraform init"))
	assert.Equal(t, 2, fake.Count("terraform plan"))
	assert.Zero(t, fake.Count("terraform apply"))
	assert.Zero(t, fake.Count("terraform show"))
}

func TestTerraform_ApplyWithChanges(t *testing.T) {
	t.Parallel()

	fake := commandtest.New().
		On("terraform plan", "", commandtest.ExitError(2)).
		On("terraform show", planWithChanges, nil)
	tf := NewTerraform(fake, "/infra", map[string]string{"region": "us-east-1", "project": "webapp"}, nil)

	delta, err := tf.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Delta{Added: 2, Changed: 1, Destroyed: 1}, delta)
	assert.Equal(t, "2 added, 1 changed, 1 destroyed", delta.String())

	lines := fake.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "terraform init -input=false -no-color", lines[0])
	assert.Equal(t, "terraform plan -input=false -no-color -detailed-exitcode -out=deployctl.tfplan -var project=webapp -var region=us-east-1", lines[1])
	assert.Equal(t, "terraform show -json deployctl.tfplan", lines[2])
	assert.Equal(t, "terraform apply -input=false -no-color -auto-approve deployctl.tfplan", lines[3])
	for _, c := range fake.Calls {
		assert.Equal(t, "/infra", c.Dir)
	}
}

func TestTerraform_PlanDoesNotMutate(t *testing.T) {
	t.Parallel()

	fake := commandtest.New().
		On("terraform plan", "", commandtest.ExitError(2)).
		On("terraform show", planWithChanges, nil)
	tf := NewTerraform(fake, "/infra", nil, nil)

	plan, err := tf.Plan(context.Background())
	require.NoError(t, err)
	assert.Len(t, plan.Changes, 3)
	assert.False(t, plan.Empty())
	assert.Zero(t, fake.Count("terraform apply"))
}

func TestTerraform_Failures(t *testing.T) {
	t.Parallel()

	t.Run("plan error", func(t *testing.T) {
		t.Parallel()
		fake := commandtest.New().On("terraform plan", "", commandtest.ExitError(1))
		_, err := NewTerraform(fake, ".", nil, nil).Apply(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "terraform plan")
	})

	t.Run("init error", func(t *testing.T) {
		t.Parallel()
		fake := commandtest.New().On("terraform init", "", errors.New("no backend"))
		_, err := NewTerraform(fake, ".", nil, nil).Outputs(context.Background())
		require.Error(t, err)
		assert.Zero(t, fake.Count("terraform output"))
	})

	t.Run("apply error", func(t *testing.T) {
		t.Parallel()
		fake := commandtest.New().
			On("terraform plan", "", commandtest.ExitError(2)).
			On("terraform show", planWithChanges, nil).
			On("terraform apply", "", commandtest.ExitError(1))
		_, err := NewTerraform(fake, ".", nil, nil).Apply(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "terraform apply")
	})
}

func TestTerraform_Outputs(t *testing.T) {
	t.Parallel()

	fake := commandtest.New().On("terraform output", outputsJSON, nil)
	outs, err := NewTerraform(fake, ".", nil, nil).Outputs(context.Background())
	require.NoError(t, err)

	name, err := outs.Get(OutputClusterName)
	require.NoError(t, err)
	assert.Equal(t, "webapp-eks", name)
	assert.Equal(t, `["a","b"]`, outs["subnet_ids"])

	_, ok := outs.Lookup("unset")
	assert.False(t, ok)

	_, err = outs.Get(OutputDatabaseSecretARN)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindOutputNotAvailable))
	assert.Zero(t, fake.Count("terraform apply"))
}

func TestOutputs_EmptyStateHasNoOutputs(t *testing.T) {
	t.Parallel()

	fake := commandtest.New().On("terraform output", "{}\n", nil)
	outs, err := NewTerraform(fake, ".", nil, nil).Outputs(context.Background())
	require.NoError(t, err)

	_, err = outs.Get(OutputClusterName)
	assert.True(t, apperrors.Is(err, apperrors.KindOutputNotAvailable))
}
