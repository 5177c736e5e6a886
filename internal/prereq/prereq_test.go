package prereq

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
)

type probeFunc func(ctx context.Context) (string, error)

func (f probeFunc) Identity(ctx context.Context) (string, error) { return f(ctx) }

func lookPathWithout(missing ...string) (func(string) (string, error), *[]string) {
	var looked []string
	return func(name string) (string, error) {
		looked = append(looked, name)
		for _, m := range missing {
			if m == name {
				return "", errors.New("executable file not found in $PATH")
			}
		}
		return "/usr/bin/" + name, nil
	}, &looked
}

func TestRequiredTools(t *testing.T) {
	t.Parallel()

	names := func(tools []Tool) []string {
		out := make([]string, 0, len(tools))
		for _, tl := range tools {
			out = append(out, tl.Name)
		}
		return out
	}
	assert.Equal(t, []string{"terraform", "aws", "kubectl", "docker"}, names(RequiredTools(false)))
	assert.Equal(t, []string{"terraform", "aws", "kubectl"}, names(RequiredTools(true)))
}

func TestVerify_AllPresent(t *testing.T) {
	t.Parallel()

	lookPath, looked := lookPathWithout()
	probed := false
	v := NewVerifier(RequiredTools(false), probeFunc(func(context.Context) (string, error) {
		probed = true
		return "arn:aws:iam::123456789012:user/ci", nil
	}), nil)
	v.LookPath = lookPath

	require.NoError(t, v.Verify(context.Background()))
	assert.Len(t, *looked, 4)
	assert.True(t, probed)
}

func TestVerify_FailFastOnFirstMissingTool(t *testing.T) {
	t.Parallel()

	lookPath, looked := lookPathWithout("aws", "docker")
	probed := false
	v := NewVerifier(RequiredTools(false), probeFunc(func(context.Context) (string, error) {
		probed = true
		return "", nil
	}), nil)
	v.LookPath = lookPath

	err := v.Verify(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindPrerequisiteMissing))
	assert.Contains(t, err.Error(), `"aws"`)
	assert.NotContains(t, err.Error(), "docker")
	assert.Contains(t, apperrors.RemediationOf(err), AWS.InstallURL)
	assert.Equal(t, []string{"terraform", "aws"}, *looked)
	assert.False(t, probed)
}

func TestVerify_CredentialProbeFailure(t *testing.T) {
	t.Parallel()

	lookPath, _ := lookPathWithout()
	v := NewVerifier(RequiredTools(true), probeFunc(func(context.Context) (string, error) {
		return "", errors.New("no valid credential sources")
	}), nil)
	v.LookPath = lookPath

	err := v.Verify(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.KindPrerequisiteMissing))
	assert.Contains(t, apperrors.RemediationOf(err), "AWS_PROFILE")
}

func TestVerify_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lookPath, _ := lookPathWithout()
	v := NewVerifier(RequiredTools(false), nil, nil)
	v.LookPath = lookPath
	assert.True(t, apperrors.Is(v.Verify(ctx), apperrors.KindCancelled))
}

type fakeSTS struct {
	out *sts.GetCallerIdentityOutput
	err error
}

func (f fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return f.out, f.err
}

func TestSTSProbe(t *testing.T) {
	t.Parallel()

	p := NewSTSProbeFromClient(fakeSTS{out: &sts.GetCallerIdentityOutput{Arn: aws.String("arn:aws:iam::1:role/deploy")}})
	id, err := p.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:iam::1:role/deploy", id)

	_, err = NewSTSProbeFromClient(fakeSTS{err: errors.New("expired token")}).Identity(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired token")
}
