package prereq

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// CallerIdentityAPI is the subset of the STS client used by STSProbe.
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// STSProbe verifies AWS credentials with sts:GetCallerIdentity.
type STSProbe struct {
	client CallerIdentityAPI
}

// NewSTSProbe loads the default AWS configuration for region and returns a probe.
func NewSTSProbe(ctx context.Context, region string) (*STSProbe, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewSTSProbeFromClient(sts.NewFromConfig(cfg)), nil
}

// NewSTSProbeFromClient wraps an existing client.
func NewSTSProbeFromClient(client CallerIdentityAPI) *STSProbe {
	return &STSProbe{client: client}
}

// Identity implements CredentialProbe.
func (p *STSProbe) Identity(ctx context.Context) (string, error) {
	out, err := p.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	return aws.ToString(out.Arn), nil
}
