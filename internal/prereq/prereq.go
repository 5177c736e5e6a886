// Package prereq verifies that the external tools and credentials the pipeline drives are available
// before anything is mutated.
package prereq

import (
	"context"
	"log/slog"
	"os/exec"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/logging"
)

// Tool is a client binary the pipeline invokes.
type Tool struct {
	// Name is the binary name to look for in PATH.
	Name string
	// Description explains what the tool is used for.
	Description string
	// InstallURL provides a URL for installation instructions.
	InstallURL string
}

var (
	Terraform = Tool{Name: "terraform", Description: "provisions the infrastructure and reports its outputs", InstallURL: "https://developer.hashicorp.com/terraform/install"}
	AWS       = Tool{Name: "aws", Description: "writes cluster credentials into the kubeconfig", InstallURL: "https://docs.aws.amazon.com/cli/latest/userguide/getting-started-install.html"}
	Kubectl   = Tool{Name: "kubectl", Description: "authenticates to the cluster and opens the health-check tunnel", InstallURL: "https://kubernetes.io/docs/tasks/tools/"}
	Docker    = Tool{Name: "docker", Description: "builds and pushes the application image", InstallURL: "https://docs.docker.com/get-docker/"}
)

// RequiredTools returns the tools needed for a run. docker is only needed when building.
func RequiredTools(skipBuild bool) []Tool {
	tools := []Tool{Terraform, AWS, Kubectl}
	if !skipBuild {
		tools = append(tools, Docker)
	}
	return tools
}

// CredentialProbe checks that usable cloud credentials are configured and returns the identity.
type CredentialProbe interface {
	Identity(ctx context.Context) (string, error)
}

// Verifier checks tools in order, then credentials, stopping at the first failure.
type Verifier struct {
	Tools    []Tool
	Probe    CredentialProbe
	LookPath func(string) (string, error)
	Logger   *slog.Logger
}

// NewVerifier constructs a Verifier using exec.LookPath.
func NewVerifier(tools []Tool, probe CredentialProbe, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Verifier{Tools: tools, Probe: probe, LookPath: exec.LookPath, Logger: logger}
}

// Verify returns a PrerequisiteMissing error naming the first unavailable tool or credential.
func (v *Verifier) Verify(ctx context.Context) error {
	lookPath := v.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	for _, tool := range v.Tools {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.KindCancelled, err, "prerequisite check interrupted")
		}
		path, err := lookPath(tool.Name)
		if err != nil {
			return apperrors.Wrap(apperrors.KindPrerequisiteMissing, err, "required tool %q not found in PATH (%s)", tool.Name, tool.Description).
				WithRemediation("install %s: %s", tool.Name, tool.InstallURL)
		}
		v.Logger.Debug("tool found", "tool", tool.Name, "path", path)
	}

	if v.Probe == nil {
		return nil
	}
	identity, err := v.Probe.Identity(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.Wrap(apperrors.KindCancelled, ctx.Err(), "prerequisite check interrupted")
		}
		return apperrors.Wrap(apperrors.KindPrerequisiteMissing, err, "cloud credentials are not usable").
			WithRemediation("configure AWS credentials (aws configure, AWS_PROFILE or AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY)")
	}
	v.Logger.Info("cloud credentials verified", "identity", identity)
	return nil
}
