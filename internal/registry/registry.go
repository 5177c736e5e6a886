// Package registry selects the container registry backend and builds canonical image references.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/distribution/reference"
	"github.com/go-git/go-git/v5"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/env"
)

// Kind identifies a registry backend.
type Kind string

const (
	// KindManaged is the cloud-managed registry (ECR).
	KindManaged Kind = "managed"
	// KindGeneric is any other registry reachable by URL.
	KindGeneric Kind = "generic"
	// KindLocal is a local-only registry; images are never pushed remotely.
	KindLocal Kind = "local"
)

// Configuration source file names, in precedence order.
const (
	ManagedConfigFile = ".ecr-config"
	GenericConfigFile = ".registry-config"
	LocalConfigFile   = ".local-config"
)

// DefaultLocalRoot is used when .local-config does not name a registry.
const DefaultLocalRoot = "localhost:5000"

// LatestTag is used when no revision identifier is available.
const LatestTag = "latest"

// Presence records which configuration sources exist.
type Presence struct {
	Managed bool
	Generic bool
	Local   bool
}

// Descriptor is the selected registry backend.
type Descriptor struct {
	Kind Kind
	// Root is the registry host and optional path prefix images are pushed under.
	Root string
	// CredentialsHandle names the credentials the build tool uses (profile, user). Never interpreted here.
	CredentialsHandle string
	// Source is the configuration file the descriptor was read from.
	Source string
}

// Select picks the backend for p. Managed wins over generic, generic over local.
func Select(p Presence) (Kind, error) {
	switch {
	case p.Managed:
		return KindManaged, nil
	case p.Generic:
		return KindGeneric, nil
	case p.Local:
		return KindLocal, nil
	default:
		return "", noRegistryError()
	}
}

func noRegistryError() *apperrors.Error {
	return apperrors.New(apperrors.KindNoRegistryConfigured, "no registry configuration found").
		WithRemediation("run the registry setup step to create %s (managed), %s (generic) or %s (local-only) in the project directory",
			ManagedConfigFile, GenericConfigFile, LocalConfigFile)
}

// Detect reports which configuration sources exist in dir.
func Detect(dir string) (Presence, error) {
	var p Presence
	for name, dst := range map[string]*bool{
		ManagedConfigFile: &p.Managed,
		GenericConfigFile: &p.Generic,
		LocalConfigFile:   &p.Local,
	} {
		info, err := os.Stat(filepath.Join(dir, name))
		switch {
		case err == nil:
			*dst = !info.IsDir()
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Presence{}, fmt.Errorf("stat %s: %w", name, err)
		}
	}
	return p, nil
}

// Resolve selects the backend configured in dir and reads its descriptor.
// Process variables in base fill in values the file leaves unset.
func Resolve(dir string, base env.Vars) (Descriptor, error) {
	presence, err := Detect(dir)
	if err != nil {
		return Descriptor{}, err
	}
	kind, err := Select(presence)
	if err != nil {
		return Descriptor{}, err
	}

	source := filepath.Join(dir, fileFor(kind))
	fileVars, err := env.LoadEnvFile(source)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read registry config: %w", err)
	}
	return describe(kind, source, env.Merge(base, fileVars))
}

func fileFor(kind Kind) string {
	switch kind {
	case KindManaged:
		return ManagedConfigFile
	case KindGeneric:
		return GenericConfigFile
	default:
		return LocalConfigFile
	}
}

func describe(kind Kind, source string, vars env.Vars) (Descriptor, error) {
	d := Descriptor{Kind: kind, Source: source}

	switch kind {
	case KindManaged:
		d.Root = vars.First("ECR_REGISTRY")
		if d.Root == "" {
			account, region := vars.First("AWS_ACCOUNT_ID"), vars.First("AWS_REGION", "AWS_DEFAULT_REGION")
			if account != "" && region != "" {
				d.Root = fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", account, region)
			}
		}
		d.CredentialsHandle = vars.First("AWS_PROFILE")
	case KindGeneric:
		d.Root = vars.First("REGISTRY_URL", "REGISTRY")
		d.CredentialsHandle = vars.First("REGISTRY_USERNAME")
	case KindLocal:
		d.Root = vars.First("LOCAL_REGISTRY")
		if d.Root == "" {
			d.Root = DefaultLocalRoot
		}
	}

	d.Root = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(d.Root, "https://"), "http://"), "/")
	if d.Root == "" {
		return Descriptor{}, apperrors.New(apperrors.KindNoRegistryConfigured, "%s does not define a registry root", filepath.Base(source)).
			WithRemediation("set ECR_REGISTRY (or AWS_ACCOUNT_ID and AWS_REGION) for managed, REGISTRY_URL for generic registries")
	}
	return d, nil
}

// Remote reports whether images for d must be pushed.
func (d Descriptor) Remote() bool {
	return d.Kind != KindLocal
}

// ImageReference builds <root>/<project>:<tag>. The tag is revision, or "latest" when revision is empty.
func ImageReference(d Descriptor, project, revision string) (string, error) {
	tag := strings.TrimSpace(revision)
	if tag == "" {
		tag = LatestTag
	}

	named, err := reference.ParseNormalizedNamed(d.Root + "/" + project)
	if err != nil {
		return "", fmt.Errorf("invalid image repository %q: %w", d.Root+"/"+project, err)
	}
	tagged, err := reference.WithTag(named, tag)
	if err != nil {
		return "", fmt.Errorf("invalid image tag %q: %w", tag, err)
	}
	return tagged.String(), nil
}

// ShortRevisionLength is the number of hash characters used as the image tag.
const ShortRevisionLength = 7

// Revision returns the short commit hash of HEAD for the repository containing dir,
// or "" when dir is not inside a repository with commits.
func Revision(dir string) string {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()[:ShortRevisionLength]
}
