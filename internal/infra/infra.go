// Package infra drives the declarative infrastructure provisioner and exposes its named outputs.
package infra

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
)

// Stable output names consumed by the pipeline.
const (
	OutputClusterName          = "cluster_name"
	OutputClusterEndpoint      = "cluster_endpoint"
	OutputDatabaseEndpoint     = "db_endpoint"
	OutputLoadBalancerHostname = "load_balancer_hostname"
	OutputDatabaseSecretARN    = "db_secret_arn"
)

// Provisioner is the infrastructure provisioner as seen by the pipeline.
type Provisioner interface {
	// Plan computes the diff against provisioned state without mutating anything.
	Plan(ctx context.Context) (Plan, error)
	// Apply materializes outstanding changes. With no diff it is a no-op returning an empty Delta.
	Apply(ctx context.Context) (Delta, error)
	// Outputs reads the named values of the current provisioned state.
	Outputs(ctx context.Context) (Outputs, error)
}

// ResourceChange is one planned change.
type ResourceChange struct {
	Address string
	Actions []string
}

// Plan is a computed diff.
type Plan struct {
	Changes []ResourceChange
}

// Empty reports whether the plan has no outstanding changes.
func (p Plan) Empty() bool {
	return len(p.Changes) == 0
}

// Delta summarizes what an apply changed.
type Delta struct {
	Added     int
	Changed   int
	Destroyed int
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return d.Added == 0 && d.Changed == 0 && d.Destroyed == 0
}

func (d Delta) String() string {
	return fmt.Sprintf("%d added, %d changed, %d destroyed", d.Added, d.Changed, d.Destroyed)
}

// DeltaOf counts the actions of p. A replacement counts as one add and one destroy.
func DeltaOf(p Plan) Delta {
	var d Delta
	for _, c := range p.Changes {
		for _, a := range c.Actions {
			switch a {
			case "create":
				d.Added++
			case "update":
				d.Changed++
			case "delete":
				d.Destroyed++
			}
		}
	}
	return d
}

// Outputs is the named value set of provisioned state.
type Outputs map[string]string

// Get returns the named output or an OutputNotAvailable error.
func (o Outputs) Get(name string) (string, error) {
	v, ok := o[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", apperrors.New(apperrors.KindOutputNotAvailable, "provisioner output %q is not available", name).
			WithRemediation("provision the infrastructure first (run without --skip-infra)")
	}
	return v, nil
}

// Lookup returns the named output and whether it is set.
func (o Outputs) Lookup(name string) (string, bool) {
	v, err := o.Get(name)
	return v, err == nil
}
