package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/codex-k8s/deployctl/internal/command"
	"github.com/codex-k8s/deployctl/internal/logging"
)

// PlanFile is the plan written by Plan and consumed by Apply, relative to the working directory.
const PlanFile = "deployctl.tfplan"

// Terraform implements Provisioner with the terraform CLI.
type Terraform struct {
	runner command.Runner
	dir    string
	vars   map[string]string
	logger *slog.Logger

	initialized bool
}

// NewTerraform constructs a Terraform provisioner for the root module in dir.
func NewTerraform(runner command.Runner, dir string, vars map[string]string, logger *slog.Logger) *Terraform {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Terraform{runner: runner, dir: dir, vars: vars, logger: logger}
}

func (t *Terraform) init(ctx context.Context) error {
	if t.initialized {
		return nil
	}
	if err := t.runner.Run(ctx, t.dir, "terraform", "init", "-input=false", "-no-color"); err != nil {
		return fmt.Errorf("terraform init: %w", err)
	}
	t.initialized = true
	return nil
}

// Plan implements Provisioner.
func (t *Terraform) Plan(ctx context.Context) (Plan, error) {
	if err := t.init(ctx); err != nil {
		return Plan{}, err
	}

	args := []string{"plan", "-input=false", "-no-color", "-detailed-exitcode", "-out=" + PlanFile}
	keys := make([]string, 0, len(t.vars))
	for k := range t.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-var", k+"="+t.vars[k])
	}

	err := t.runner.Run(ctx, t.dir, "terraform", args...)
	switch {
	case err == nil:
		t.logger.Info("infrastructure is up to date", "dir", t.dir)
		return Plan{}, nil
	case command.ExitCode(err) == 2:
	default:
		return Plan{}, fmt.Errorf("terraform plan: %w", err)
	}

	out, err := t.runner.Output(ctx, t.dir, "terraform", "show", "-json", PlanFile)
	if err != nil {
		return Plan{}, fmt.Errorf("terraform show: %w", err)
	}
	plan, err := parsePlan(out)
	if err != nil {
		return Plan{}, err
	}
	t.logger.Info("infrastructure plan computed", "changes", len(plan.Changes), "summary", DeltaOf(plan).String())
	return plan, nil
}

// Apply implements Provisioner.
func (t *Terraform) Apply(ctx context.Context) (Delta, error) {
	plan, err := t.Plan(ctx)
	if err != nil {
		return Delta{}, err
	}
	if plan.Empty() {
		return Delta{}, nil
	}

	if err := t.runner.Run(ctx, t.dir, "terraform", "apply", "-input=false", "-no-color", "-auto-approve", PlanFile); err != nil {
		return Delta{}, fmt.Errorf("terraform apply: %w", err)
	}
	delta := DeltaOf(plan)
	t.logger.Info("infrastructure applied", "summary", delta.String())
	return delta, nil
}

// Outputs implements Provisioner.
func (t *Terraform) Outputs(ctx context.Context) (Outputs, error) {
	if err := t.init(ctx); err != nil {
		return nil, err
	}
	out, err := t.runner.Output(ctx, t.dir, "terraform", "output", "-json", "-no-color")
	if err != nil {
		return nil, fmt.Errorf("terraform output: %w", err)
	}
	return parseOutputs(out)
}

type planJSON struct {
	ResourceChanges []struct {
		Address string `json:"address"`
		Change  struct {
			Actions []string `json:"actions"`
		} `json:"change"`
	} `json:"resource_changes"`
}

func parsePlan(data []byte) (Plan, error) {
	var raw planJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Plan{}, fmt.Errorf("decode terraform plan: %w", err)
	}
	var plan Plan
	for _, rc := range raw.ResourceChanges {
		if isNoop(rc.Change.Actions) {
			continue
		}
		plan.Changes = append(plan.Changes, ResourceChange{Address: rc.Address, Actions: rc.Change.Actions})
	}
	return plan, nil
}

func isNoop(actions []string) bool {
	for _, a := range actions {
		if a != "no-op" && a != "read" {
			return false
		}
	}
	return true
}

type outputJSON struct {
	Sensitive bool            `json:"sensitive"`
	Value     json.RawMessage `json:"value"`
}

func parseOutputs(data []byte) (Outputs, error) {
	var raw map[string]outputJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode terraform outputs: %w", err)
	}
	outs := make(Outputs, len(raw))
	for name, o := range raw {
		if len(o.Value) == 0 || string(o.Value) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(o.Value, &s); err == nil {
			outs[name] = s
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, o.Value); err != nil {
			return nil, fmt.Errorf("decode terraform output %q: %w", name, err)
		}
		outs[name] = compact.String()
	}
	return outs, nil
}
