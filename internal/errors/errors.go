// Package errors defines the classified failures surfaced by the deployment pipeline.
//
// Every failure that halts a run carries a Kind so the CLI can map it to an exit code and
// print remediation guidance. Callers create them with New or Wrap and inspect them with
// KindOf or Is.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindPrerequisiteMissing indicates a required tool or credential is unavailable.
	KindPrerequisiteMissing Kind = "PrerequisiteMissing"
	// KindNoRegistryConfigured indicates no registry configuration source exists.
	KindNoRegistryConfigured Kind = "NoRegistryConfigured"
	// KindOutputNotAvailable indicates a provisioner output was queried before it exists.
	KindOutputNotAvailable Kind = "OutputNotAvailable"
	// KindClusterUnreachable indicates the cluster liveness check failed after configuration.
	KindClusterUnreachable Kind = "ClusterUnreachable"
	// KindRolloutTimeout indicates workloads did not become ready within the timeout.
	KindRolloutTimeout Kind = "RolloutTimeout"
	// KindHealthCheckTimeout indicates the health endpoint never reported healthy. Not fatal.
	KindHealthCheckTimeout Kind = "HealthCheckTimeout"
	// KindCancelled indicates the run was interrupted by the operator.
	KindCancelled Kind = "Cancelled"
	// KindUsageError indicates invalid command-line usage.
	KindUsageError Kind = "UsageError"
	// KindStageFailed covers fatal failures without a dedicated kind (build, push, controller install).
	KindStageFailed Kind = "StageFailed"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind        Kind
	Phase       string
	Message     string
	Remediation string
	Cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Phase != "" {
		prefix = fmt.Sprintf("%s (%s)", e.Kind, e.Phase)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying cause for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithRemediation attaches operator guidance and returns the same error.
func (e *Error) WithRemediation(format string, args ...any) *Error {
	e.Remediation = fmt.Sprintf(format, args...)
	return e
}

// New creates a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// InPhase records the phase a failure surfaced in, keeping the innermost phase if one is set.
// Unclassified errors are wrapped as KindStageFailed.
func InPhase(err error, phase string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !stderrors.As(err, &e) {
		return &Error{Kind: KindStageFailed, Phase: phase, Message: "phase failed", Cause: err}
	}
	if e.Phase == "" {
		e.Phase = phase
	}
	return err
}

// KindOf returns the kind of the outermost classified error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RemediationOf returns the remediation text of the classified error in the chain, if any.
func RemediationOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Remediation
	}
	return ""
}

// Fatal reports whether a failure of this kind halts the pipeline.
func (k Kind) Fatal() bool {
	return k != KindHealthCheckTimeout
}

// ExitCode maps an error to the process exit code reported by the CLI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindUsageError:
		return 2
	case KindPrerequisiteMissing:
		return 3
	case KindNoRegistryConfigured:
		return 4
	case KindOutputNotAvailable:
		return 5
	case KindClusterUnreachable:
		return 6
	case KindRolloutTimeout:
		return 7
	case KindCancelled:
		return 130
	case KindHealthCheckTimeout:
		return 0
	default:
		return 1
	}
}
