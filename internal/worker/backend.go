// Package worker provides the sandbox worker pool and the backend
// contract the dispatcher runs executions through.
package worker

import "time"

// OutcomeKind enumerates the possible results of driving a sandbox.
type OutcomeKind string

const (
	// OutcomeCompleted means the script finished normally.
	OutcomeCompleted OutcomeKind = "completed"
	// OutcomeFailed means the script raised or the sandbox failed.
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeTimedOut means the script exceeded its execution budget.
	OutcomeTimedOut OutcomeKind = "timed_out"
	// OutcomeSuspended means the script paused at llm.complete.
	OutcomeSuspended OutcomeKind = "suspended"
)

// Outcome is the closed result set of Run and Resume.
type Outcome struct {
	Kind   OutcomeKind
	Result any    // Completed: the set_result value
	Stdout string // all kinds
	Stderr string // all kinds
	Error  string // Failed, TimedOut

	// Suspended only.
	Prompt string
	Model  string
	Resume ResumeHandle
}

// ResumeHandle is an opaque continuation token for a suspended execution.
// Valid only with the backend that produced it.
type ResumeHandle interface{}

// RunSpec describes one sandbox invocation.
type RunSpec struct {
	Script string
	// Env is the credential name → plaintext map injected into the
	// sandbox. It must not be retained past the execution.
	Env map[string]string
	// Timeout bounds script execution time, excluding suspensions.
	Timeout time.Duration
	// AllowedHosts is the per-profile network allowlist for backends
	// that give scripts network access.
	AllowedHosts []string
}

// Backend is the sandbox primitive the pool drives. Implementations must
// guarantee isolation: scripts never observe the host process, other
// executions, or credentials beyond the injected env.
type Backend interface {
	// Run starts the script and blocks until the first outcome, which
	// is either terminal or Suspended.
	Run(spec RunSpec) Outcome

	// Resume continues a suspended execution with the LLM response and
	// blocks until the next outcome.
	Resume(handle ResumeHandle, llmResponse string) Outcome

	// Abort kills a suspended execution, returning its terminal
	// outcome. Used when no LLM response arrives in time.
	Abort(handle ResumeHandle, reason string) Outcome
}
