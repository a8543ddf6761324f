// Package agent implements the bounded tool-calling orchestration loop.
//
// This file defines the error taxonomy for a turn. All of these are
// recoverable at the turn boundary: no single turn failure corrupts
// registry or session state for other turns.
package agent

import "fmt"

// PolicyViolation means the model requested an action outside the
// declared tool and policy envelope, detected by contract — a tool call
// for a capability absent from the turn's registry snapshot. The
// offending call is rejected and fed back as a corrective tool result;
// the turn continues.
type PolicyViolation struct {
	ToolName string
	Reason   string
}

// Error implements the error interface.
func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation: tool %q: %s", e.ToolName, e.Reason)
}

// UpstreamUnavailable means the completion API stayed unreachable after
// the retry budget was exhausted. It is surfaced as a degraded reply
// rather than a hard request failure.
type UpstreamUnavailable struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *UpstreamUnavailable) Error() string {
	return fmt.Sprintf("completion API unavailable after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *UpstreamUnavailable) Unwrap() error { return e.Err }

// LoopExceeded means the bounded model-call/tool-call cycle count was
// hit without reaching a final answer. The turn ends with a degraded
// answer and an escalated disposition, never an unbounded retry.
type LoopExceeded struct {
	Cycles int
}

// Error implements the error interface.
func (e *LoopExceeded) Error() string {
	return fmt.Sprintf("tool-call cycle bound of %d exceeded without a final answer", e.Cycles)
}
