package domain

import (
	"errors"
	"fmt"
)

// Node store contract violations. These are programmer errors: well-formed
// orchestration never triggers them, so callers treat them as fatal bugs.
var (
	// ErrInvalidParent is returned when a parent reference does not resolve
	// to an existing node in the same workflow.
	ErrInvalidParent = errors.New("invalid parent node")
	// ErrIllegalTransition is returned when a status change is not a direct
	// successor on the waiting → processing → terminal path, or the node is
	// already terminal.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrWorkflowTerminal is returned when a mutation targets a workflow
	// that already reached a terminal state.
	ErrWorkflowTerminal = errors.New("workflow is terminal")
)

// Client-facing lookup misses, surfaced as rejected requests.
var (
	ErrUnknownWorkflow = errors.New("workflow not found")
	ErrUnknownSession  = errors.New("session not found")
	// ErrSessionBusy is returned when a session already hosts an active
	// workflow. At most one workflow runs per session at a time.
	ErrSessionBusy = errors.New("session already has an active workflow")
)

// ErrDepthExceeded is the safety-valve termination for runaway decomposition.
// It fails the offending node, never the workflow.
var ErrDepthExceeded = errors.New("maximum tree depth exceeded")

// CollaboratorError wraps a failed or timed-out call to an external
// collaborator (Planner, Tool Executor, Data Collector). It is recovered
// locally by failing only the node that issued the call.
type CollaboratorError struct {
	// Service identifies the collaborator, e.g. "planner" or "tool-executor".
	Service string
	// Timeout is true when the call exceeded its deadline.
	Timeout bool
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *CollaboratorError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("collaborator %s timed out: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("collaborator %s failed: %v", e.Service, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
