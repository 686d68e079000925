package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus is the overall status of a workflow, derived from its nodes.
type WorkflowStatus string

const (
	// WorkflowPlanning covers the window before any tool node exists.
	WorkflowPlanning WorkflowStatus = "planning"
	// WorkflowExecuting means at least one node is still non-terminal.
	WorkflowExecuting WorkflowStatus = "executing"
	// WorkflowCompleted means every node reached a terminal status and the
	// root completed.
	WorkflowCompleted WorkflowStatus = "completed"
	// WorkflowFailed means every node is terminal and the root failed.
	WorkflowFailed WorkflowStatus = "failed"
	// WorkflowAborted is the incomplete designation for runs cancelled or
	// torn down before reaching a clean terminal state.
	WorkflowAborted WorkflowStatus = "aborted"
)

// Terminal reports whether the workflow will accept no further node activity.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowAborted
}

// Workflow is one end-to-end execution instance answering a single query.
type Workflow struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Query     string         `json:"query"`
	Status    WorkflowStatus `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	// Error holds the reason when the workflow as a whole aborted.
	Error string `json:"error,omitempty"`
}

// NewWorkflow creates a workflow in the planning state with a fresh ID.
func NewWorkflow(sessionID, query string) *Workflow {
	return &Workflow{
		ID:        NewWorkflowID(),
		SessionID: sessionID,
		Query:     query,
		Status:    WorkflowPlanning,
		CreatedAt: time.Now().UTC(),
	}
}

// NewWorkflowID generates a workflow identifier in the wire format
// "wf-xxxxxxxxxxxx".
func NewWorkflowID() string {
	return "wf-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
