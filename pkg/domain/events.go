package domain

// EventType defines the category of a streamed event.
type EventType string

const (
	// EventNode carries the full state of a created or updated node.
	EventNode EventType = "node"
	// EventWorkflow carries a workflow-level status change, including the
	// explicit end-of-stream signal when the workflow turns terminal.
	EventWorkflow EventType = "workflow"
	// EventError carries a client-facing error detail.
	EventError EventType = "error"
)

// Event is one ordered message on a workflow's update stream.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// WorkflowUpdate is the payload of an EventWorkflow event.
type WorkflowUpdate struct {
	WorkflowID string         `json:"workflowId"`
	Status     WorkflowStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// NewNodeEvent wraps a node snapshot in a stream event.
func NewNodeEvent(n Node) Event {
	return Event{Type: EventNode, Payload: n}
}

// NewWorkflowEvent wraps a workflow status change in a stream event.
func NewWorkflowEvent(workflowID string, status WorkflowStatus, errMsg string) Event {
	return Event{Type: EventWorkflow, Payload: WorkflowUpdate{
		WorkflowID: workflowID,
		Status:     status,
		Error:      errMsg,
	}}
}

// NewErrorEvent wraps an error detail in a stream event.
func NewErrorEvent(detail string) Event {
	return Event{Type: EventError, Payload: map[string]string{"detail": detail}}
}
