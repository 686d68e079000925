package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeStatus is the execution status of a node.
type NodeStatus string

const (
	StatusWaiting    NodeStatus = "waiting"    // Created, not yet dispatched
	StatusProcessing NodeStatus = "processing" // Work in flight
	StatusCompleted  NodeStatus = "completed"  // Terminal, success
	StatusFailed     NodeStatus = "failed"     // Terminal, failure
)

// Valid returns true if the status is a known value.
func (s NodeStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is final. Terminal nodes are immutable.
func (s NodeStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether next is a legal direct successor of s.
// The only legal path is waiting → processing → {completed | failed}.
func (s NodeStatus) CanTransition(next NodeStatus) bool {
	switch s {
	case StatusWaiting:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// NodeType describes the functional role of a node in the tree.
type NodeType string

const (
	// NodeTypeQuery is the root node holding the user's question.
	NodeTypeQuery NodeType = "query"
	// NodeTypePlanning marks a planner consultation step.
	NodeTypePlanning NodeType = "planning"
	// NodeTypeTool marks a collaborator-backed execution step.
	NodeTypeTool NodeType = "tool"
	// NodeTypeSynthesis marks the final answer assembly step.
	NodeTypeSynthesis NodeType = "synthesis"
)

// NodeData is the result payload of a node. It is a tagged variant:
// at most one of Output or Error is set, and only once the node is terminal.
type NodeData struct {
	// Description explains the node's purpose, set at creation.
	Description string `json:"description,omitempty"`
	// Output is the result payload of a completed node.
	Output any `json:"output,omitempty"`
	// Error is the failure message of a failed node.
	Error string `json:"error,omitempty"`
}

// IsZero reports whether the payload carries no information.
func (d NodeData) IsZero() bool {
	return d.Description == "" && d.Output == nil && d.Error == ""
}

// Node is one unit of work in a workflow's task tree.
type Node struct {
	ID     string     `json:"id"`
	Label  string     `json:"label"`
	Type   NodeType   `json:"type"`
	Status NodeStatus `json:"status"`

	// ParentID links to the parent node. Empty for roots. Set once at
	// creation and never retargeted, so the tree is acyclic by construction.
	ParentID string `json:"parentId,omitempty"`
	// Depth equals the parent's depth + 1, or 0 for roots.
	Depth int `json:"depth"`

	Data *NodeData `json:"data,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy safe to hand to readers while the store mutates.
func (n *Node) Clone() Node {
	c := *n
	if n.Data != nil {
		data := *n.Data
		c.Data = &data
	}
	if n.StartedAt != nil {
		t := *n.StartedAt
		c.StartedAt = &t
	}
	if n.CompletedAt != nil {
		t := *n.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// NewNodeID generates a node identifier in the wire format "node-xxxxxxxx".
func NewNodeID() string {
	return "node-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
