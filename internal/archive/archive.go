// Package archive persists the event logs of finished workflows so late
// subscribers can still replay a recently-completed run.
package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cortex-sre/cortex/pkg/domain"
)

// Record is the durable trace of one finished workflow.
type Record struct {
	WorkflowID string                `json:"workflow_id"`
	SessionID  string                `json:"session_id"`
	Query      string                `json:"query"`
	Status     domain.WorkflowStatus `json:"status"`
	Events     []json.RawMessage     `json:"events"`
	ArchivedAt time.Time             `json:"archived_at"`
}

// Store defines the interface for persisting finished workflows.
type Store interface {
	// Save persists the record, replacing any previous one for the same
	// workflow ID.
	Save(ctx context.Context, rec *Record) error

	// Load retrieves a record by workflow ID.
	// Returns domain.ErrUnknownWorkflow if no record exists.
	Load(ctx context.Context, workflowID string) (*Record, error)

	// List returns the archived workflow IDs.
	List(ctx context.Context) ([]string, error)

	// Delete removes a record.
	Delete(ctx context.Context, workflowID string) error
}
