// Package tree holds the in-memory task tree of one workflow and the status
// machine governing node transitions. It performs no I/O: every committed
// mutation is handed to a single observer callback, in commit order.
package tree

import (
	"fmt"
	"sync"
	"time"

	"github.com/cortex-sre/cortex/pkg/domain"
)

// Observer receives one event per committed mutation. It is invoked while
// the store's write lock is held, so delivery order equals commit order; the
// observer must not call back into the store and must not block.
type Observer func(domain.Event)

// Store is the task tree of a single workflow. The owning orchestrator is
// the sole writer; snapshot readers may run concurrently with writes.
type Store struct {
	mu         sync.RWMutex
	workflowID string
	nodes      map[string]*domain.Node
	order      []string // insertion order = discovery order
	sealed     bool
	observer   Observer
}

// New creates an empty store for the given workflow. A nil observer is
// replaced by a no-op.
func New(workflowID string, observer Observer) *Store {
	if observer == nil {
		observer = func(domain.Event) {}
	}
	return &Store{
		workflowID: workflowID,
		nodes:      make(map[string]*domain.Node),
		observer:   observer,
	}
}

// WorkflowID returns the owning workflow's identifier.
func (s *Store) WorkflowID() string {
	return s.workflowID
}

// CreateNode appends a node in the waiting state. parentID must resolve to a
// node created earlier in this workflow, or be empty for a root. The parent
// link is set once and never retargeted, keeping the structure a forest.
func (s *Store) CreateNode(label string, typ domain.NodeType, parentID, description string) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return domain.Node{}, domain.ErrWorkflowTerminal
	}

	depth := 0
	if parentID != "" {
		parent, ok := s.nodes[parentID]
		if !ok {
			return domain.Node{}, fmt.Errorf("%w: %s", domain.ErrInvalidParent, parentID)
		}
		depth = parent.Depth + 1
	}

	node := &domain.Node{
		ID:        domain.NewNodeID(),
		Label:     label,
		Type:      typ,
		Status:    domain.StatusWaiting,
		ParentID:  parentID,
		Depth:     depth,
		CreatedAt: time.Now().UTC(),
	}
	if description != "" {
		node.Data = &domain.NodeData{Description: description}
	}

	s.nodes[node.ID] = node
	s.order = append(s.order, node.ID)

	clone := node.Clone()
	s.observer(domain.NewNodeEvent(clone))
	return clone, nil
}

// Transition advances a node along waiting → processing → {completed|failed}.
// Any other target, or a transition on a terminal node, is rejected with
// ErrIllegalTransition. The payload is only accepted on terminal transitions.
func (s *Store) Transition(nodeID string, next domain.NodeStatus, data *domain.NodeData) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return domain.Node{}, fmt.Errorf("%w: node %s", domain.ErrIllegalTransition, nodeID)
	}
	if !node.Status.CanTransition(next) {
		return domain.Node{}, fmt.Errorf("%w: %s → %s on node %s",
			domain.ErrIllegalTransition, node.Status, next, nodeID)
	}
	if data != nil && !next.Terminal() {
		return domain.Node{}, fmt.Errorf("%w: payload on non-terminal transition to %s",
			domain.ErrIllegalTransition, next)
	}

	s.apply(node, next, data)

	clone := node.Clone()
	s.observer(domain.NewNodeEvent(clone))
	return clone, nil
}

// apply mutates the node in place. Caller holds the write lock.
func (s *Store) apply(node *domain.Node, next domain.NodeStatus, data *domain.NodeData) {
	now := time.Now().UTC()
	node.Status = next
	switch {
	case next == domain.StatusProcessing:
		node.StartedAt = &now
	case next.Terminal():
		node.CompletedAt = &now
		if data != nil {
			merged := *data
			if merged.Description == "" && node.Data != nil {
				merged.Description = node.Data.Description
			}
			node.Data = &merged
		}
	}
}

// Get returns a copy of one node.
func (s *Store) Get(nodeID string) (domain.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return domain.Node{}, false
	}
	return node.Clone(), true
}

// Snapshot returns copies of all nodes in insertion order. It is safe to
// call concurrently with transitions.
func (s *Store) Snapshot() []domain.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id].Clone())
	}
	return out
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Terminal reports whether every node in the tree is terminal. An empty
// tree is not terminal: the workflow has not produced its root yet.
func (s *Store) Terminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminalLocked()
}

func (s *Store) terminalLocked() bool {
	if len(s.order) == 0 {
		return false
	}
	for _, n := range s.nodes {
		if !n.Status.Terminal() {
			return false
		}
	}
	return true
}

// Seal forbids further node creation. The orchestrator seals the store once
// the workflow has reached a terminal state.
func (s *Store) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// Abort force-fails every non-terminal node with the given reason and seals
// the store. Observers receive one event per affected node, so no node is
// ever left dangling in processing without an explicit terminal signal.
// Used on cancellation and teardown; terminal nodes are untouched.
func (s *Store) Abort(reason string) []domain.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sealed = true

	var aborted []domain.Node
	for _, id := range s.order {
		node := s.nodes[id]
		if node.Status.Terminal() {
			continue
		}
		s.apply(node, domain.StatusFailed, &domain.NodeData{Error: reason})
		clone := node.Clone()
		s.observer(domain.NewNodeEvent(clone))
		aborted = append(aborted, clone)
	}
	return aborted
}
