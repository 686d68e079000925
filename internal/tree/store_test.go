package tree_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-sre/cortex/internal/tree"
	"github.com/cortex-sre/cortex/pkg/domain"
)

func TestStore_CreateNode(t *testing.T) {
	var events []domain.Event
	s := tree.New("wf-test", func(e domain.Event) { events = append(events, e) })

	root, err := s.CreateNode("why is latency up", domain.NodeTypeQuery, "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, root.Status)
	assert.Equal(t, 0, root.Depth)
	assert.Empty(t, root.ParentID)

	child, err := s.CreateNode("check metrics", domain.NodeTypeTool, root.ID, "fetch p99")
	require.NoError(t, err)
	assert.Equal(t, root.ID, child.ParentID)
	assert.Equal(t, 1, child.Depth)
	require.NotNil(t, child.Data)
	assert.Equal(t, "fetch p99", child.Data.Description)

	// One ordered creation event per node, parent strictly before child.
	require.Len(t, events, 2)
	first := events[0].Payload.(domain.Node)
	second := events[1].Payload.(domain.Node)
	assert.Equal(t, root.ID, first.ID)
	assert.Equal(t, child.ID, second.ID)

	t.Run("unknown parent", func(t *testing.T) {
		_, err := s.CreateNode("orphan", domain.NodeTypeTool, "node-deadbeef", "")
		assert.ErrorIs(t, err, domain.ErrInvalidParent)
	})
}

func TestStore_Transition(t *testing.T) {
	s := tree.New("wf-test", nil)
	n, err := s.CreateNode("step", domain.NodeTypeTool, "", "")
	require.NoError(t, err)

	t.Run("waiting directly to completed is rejected", func(t *testing.T) {
		_, err := s.Transition(n.ID, domain.StatusCompleted, nil)
		assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	})

	t.Run("payload on non-terminal transition is rejected", func(t *testing.T) {
		_, err := s.Transition(n.ID, domain.StatusProcessing, &domain.NodeData{Output: "x"})
		assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	})

	t.Run("legal path", func(t *testing.T) {
		got, err := s.Transition(n.ID, domain.StatusProcessing, nil)
		require.NoError(t, err)
		assert.NotNil(t, got.StartedAt)

		got, err = s.Transition(n.ID, domain.StatusCompleted, &domain.NodeData{Output: "done"})
		require.NoError(t, err)
		assert.NotNil(t, got.CompletedAt)
		assert.Equal(t, "done", got.Data.Output)
	})

	t.Run("terminal node is immutable", func(t *testing.T) {
		_, err := s.Transition(n.ID, domain.StatusFailed, nil)
		assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	})

	t.Run("unknown node", func(t *testing.T) {
		_, err := s.Transition("node-00000000", domain.StatusProcessing, nil)
		assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	})
}

func TestStore_Terminal(t *testing.T) {
	s := tree.New("wf-test", nil)
	assert.False(t, s.Terminal(), "empty tree is not terminal")

	root, _ := s.CreateNode("root", domain.NodeTypeQuery, "", "")
	child, _ := s.CreateNode("child", domain.NodeTypeTool, root.ID, "")
	assert.False(t, s.Terminal())

	_, _ = s.Transition(root.ID, domain.StatusProcessing, nil)
	_, _ = s.Transition(root.ID, domain.StatusCompleted, nil)
	assert.False(t, s.Terminal(), "one open node keeps the workflow live")

	_, _ = s.Transition(child.ID, domain.StatusProcessing, nil)
	_, _ = s.Transition(child.ID, domain.StatusFailed, &domain.NodeData{Error: "boom"})
	assert.True(t, s.Terminal())
}

func TestStore_Abort(t *testing.T) {
	var events []domain.Event
	s := tree.New("wf-test", func(e domain.Event) { events = append(events, e) })

	root, _ := s.CreateNode("root", domain.NodeTypeQuery, "", "")
	_, _ = s.Transition(root.ID, domain.StatusProcessing, nil)
	_, _ = s.Transition(root.ID, domain.StatusCompleted, nil)
	open, _ := s.CreateNode("open", domain.NodeTypeTool, root.ID, "")

	aborted := s.Abort("workflow cancelled")
	require.Len(t, aborted, 1)
	assert.Equal(t, open.ID, aborted[0].ID)
	assert.Equal(t, domain.StatusFailed, aborted[0].Status)
	assert.Equal(t, "workflow cancelled", aborted[0].Data.Error)
	assert.True(t, s.Terminal())

	// Every node the observer was told about has an explicit terminal status.
	last := events[len(events)-1].Payload.(domain.Node)
	assert.True(t, last.Status.Terminal())

	t.Run("sealed store rejects new nodes", func(t *testing.T) {
		_, err := s.CreateNode("late", domain.NodeTypeTool, root.ID, "")
		assert.ErrorIs(t, err, domain.ErrWorkflowTerminal)
	})
}

// Replaying an event log into a fresh map yields a tree identical to the
// source snapshot: events are self-contained full node states.
func TestStore_EventLogReplay(t *testing.T) {
	var log []domain.Event
	s := tree.New("wf-test", func(e domain.Event) { log = append(log, e) })

	root, _ := s.CreateNode("root", domain.NodeTypeQuery, "", "")
	a, _ := s.CreateNode("a", domain.NodeTypeTool, root.ID, "")
	b, _ := s.CreateNode("b", domain.NodeTypeTool, root.ID, "")
	for _, id := range []string{a.ID, b.ID, root.ID} {
		_, _ = s.Transition(id, domain.StatusProcessing, nil)
	}
	_, _ = s.Transition(a.ID, domain.StatusCompleted, &domain.NodeData{Output: "oa"})
	_, _ = s.Transition(b.ID, domain.StatusFailed, &domain.NodeData{Error: "eb"})
	_, _ = s.Transition(root.ID, domain.StatusCompleted, nil)

	replayed := make(map[string]domain.Node)
	var order []string
	for _, e := range log {
		n := e.Payload.(domain.Node)
		if _, seen := replayed[n.ID]; !seen {
			order = append(order, n.ID)
		}
		replayed[n.ID] = n

		// Parent creation is always observed strictly before the child.
		if n.ParentID != "" {
			parent, seen := replayed[n.ParentID]
			require.True(t, seen, "parent must precede child in the log")
			assert.Equal(t, parent.Depth+1, n.Depth)
		}
	}

	snapshot := s.Snapshot()
	require.Len(t, order, len(snapshot))
	for i, n := range snapshot {
		assert.Equal(t, n.ID, order[i], "replay preserves discovery order")
		assert.Equal(t, n.Status, replayed[n.ID].Status)
	}
}

func TestStore_SnapshotConcurrentWithWrites(t *testing.T) {
	s := tree.New("wf-test", nil)
	root, _ := s.CreateNode("root", domain.NodeTypeQuery, "", "")

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			n, err := s.CreateNode("child", domain.NodeTypeTool, root.ID, "")
			if err != nil {
				return
			}
			_, _ = s.Transition(n.ID, domain.StatusProcessing, nil)
			_, _ = s.Transition(n.ID, domain.StatusCompleted, nil)
		}
		close(stop)
	}()

	// Readers must never observe a transiently inconsistent node.
	for {
		for _, n := range s.Snapshot() {
			if n.ParentID != "" {
				assert.Equal(t, 1, n.Depth)
			}
			if n.Status == domain.StatusCompleted {
				assert.NotNil(t, n.CompletedAt)
			}
		}
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
	}
}
