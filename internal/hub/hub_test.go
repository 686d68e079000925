package hub

import (
	"fmt"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-sre/cortex/pkg/domain"
)

func nodeEvent(id string, status domain.NodeStatus) domain.Event {
	return domain.NewNodeEvent(domain.Node{ID: id, Status: status})
}

func decodeNodeID(t *testing.T, data []byte) string {
	t.Helper()
	var ev struct {
		Type    string      `json:"type"`
		Payload domain.Node `json:"payload"`
	}
	require.NoError(t, sonic.Unmarshal(data, &ev))
	require.Equal(t, "node", ev.Type)
	return ev.Payload.ID
}

func TestSubscribeReplaysThenStreamsLive(t *testing.T) {
	h := New()
	h.Open("wf-1")

	h.Publish("wf-1", nodeEvent("node-1", domain.StatusWaiting))
	h.Publish("wf-1", nodeEvent("node-1", domain.StatusProcessing))

	replay, ch, cancel, err := h.Subscribe("wf-1")
	require.NoError(t, err)
	defer cancel()

	require.Len(t, replay, 2)
	assert.Equal(t, "node-1", decodeNodeID(t, replay[0]))

	h.Publish("wf-1", nodeEvent("node-2", domain.StatusWaiting))
	live := <-ch
	assert.Equal(t, "node-2", decodeNodeID(t, live))
}

func TestSubscribeAfterCloseGetsFullReplay(t *testing.T) {
	h := New()
	h.Open("wf-1")
	h.Publish("wf-1", nodeEvent("node-1", domain.StatusWaiting))
	h.Close("wf-1")

	replay, ch, cancel, err := h.Subscribe("wf-1")
	require.NoError(t, err)
	defer cancel()

	assert.Len(t, replay, 1)
	_, open := <-ch
	assert.False(t, open, "channel must be closed for a finished workflow")
}

func TestSubscribeUnknownWorkflow(t *testing.T) {
	h := New()
	_, _, _, err := h.Subscribe("wf-missing")
	assert.ErrorIs(t, err, domain.ErrUnknownWorkflow)
}

func TestCloseDeliversBufferedEventsFirst(t *testing.T) {
	h := New()
	h.Open("wf-1")

	_, ch, cancel, err := h.Subscribe("wf-1")
	require.NoError(t, err)
	defer cancel()

	h.Publish("wf-1", nodeEvent("node-1", domain.StatusWaiting))
	h.Publish("wf-1", nodeEvent("node-1", domain.StatusProcessing))
	h.Close("wf-1")

	var got []string
	for data := range ch {
		got = append(got, decodeNodeID(t, data))
	}
	assert.Equal(t, []string{"node-1", "node-1"}, got)
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	h := New(WithQueueBound(1))
	h.Open("wf-1")

	_, ch, cancel, err := h.Subscribe("wf-1")
	require.NoError(t, err)
	defer cancel()

	// Queue holds one event; the second overflows and severs the connection.
	h.Publish("wf-1", nodeEvent("node-1", domain.StatusWaiting))
	h.Publish("wf-1", nodeEvent("node-2", domain.StatusWaiting))

	assert.Equal(t, "node-1", decodeNodeID(t, <-ch))
	_, open := <-ch
	assert.False(t, open, "overflowing subscriber must be disconnected, not skipped")

	// The log keeps everything so the client can reconnect and replay.
	log, err := h.Log("wf-1")
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "node-2", decodeNodeID(t, log[1]))
}

func TestCancelIsIdempotentWithClose(t *testing.T) {
	h := New()
	h.Open("wf-1")

	_, _, cancel, err := h.Subscribe("wf-1")
	require.NoError(t, err)

	h.Close("wf-1")
	// Must not panic or double-close the channel.
	cancel()
	cancel()
}

func TestConcurrentPublishersPreserveLogOrderPerPublisher(t *testing.T) {
	h := New(WithQueueBound(1024))
	h.Open("wf-1")

	_, ch, cancel, err := h.Subscribe("wf-1")
	require.NoError(t, err)
	defer cancel()

	const publishers, perPublisher = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				h.Publish("wf-1", nodeEvent(fmt.Sprintf("node-%d-%d", p, i), domain.StatusWaiting))
			}
		}(p)
	}
	wg.Wait()
	h.Close("wf-1")

	// Per-publisher order must survive interleaving.
	lastSeen := make(map[string]int)
	total := 0
	for data := range ch {
		total++
		var p, i int
		id := decodeNodeID(t, data)
		_, err := fmt.Sscanf(id, "node-%d-%d", &p, &i)
		require.NoError(t, err)
		key := fmt.Sprintf("p%d", p)
		last, seen := lastSeen[key]
		if seen {
			assert.Greater(t, i, last)
		}
		lastSeen[key] = i
	}
	assert.Equal(t, publishers*perPublisher, total)
}
