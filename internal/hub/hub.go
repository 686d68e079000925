// Package hub fans node and workflow events out to stream subscribers.
//
// Every event published for a workflow is appended to that workflow's
// ordered log and pushed to each subscriber's bounded queue. Subscribing
// atomically returns the log so far together with the live channel, so a
// late subscriber replays history and then continues from exactly the
// next event with no gap and no duplication.
package hub

import (
	"log/slog"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/cortex-sre/cortex/internal/logging"
	"github.com/cortex-sre/cortex/internal/metrics"
	"github.com/cortex-sre/cortex/pkg/domain"
)

// DefaultQueueBound is the per-subscriber queue size when none is given.
const DefaultQueueBound = 64

// Hub routes encoded events to per-workflow subscriber sets.
type Hub struct {
	mu         sync.RWMutex
	streams    map[string]*stream
	queueBound int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// stream is the state of one workflow's broadcast channel.
type stream struct {
	log    [][]byte
	subs   map[chan []byte]struct{}
	closed bool
}

// Option configures the Hub.
type Option func(*Hub)

// WithQueueBound sets the per-subscriber queue capacity.
func WithQueueBound(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueBound = n
		}
	}
}

// WithMetrics attaches instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// New creates a Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		streams:    make(map[string]*stream),
		queueBound: DefaultQueueBound,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open registers a workflow so events and subscribers can attach to it.
// Opening an already-open workflow is a no-op.
func (h *Hub) Open(workflowID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[workflowID]; !ok {
		h.streams[workflowID] = &stream{subs: make(map[chan []byte]struct{})}
	}
}

// Publish encodes the event once, appends it to the workflow log and fans
// it out. A subscriber whose queue overflows is disconnected rather than
// skipped: every attached subscriber sees the stream gap-free, and the log
// lets a dropped client reconnect and replay. Publishing to an unknown or
// closed workflow is a no-op.
func (h *Hub) Publish(workflowID string, ev domain.Event) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		h.logger.Error("event encode failed", "workflow_id", workflowID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[workflowID]
	if !ok || st.closed {
		return
	}
	st.log = append(st.log, data)

	for ch := range st.subs {
		select {
		case ch <- data:
		default:
			// Slow client: drop the connection, never the event.
			delete(st.subs, ch)
			close(ch)
			if h.metrics != nil {
				h.metrics.DroppedSubscribers.Inc()
				h.metrics.Subscribers.Dec()
			}
			h.logger.Warn("subscriber queue full, dropping connection", "workflow_id", workflowID)
		}
	}
}

// Subscribe attaches to a workflow stream. It returns the encoded event
// log so far, a live channel, and a cancel function. The channel is closed
// when the workflow finishes, the subscriber cancels, or the subscriber
// falls behind and is dropped.
func (h *Hub) Subscribe(workflowID string) ([][]byte, <-chan []byte, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[workflowID]
	if !ok {
		return nil, nil, nil, domain.ErrUnknownWorkflow
	}

	replay := make([][]byte, len(st.log))
	copy(replay, st.log)

	ch := make(chan []byte, h.queueBound)
	if st.closed {
		// Finished workflow: replay only, nothing live will arrive.
		close(ch)
		return replay, ch, func() {}, nil
	}
	st.subs[ch] = struct{}{}
	if h.metrics != nil {
		h.metrics.Subscribers.Inc()
	}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, still := st.subs[ch]; still {
			delete(st.subs, ch)
			close(ch)
			if h.metrics != nil {
				h.metrics.Subscribers.Dec()
			}
		}
	}
	return replay, ch, cancel, nil
}

// Close marks the workflow stream finished and closes every subscriber
// channel. Buffered events are still delivered before receivers observe
// the close.
func (h *Hub) Close(workflowID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[workflowID]
	if !ok || st.closed {
		return
	}
	st.closed = true
	for ch := range st.subs {
		delete(st.subs, ch)
		close(ch)
		if h.metrics != nil {
			h.metrics.Subscribers.Dec()
		}
	}
}

// Remove drops the workflow stream entirely, including its event log.
// Callers archive the log first if they need it.
func (h *Hub) Remove(workflowID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[workflowID]
	if !ok {
		return
	}
	for ch := range st.subs {
		delete(st.subs, ch)
		close(ch)
		if h.metrics != nil {
			h.metrics.Subscribers.Dec()
		}
	}
	delete(h.streams, workflowID)
}

// Log returns a copy of the encoded event log for a workflow.
func (h *Hub) Log(workflowID string) ([][]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st, ok := h.streams[workflowID]
	if !ok {
		return nil, domain.ErrUnknownWorkflow
	}
	out := make([][]byte, len(st.log))
	copy(out, st.log)
	return out, nil
}
