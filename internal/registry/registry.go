// Package registry owns workflow lifecycles per session: at most one
// active workflow per session, stream attachment for subscribers, explicit
// cancellation and archival of finished runs.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cortex-sre/cortex/internal/archive"
	"github.com/cortex-sre/cortex/internal/hub"
	"github.com/cortex-sre/cortex/internal/logging"
	"github.com/cortex-sre/cortex/internal/metrics"
	"github.com/cortex-sre/cortex/internal/orchestrator"
	"github.com/cortex-sre/cortex/internal/tree"
	"github.com/cortex-sre/cortex/pkg/domain"
)

// DefaultIdleTimeout is how long a finished run stays hot in the hub
// before the janitor moves it out.
const DefaultIdleTimeout = 10 * time.Minute

// run is one workflow execution owned by the registry.
type run struct {
	wf         *domain.Workflow
	store      *tree.Store
	cancel     context.CancelCauseFunc
	done       chan struct{}
	finishedAt time.Time // zero while running
}

// Registry coordinates sessions, runs and their event streams.
type Registry struct {
	orch        *orchestrator.Orchestrator
	hub         *hub.Hub
	archive     archive.Store
	idleTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu       sync.Mutex
	runs     map[string]*run   // workflowID -> run
	sessions map[string]string // sessionID -> active workflowID
}

// Option configures the Registry.
type Option func(*Registry)

// WithIdleTimeout sets how long finished runs stay before eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithMetrics attaches instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New creates a Registry.
func New(orch *orchestrator.Orchestrator, h *hub.Hub, store archive.Store, opts ...Option) *Registry {
	r := &Registry{
		orch:        orch,
		hub:         h,
		archive:     store,
		idleTimeout: DefaultIdleTimeout,
		logger:      logging.NewNop(),
		runs:        make(map[string]*run),
		sessions:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initiate starts a workflow for the session and returns immediately; the
// run proceeds in the background and streams through the hub. A session
// with an active workflow is rejected with ErrSessionBusy.
func (r *Registry) Initiate(ctx context.Context, sessionID, query string) (*domain.Workflow, error) {
	r.mu.Lock()
	if active, busy := r.sessions[sessionID]; busy {
		r.mu.Unlock()
		r.logger.Warn("initiate rejected, session busy", "session_id", sessionID, "active", active)
		return nil, domain.ErrSessionBusy
	}

	wf := domain.NewWorkflow(sessionID, query)
	runCtx, cancel := context.WithCancelCause(context.Background())

	r.hub.Open(wf.ID)
	store := tree.New(wf.ID, r.observer(wf.ID))

	rn := &run{
		wf:     wf,
		store:  store,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.runs[wf.ID] = rn
	r.sessions[sessionID] = wf.ID
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveWorkflows.Inc()
	}
	r.logger.Info("workflow initiated", "workflow_id", wf.ID, "session_id", sessionID)

	go r.execute(runCtx, rn)
	return wf, nil
}

// execute drives the run to termination, then closes its stream and files
// the archive record.
func (r *Registry) execute(ctx context.Context, rn *run) {
	defer close(rn.done)

	status, err := r.orch.Run(ctx, rn.wf, rn.store)
	if err != nil {
		r.logger.Info("workflow aborted", "workflow_id", rn.wf.ID, "cause", context.Cause(ctx))
	}

	now := time.Now().UTC()
	errMsg := ""
	if status == domain.WorkflowAborted {
		errMsg = context.Cause(ctx).Error()
	}

	r.mu.Lock()
	rn.wf.Status = status
	rn.wf.CompletedAt = &now
	rn.wf.Error = errMsg
	if r.sessions[rn.wf.SessionID] == rn.wf.ID {
		delete(r.sessions, rn.wf.SessionID)
	}
	r.mu.Unlock()

	// Terminal workflow event is the stream's end-of-run marker. Archive
	// before closing so anyone who saw the stream end can already replay.
	if errMsg != "" {
		r.hub.Publish(rn.wf.ID, domain.NewErrorEvent(errMsg))
	}
	r.hub.Publish(rn.wf.ID, domain.NewWorkflowEvent(rn.wf.ID, status, errMsg))
	r.archiveRun(rn)
	r.hub.Close(rn.wf.ID)

	if r.metrics != nil {
		r.metrics.ActiveWorkflows.Dec()
	}

	// Eligible for eviction only once the archive record exists.
	r.mu.Lock()
	rn.finishedAt = time.Now().UTC()
	r.mu.Unlock()
}

func (r *Registry) archiveRun(rn *run) {
	log, err := r.hub.Log(rn.wf.ID)
	if err != nil {
		r.logger.Error("archive skipped, log unavailable", "workflow_id", rn.wf.ID, "error", err)
		return
	}
	events := make([]json.RawMessage, len(log))
	for i, data := range log {
		events[i] = json.RawMessage(data)
	}
	rec := &archive.Record{
		WorkflowID: rn.wf.ID,
		SessionID:  rn.wf.SessionID,
		Query:      rn.wf.Query,
		Status:     rn.wf.Status,
		Events:     events,
		ArchivedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.archive.Save(ctx, rec); err != nil {
		r.logger.Error("archive save failed", "workflow_id", rn.wf.ID, "error", err)
	}
}

// observer bridges tree mutations into the hub and instruments. A node
// failure is followed by an error event so clients that only render
// errors never have to dig the detail out of node payloads.
func (r *Registry) observer(workflowID string) tree.Observer {
	return func(ev domain.Event) {
		node, isNode := ev.Payload.(domain.Node)
		if isNode && r.metrics != nil {
			r.metrics.NodeTransitions.WithLabelValues(string(node.Status)).Inc()
		}
		r.hub.Publish(workflowID, ev)
		if isNode && node.Status == domain.StatusFailed && node.Data != nil && node.Data.Error != "" {
			r.hub.Publish(workflowID, domain.NewErrorEvent(node.Data.Error))
		}
	}
}

// Subscribe attaches a stream for the workflow, validating that it belongs
// to the session. Finished runs replay from the hub while hot and from the
// archive afterwards.
func (r *Registry) Subscribe(ctx context.Context, sessionID, workflowID string) ([][]byte, <-chan []byte, func(), error) {
	r.mu.Lock()
	rn, ok := r.runs[workflowID]
	r.mu.Unlock()

	if ok {
		if rn.wf.SessionID != sessionID {
			return nil, nil, nil, domain.ErrUnknownWorkflow
		}
		return r.hub.Subscribe(workflowID)
	}

	rec, err := r.archive.Load(ctx, workflowID)
	if err != nil {
		return nil, nil, nil, err
	}
	if rec.SessionID != sessionID {
		return nil, nil, nil, domain.ErrUnknownWorkflow
	}

	replay := make([][]byte, len(rec.Events))
	for i, ev := range rec.Events {
		replay[i] = []byte(ev)
	}
	ch := make(chan []byte)
	close(ch)
	return replay, ch, func() {}, nil
}

// Cancel aborts the session's workflow. Cancelling an already-finished
// run is a no-op.
func (r *Registry) Cancel(ctx context.Context, sessionID, workflowID string) error {
	r.mu.Lock()
	rn, ok := r.runs[workflowID]
	r.mu.Unlock()

	if !ok || rn.wf.SessionID != sessionID {
		return domain.ErrUnknownWorkflow
	}

	rn.cancel(context.Canceled)
	r.logger.Info("workflow cancel requested", "workflow_id", workflowID, "session_id", sessionID)

	select {
	case <-rn.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View is the point-in-time state of a workflow returned by Snapshot.
type View struct {
	Workflow domain.Workflow `json:"workflow"`
	Nodes    []domain.Node   `json:"nodes"`
}

// Snapshot returns workflow metadata and the current node set. Archived
// runs are reconstructed from their event log.
func (r *Registry) Snapshot(ctx context.Context, workflowID string) (*View, error) {
	r.mu.Lock()
	rn, ok := r.runs[workflowID]
	r.mu.Unlock()

	if ok {
		r.mu.Lock()
		wf := *rn.wf
		r.mu.Unlock()
		return &View{Workflow: wf, Nodes: rn.store.Snapshot()}, nil
	}

	rec, err := r.archive.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return viewFromRecord(rec)
}

// viewFromRecord folds an archived event log back into final node states.
func viewFromRecord(rec *archive.Record) (*View, error) {
	wf := domain.Workflow{
		ID:        rec.WorkflowID,
		SessionID: rec.SessionID,
		Query:     rec.Query,
		Status:    rec.Status,
	}

	nodes := make(map[string]domain.Node)
	var order []string
	for _, raw := range rec.Events {
		var ev struct {
			Type    domain.EventType `json:"type"`
			Payload domain.Node      `json:"payload"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Type != domain.EventNode {
			continue
		}
		if _, seen := nodes[ev.Payload.ID]; !seen {
			order = append(order, ev.Payload.ID)
		}
		nodes[ev.Payload.ID] = ev.Payload
	}

	view := &View{Workflow: wf, Nodes: make([]domain.Node, 0, len(order))}
	for _, id := range order {
		view.Nodes = append(view.Nodes, nodes[id])
	}
	return view, nil
}

// Janitor evicts finished runs that sat idle past the timeout. It returns
// when the context is done. Call it once from the serving process.
func (r *Registry) Janitor(ctx context.Context) {
	ticker := time.NewTicker(r.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	var evict []string
	for id, rn := range r.runs {
		if !rn.finishedAt.IsZero() && now.Sub(rn.finishedAt) > r.idleTimeout {
			evict = append(evict, id)
			delete(r.runs, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evict {
		r.hub.Remove(id)
		r.logger.Debug("finished run evicted", "workflow_id", id)
	}
}

// Shutdown cancels every active run and waits for them to settle.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	var active []*run
	for _, rn := range r.runs {
		if rn.finishedAt.IsZero() {
			active = append(active, rn)
		}
	}
	r.mu.Unlock()

	for _, rn := range active {
		rn.cancel(context.Canceled)
	}
	for _, rn := range active {
		select {
		case <-rn.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
