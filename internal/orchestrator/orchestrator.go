// Package orchestrator drives one workflow from query to final answer. It
// is the sole writer of the workflow's task tree: it consults the planner,
// dispatches tool nodes to collaborators, recursively decomposes composite
// tasks and assembles the synthesis step.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cortex-sre/cortex/internal/collab"
	"github.com/cortex-sre/cortex/internal/logging"
	"github.com/cortex-sre/cortex/internal/metrics"
	"github.com/cortex-sre/cortex/internal/planner"
	"github.com/cortex-sre/cortex/internal/tree"
	"github.com/cortex-sre/cortex/pkg/domain"
)

// Executor runs one tool call against a collaborator service.
type Executor interface {
	Execute(ctx context.Context, tool string, params map[string]any) (any, error)
}

var _ Executor = (*collab.Client)(nil)

// Defaults applied when the corresponding option is absent.
const (
	DefaultMaxDepth        = 3
	DefaultMaxTasksPerPlan = 8
)

// Orchestrator executes workflows. One instance serves all workflows; all
// per-run state lives in the tree store passed to Run.
type Orchestrator struct {
	planner  planner.Planner
	synth    planner.Synthesizer
	executor Executor
	maxDepth int
	maxTasks int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithMaxDepth caps how deep the tree may grow. Nodes that would require
// children beyond the cap fail instead of expanding.
func WithMaxDepth(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxDepth = n
		}
	}
}

// WithMaxTasksPerPlan truncates oversized plans.
func WithMaxTasksPerPlan(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTasks = n
		}
	}
}

// WithMetrics attaches instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an Orchestrator.
func New(p planner.Planner, s planner.Synthesizer, e Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:  p,
		synth:    s,
		executor: e,
		maxDepth: DefaultMaxDepth,
		maxTasks: DefaultMaxTasksPerPlan,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the workflow to a terminal state. Every tree mutation flows
// through the store, so subscribers observe the run exactly in commit
// order. On context cancellation the remaining non-terminal nodes are
// force-failed and the run reports aborted.
//
// The returned error is non-nil only for cancellation; collaborator and
// planner failures are absorbed into failed nodes.
func (o *Orchestrator) Run(ctx context.Context, wf *domain.Workflow, store *tree.Store) (domain.WorkflowStatus, error) {
	logger := o.logger.With("workflow_id", wf.ID)
	defer store.Seal()

	root, err := store.CreateNode(wf.Query, domain.NodeTypeQuery, "", "")
	if err != nil {
		return domain.WorkflowFailed, err
	}
	if _, err := store.Transition(root.ID, domain.StatusProcessing, nil); err != nil {
		return domain.WorkflowFailed, err
	}

	plan, err := o.consult(ctx, store, root.ID, wf.Query)
	if err != nil {
		if ctx.Err() != nil {
			return o.abort(ctx, store)
		}
		logger.Warn("planning failed", "error", err)
		o.fail(store, root.ID, err)
		return domain.WorkflowFailed, nil
	}

	if plan.IsDirect() {
		logger.Info("direct answer, no decomposition")
		o.complete(store, root.ID, plan.DirectAnswer)
		return domain.WorkflowCompleted, nil
	}

	o.runTasks(ctx, store, root.ID, plan.Tasks)
	if ctx.Err() != nil {
		return o.abort(ctx, store)
	}

	answer, err := o.synthesize(ctx, store, root.ID, wf.Query)
	if err != nil {
		if ctx.Err() != nil {
			return o.abort(ctx, store)
		}
		logger.Warn("synthesis failed", "error", err)
		o.fail(store, root.ID, err)
		return domain.WorkflowFailed, nil
	}

	o.complete(store, root.ID, answer)
	logger.Info("workflow completed", "nodes", store.Len())
	return domain.WorkflowCompleted, nil
}

// abort force-fails everything still in flight.
func (o *Orchestrator) abort(ctx context.Context, store *tree.Store) (domain.WorkflowStatus, error) {
	store.Abort("workflow aborted: " + context.Cause(ctx).Error())
	return domain.WorkflowAborted, ctx.Err()
}

// consult runs one planner consultation as an explicit planning node under
// the given parent, so subscribers watch the thinking step like any other.
func (o *Orchestrator) consult(ctx context.Context, store *tree.Store, parentID, query string) (*domain.Plan, error) {
	node, err := store.CreateNode("Planning: "+query, domain.NodeTypePlanning, parentID, "")
	if err != nil {
		return nil, err
	}
	if _, err := store.Transition(node.ID, domain.StatusProcessing, nil); err != nil {
		return nil, err
	}

	start := time.Now()
	plan, err := o.planner.Plan(ctx, query, store.Snapshot())
	o.observeDuration(collab.ServicePlanner, start)
	if err != nil {
		o.fail(store, node.ID, err)
		return nil, err
	}

	if len(plan.Tasks) > o.maxTasks {
		o.logger.Warn("plan truncated", "proposed", len(plan.Tasks), "cap", o.maxTasks)
		plan.Tasks = plan.Tasks[:o.maxTasks]
	}

	summary := fmt.Sprintf("%d tasks", len(plan.Tasks))
	if plan.IsDirect() {
		summary = "direct answer"
	}
	o.complete(store, node.ID, summary)
	return plan, nil
}

// runTasks creates one child node per task, then executes them
// concurrently. Creation happens before any execution so every subscriber
// sees the full fan-out announced, parents before children. A failing task
// fails only its own node. Returns the IDs of the created nodes.
func (o *Orchestrator) runTasks(ctx context.Context, store *tree.Store, parentID string, tasks []domain.TaskDescriptor) []string {
	type unit struct {
		node domain.Node
		task domain.TaskDescriptor
	}

	units := make([]unit, 0, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		typ := domain.NodeTypeTool
		if task.Tool == "" {
			typ = domain.NodeTypePlanning
		}
		node, err := store.CreateNode(task.Label, typ, parentID, task.Description)
		if err != nil {
			// Sealed or aborted mid-run; nothing left to schedule.
			o.logger.Warn("node creation rejected", "label", task.Label, "error", err)
			break
		}
		units = append(units, unit{node: node, task: task})
		ids = append(ids, node.ID)
	}

	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u unit) {
			defer wg.Done()
			o.runTask(ctx, store, u.node, u.task)
		}(u)
	}
	wg.Wait()
	return ids
}

// runTask executes one node to a terminal state.
func (o *Orchestrator) runTask(ctx context.Context, store *tree.Store, node domain.Node, task domain.TaskDescriptor) {
	if _, err := store.Transition(node.ID, domain.StatusProcessing, nil); err != nil {
		return
	}
	if ctx.Err() != nil {
		// Abort sweeps this node; leave it for the single terminal event.
		return
	}

	if task.Tool == "" {
		o.runComposite(ctx, store, node)
		return
	}

	start := time.Now()
	output, err := o.executor.Execute(ctx, task.Tool, task.Parameters)
	o.observeDuration(serviceOf(task.Tool, err), start)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.logger.Warn("tool failed", "node_id", node.ID, "tool", task.Tool, "error", err)
		o.fail(store, node.ID, err)
		return
	}
	o.complete(store, node.ID, output)
}

// runComposite decomposes a task that carries no tool: the planner is
// consulted again with the task as the query, and the resulting subtasks
// become children. Expansion past the depth cap fails the node instead.
func (o *Orchestrator) runComposite(ctx context.Context, store *tree.Store, node domain.Node) {
	if node.Depth+1 > o.maxDepth {
		o.fail(store, node.ID, fmt.Errorf("%w: depth %d", domain.ErrDepthExceeded, node.Depth+1))
		return
	}

	query := node.Label
	if node.Data != nil && node.Data.Description != "" {
		query = node.Data.Description
	}

	plan, err := o.consult(ctx, store, node.ID, query)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.fail(store, node.ID, err)
		return
	}

	if plan.IsDirect() {
		o.complete(store, node.ID, plan.DirectAnswer)
		return
	}

	ids := o.runTasks(ctx, store, node.ID, plan.Tasks)
	if ctx.Err() != nil {
		return
	}

	completed, failed := outcomes(store, ids)
	if completed == 0 {
		o.fail(store, node.ID, fmt.Errorf("all %d subtasks failed", failed))
		return
	}
	o.complete(store, node.ID, map[string]any{
		"completed": completed,
		"failed":    failed,
	})
}

// synthesize assembles the final answer from every completed tool node, in
// discovery order.
func (o *Orchestrator) synthesize(ctx context.Context, store *tree.Store, rootID, query string) (string, error) {
	var results []planner.ToolResult
	for _, n := range store.Snapshot() {
		if n.Type == domain.NodeTypeTool && n.Status == domain.StatusCompleted && n.Data != nil {
			results = append(results, planner.ToolResult{Step: n.Label, Result: n.Data.Output})
		}
	}

	node, err := store.CreateNode("Synthesizing answer", domain.NodeTypeSynthesis, rootID, "")
	if err != nil {
		return "", err
	}
	if _, err := store.Transition(node.ID, domain.StatusProcessing, nil); err != nil {
		return "", err
	}

	start := time.Now()
	answer, err := o.synth.Synthesize(ctx, query, results)
	o.observeDuration(collab.ServicePlanner, start)
	if err != nil {
		o.fail(store, node.ID, err)
		return "", err
	}

	o.complete(store, node.ID, answer)
	return answer, nil
}

// outcomes tallies terminal results for the given node IDs.
func outcomes(store *tree.Store, ids []string) (completed, failed int) {
	for _, id := range ids {
		n, ok := store.Get(id)
		if !ok {
			continue
		}
		switch n.Status {
		case domain.StatusCompleted:
			completed++
		case domain.StatusFailed:
			failed++
		}
	}
	return completed, failed
}

func (o *Orchestrator) complete(store *tree.Store, nodeID string, output any) {
	if _, err := store.Transition(nodeID, domain.StatusCompleted, &domain.NodeData{Output: output}); err != nil {
		o.logger.Error("completion rejected", "node_id", nodeID, "error", err)
	}
}

func (o *Orchestrator) fail(store *tree.Store, nodeID string, cause error) {
	if _, err := store.Transition(nodeID, domain.StatusFailed, &domain.NodeData{Error: cause.Error()}); err != nil {
		o.logger.Error("failure rejected", "node_id", nodeID, "error", err)
	}
}

func (o *Orchestrator) observeDuration(service string, start time.Time) {
	if o.metrics != nil {
		o.metrics.CollaboratorDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
	}
}

// serviceOf labels a duration sample with the collaborator that served the
// call, falling back to the executor for unrouted tools.
func serviceOf(tool string, err error) string {
	var cerr *domain.CollaboratorError
	if errors.As(err, &cerr) {
		return cerr.Service
	}
	if route, ok := collab.DefaultRoutes()[tool]; ok {
		return route.Service
	}
	return collab.ServiceExecutor
}
