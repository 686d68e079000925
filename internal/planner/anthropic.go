package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cortex-sre/cortex/internal/logging"
	"github.com/cortex-sre/cortex/pkg/domain"
)

// maxTasksDefault bounds plan fan-out when the caller does not override it.
const maxTasksDefault = 8

// Anthropic is the LLM-backed Planner and Synthesizer.
type Anthropic struct {
	client   anthropic.Client
	model    anthropic.Model
	timeout  time.Duration
	maxTasks int
	logger   *slog.Logger
}

// AnthropicOption configures the Anthropic planner.
type AnthropicOption func(*Anthropic)

// WithMaxTasks caps how many tasks the prompt asks for per consultation.
func WithMaxTasks(n int) AnthropicOption {
	return func(a *Anthropic) { a.maxTasks = n }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) AnthropicOption {
	return func(a *Anthropic) { a.logger = logger }
}

// NewAnthropic creates the planner. An empty apiKey falls back to the
// ANTHROPIC_API_KEY environment variable (SDK default behavior).
func NewAnthropic(apiKey, model string, timeout time.Duration, opts ...AnthropicOption) *Anthropic {
	var reqOpts []option.RequestOption
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}

	a := &Anthropic{
		client:   anthropic.NewClient(reqOpts...),
		model:    anthropic.Model(model),
		timeout:  timeout,
		maxTasks: maxTasksDefault,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Plan implements Planner. Model and parse failures come back as
// *domain.CollaboratorError so the orchestrator fails only the consulting
// node.
func (a *Anthropic) Plan(ctx context.Context, query string, tree []domain.Node) (*domain.Plan, error) {
	prompt := buildPlannerPrompt(query, tree, a.maxTasks)

	text, err := a.complete(ctx, plannerSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	plan, err := ParsePlan(text)
	if err != nil {
		a.logger.Warn("planner returned unusable response", "error", err)
		return nil, &domain.CollaboratorError{Service: "planner", Err: err}
	}

	a.logger.Debug("plan generated", "direct", plan.IsDirect(), "tasks", len(plan.Tasks))
	return plan, nil
}

// Synthesize implements Synthesizer.
func (a *Anthropic) Synthesize(ctx context.Context, query string, results []ToolResult) (string, error) {
	return a.complete(ctx, synthesisSystemPrompt, buildSynthesisPrompt(query, results))
}

func (a *Anthropic) complete(ctx context.Context, system, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		timeout := callCtx.Err() == context.DeadlineExceeded
		return "", &domain.CollaboratorError{Service: "planner", Timeout: timeout, Err: err}
	}

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}
	if text == "" {
		return "", &domain.CollaboratorError{
			Service: "planner",
			Err:     fmt.Errorf("model returned no text content"),
		}
	}
	return text, nil
}
