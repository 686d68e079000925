package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cortex-sre/cortex/pkg/domain"
)

const plannerSystemPrompt = `You are the planning capability of an SRE assistant.
You decompose operational questions into tool-backed investigation steps.
Respond ONLY with a single valid JSON object and nothing else.`

const synthesisSystemPrompt = `You are an SRE assistant writing the final
report of an investigation. Be precise and grounded in the collected data.`

const plannerPromptTemplate = `Analyze the user's query. You have two options:

1. Direct answer. If the query is a greeting or a general question that needs
   no external data, respond with:
   {"direct_answer": "<your answer>"}

2. Decomposition. If the query requires fetching data or performing actions,
   respond with:
   {"tasks": [{"label": "...", "tool": "...", "parameters": {...}, "description": "..."}]}

Task rules:
- "label" is a short human-readable title, e.g. "Fetch p99 latency".
- "tool" names the tool to run, e.g. "metrics_tool" or "logs_tool".
  Omit "tool" only when the step is too coarse to execute directly and
  should itself be decomposed further.
- "parameters" is the JSON object of arguments for the tool.
- Propose at most %d tasks. Independent tasks will run in parallel.

User query:
%q
%s
Respond with the JSON object now.`

const synthesisPromptTemplate = `You are an SRE assistant. Synthesize a final,
human-readable answer from the user's query and the collected tool results.
Start with a direct answer, then supporting evidence, then recommendations
if applicable.

User query:
%q

Collected results:
%s

Final answer:`

// buildPlannerPrompt renders the decomposition prompt. When the tree is
// non-empty the prompt carries the current state so recursive consultations
// see what already happened.
func buildPlannerPrompt(query string, tree []domain.Node, maxTasks int) string {
	treeSection := "\n"
	if len(tree) > 0 {
		var b strings.Builder
		b.WriteString("\nInvestigation so far (do not repeat finished steps):\n")
		for _, n := range tree {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", n.Status, n.Label, n.Type)
		}
		treeSection = b.String() + "\n"
	}
	return fmt.Sprintf(plannerPromptTemplate, maxTasks, query, treeSection)
}

// buildSynthesisPrompt renders the final-answer prompt.
func buildSynthesisPrompt(query string, results []ToolResult) string {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		data = []byte("[]")
	}
	return fmt.Sprintf(synthesisPromptTemplate, query, string(data))
}
