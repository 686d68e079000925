package domain

// TaskDescriptor is one child task proposed by the Planner.
type TaskDescriptor struct {
	// Label is the short human-readable name for the node.
	Label string `json:"label" mapstructure:"label"`
	// Tool names the collaborator tool to execute. Empty means the task is
	// composite: the orchestrator consults the Planner again under the new
	// node instead of dispatching a tool call.
	Tool string `json:"tool,omitempty" mapstructure:"tool"`
	// Parameters are the tool call arguments.
	Parameters map[string]any `json:"parameters,omitempty" mapstructure:"parameters"`
	// Description explains the step.
	Description string `json:"description,omitempty" mapstructure:"description"`
}

// Plan is the Planner's answer for one consultation. Exactly one of
// DirectAnswer or Tasks is populated; an empty plan means the Planner had
// nothing to add.
type Plan struct {
	// DirectAnswer is set when the query needs no decomposition.
	DirectAnswer string `json:"direct_answer,omitempty" mapstructure:"direct_answer"`
	// Tasks are the proposed child steps.
	Tasks []TaskDescriptor `json:"tasks,omitempty" mapstructure:"tasks"`
}

// IsDirect reports whether the plan answers the query without child tasks.
func (p *Plan) IsDirect() bool {
	return p != nil && p.DirectAnswer != ""
}
