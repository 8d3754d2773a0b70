// Package protocol provides shared data structures used across the agent,
// tool and logging components. These types can be imported by external
// tools and front ends.
package protocol

import "time"

// StepType classifies a reasoning step.
type StepType string

const (
	StepThought     StepType = "thought"
	StepAction      StepType = "action"
	StepObservation StepType = "observation"
	StepFinalAnswer StepType = "final_answer"
	StepError       StepType = "error"
)

// ReActChain is one end-to-end reasoning session for one user request.
type ReActChain struct {
	ID              string         `json:"id"`
	UserRequest     string         `json:"user_request"`
	Steps           []ReActStep    `json:"steps"`
	FinalResponse   string         `json:"final_response"`
	Completed       bool           `json:"completed"`
	Iterations      int            `json:"iterations"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	TotalDurationMs int64          `json:"total_duration_ms,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ReActStep is a single entry in a chain.
type ReActStep struct {
	ID         string         `json:"id"`
	Type       StepType       `json:"step_type"`
	Content    string         `json:"content"`
	ToolCall   *ToolCall      `json:"tool_call,omitempty"`
	ToolResult *ToolResult    `json:"tool_result,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// CountSteps returns the number of steps of each type.
func (c *ReActChain) CountSteps() map[StepType]int {
	counts := make(map[StepType]int)
	for _, s := range c.Steps {
		counts[s.Type]++
	}
	return counts
}

// ToolResults returns the results of every executed tool call in order.
func (c *ReActChain) ToolResults() []ToolResult {
	var results []ToolResult
	for _, s := range c.Steps {
		if s.Type == StepObservation && s.ToolResult != nil {
			results = append(results, *s.ToolResult)
		}
	}
	return results
}

// LastStep returns the final step, or nil for an empty chain.
func (c *ReActChain) LastStep() *ReActStep {
	if len(c.Steps) == 0 {
		return nil
	}
	return &c.Steps[len(c.Steps)-1]
}

// Failed reports whether the chain ended on an error step.
func (c *ReActChain) Failed() bool {
	last := c.LastStep()
	return last != nil && last.Type == StepError
}
