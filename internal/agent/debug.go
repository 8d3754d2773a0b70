package agent

import (
	"math"

	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

// DebugInfo summarises a chain for inspection.
type DebugInfo struct {
	ChainID           string                    `json:"chain_id"`
	StepCounts        map[protocol.StepType]int `json:"step_counts"`
	ToolsUsed         []string                  `json:"tools_used"`
	ToolExecutions    int                       `json:"tool_executions"`
	ToolSuccessRate   float64                   `json:"tool_success_rate"`
	AvgStepDurationMs float64                   `json:"avg_step_duration_ms"`
	Iterations        int                       `json:"iterations"`
	Completed         bool                      `json:"completed"`
	Degraded          bool                      `json:"degraded"`
	Failed            bool                      `json:"failed"`
	QualityScore      float64                   `json:"quality_score"` // 0-100
}

// Debug extracts DebugInfo from a chain run with the given iteration
// limit.
func Debug(chain *protocol.ReActChain, maxIterations int) DebugInfo {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	info := DebugInfo{
		ChainID:    chain.ID,
		StepCounts: chain.CountSteps(),
		Iterations: chain.Iterations,
		Completed:  chain.Completed,
		Failed:     chain.Failed(),
	}
	info.Degraded, _ = chain.Metadata["degraded"].(bool)

	seen := map[string]bool{}
	var totalMs int64
	for _, s := range chain.Steps {
		totalMs += s.DurationMs
		if s.ToolCall != nil && !seen[s.ToolCall.Name] {
			seen[s.ToolCall.Name] = true
			info.ToolsUsed = append(info.ToolsUsed, s.ToolCall.Name)
		}
	}
	if len(chain.Steps) > 0 {
		info.AvgStepDurationMs = float64(totalMs) / float64(len(chain.Steps))
	}

	results := chain.ToolResults()
	info.ToolExecutions = len(results)
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	if len(results) > 0 {
		info.ToolSuccessRate = float64(succeeded) / float64(len(results))
	}

	info.QualityScore = qualityScore(info, maxIterations)
	return info
}

// qualityScore weighs completion (40), tool success (30), iteration
// economy (20) and visible reasoning (10).
func qualityScore(info DebugInfo, maxIterations int) float64 {
	score := 0.0
	if info.Completed {
		score += 40
		if info.Degraded {
			score -= 20
		}
	}

	switch {
	case info.ToolExecutions > 0:
		score += 30 * info.ToolSuccessRate
	case info.Completed && !info.Degraded:
		score += 30
	}

	if info.Completed && !info.Degraded {
		used := math.Max(0, float64(info.Iterations-1))
		score += 20 * math.Max(0, 1-used/float64(maxIterations))
	}

	if info.StepCounts[protocol.StepThought] > 0 {
		score += 10
	}
	return math.Min(100, math.Max(0, score))
}
