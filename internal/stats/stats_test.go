package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

func TestCollectorRecordsChains(t *testing.T) {
	c := NewCollector()

	c.RecordChain(&protocol.ReActChain{
		Iterations:      2,
		TotalDurationMs: 300,
		Completed:       true,
		Steps: []protocol.ReActStep{
			{Type: protocol.StepAction},
			{Type: protocol.StepObservation, ToolResult: &protocol.ToolResult{Success: true}},
			{Type: protocol.StepAction},
			{Type: protocol.StepObservation, ToolResult: &protocol.ToolResult{Success: false}},
			{Type: protocol.StepFinalAnswer},
		},
	})
	c.RecordChain(&protocol.ReActChain{
		Iterations:      5,
		TotalDurationMs: 100,
		Completed:       true,
		Metadata:        map[string]any{"degraded": true},
	})
	c.RecordChain(&protocol.ReActChain{
		TotalDurationMs: 200,
		Steps:           []protocol.ReActStep{{Type: protocol.StepError}},
	})
	c.RecordChain(nil)

	s := c.Collect(2*1024*1024, "/tmp/kira.db")
	assert.EqualValues(t, 3, s.ChainCount)
	assert.EqualValues(t, 1, s.DegradedChains)
	assert.EqualValues(t, 1, s.FailedChains)
	assert.EqualValues(t, 1, s.ErrorCount)
	assert.InDelta(t, 7.0/3, s.AvgIterations, 1e-9)
	assert.InDelta(t, 200, s.AvgLatencyMs, 1e-9)
	assert.EqualValues(t, 2, s.ToolCalls)
	assert.EqualValues(t, 1, s.ToolFailures)
	assert.InDelta(t, 0.5, s.ToolSuccessRate, 1e-9)
	assert.InDelta(t, 2.0, s.DBSizeMB, 1e-9)
	assert.Positive(t, s.Goroutines)
}

func TestMemoryUsageMB(t *testing.T) {
	assert.Positive(t, MemoryUsageMB())
}
