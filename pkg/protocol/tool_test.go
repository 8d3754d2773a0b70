package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionSetCovers(t *testing.T) {
	tests := []struct {
		name     string
		granted  PermissionSet
		required PermissionSet
		want     bool
	}{
		{"read only covers read only", Permissions(ReadOnly), Permissions(ReadOnly), true},
		{"read only lacks modify", Permissions(ReadOnly), Permissions(ModifyTasks), false},
		{"union covers both", Permissions(ReadOnly, TimerControl), Permissions(ReadOnly, TimerControl), true},
		{"partial union", Permissions(ReadOnly), Permissions(ReadOnly, TimerControl), false},
		{"full access covers all", Permissions(FullAccess), Permissions(ModifyTasks, TimerControl), true},
		{"empty requirement", PermissionSet(0), PermissionSet(0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.granted.Covers(tt.required))
		})
	}
}

func TestPermissionSetMissing(t *testing.T) {
	granted := Permissions(ReadOnly)
	missing := granted.Missing(Permissions(ReadOnly, ModifyTasks))
	assert.Equal(t, "[modify_tasks]", missing.String())
}

func TestPermissionSetJSON(t *testing.T) {
	set := Permissions(ReadOnly, TimerControl)

	data, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `["read_only","timer_control"]`, string(data))

	var back PermissionSet
	require.NoError(t, json.Unmarshal([]byte(`["ReadOnly","timer-control"]`), &back))
	assert.Equal(t, set, back)

	assert.Error(t, json.Unmarshal([]byte(`["admin"]`), &back))
}

func TestChainHelpers(t *testing.T) {
	chain := &ReActChain{Steps: []ReActStep{
		{ID: "1", Type: StepThought},
		{ID: "2", Type: StepAction, ToolCall: &ToolCall{ID: "c1", Name: "get_tasks"}},
		{ID: "3", Type: StepObservation, ToolResult: &ToolResult{Success: true}},
		{ID: "4", Type: StepError},
	}}

	counts := chain.CountSteps()
	assert.Equal(t, 1, counts[StepThought])
	assert.Equal(t, 1, counts[StepAction])
	assert.Len(t, chain.ToolResults(), 1)
	assert.True(t, chain.Failed())
}
