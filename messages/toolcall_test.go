package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolStatusTerminal(t *testing.T) {
	assert.True(t, ToolComplete.Terminal())
	assert.True(t, ToolError.Terminal())
	assert.False(t, ToolPendingInput.Terminal())
	assert.False(t, ToolInputStreaming.Terminal())
	assert.False(t, ToolInputAvailable.Terminal())
	assert.False(t, ToolPendingApproval.Terminal())
	assert.False(t, ToolExecuting.Terminal())
}

func TestToolCallTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []ToolStatus
		ok   bool
	}{
		{"streamed input to completion", []ToolStatus{ToolInputStreaming, ToolInputAvailable, ToolExecuting, ToolComplete}, true},
		{"backend resolved without executing", []ToolStatus{ToolInputAvailable, ToolComplete}, true},
		{"approval gate", []ToolStatus{ToolInputAvailable, ToolPendingApproval, ToolExecuting, ToolComplete}, true},
		{"repeated streaming is a no-op", []ToolStatus{ToolInputStreaming, ToolInputStreaming, ToolInputAvailable}, true},
		{"executing before input available", []ToolStatus{ToolExecuting}, false},
		{"complete before input available", []ToolStatus{ToolInputStreaming, ToolComplete}, false},
		{"approval without input", []ToolStatus{ToolPendingApproval}, false},
		{"result twice", []ToolStatus{ToolInputAvailable, ToolComplete, ToolComplete}, false},
		{"backwards from executing", []ToolStatus{ToolInputAvailable, ToolExecuting, ToolInputStreaming}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := &ToolCall{ID: "call_1", Name: "thing", Status: ToolPendingInput}
			var err error
			for _, next := range tt.path {
				if err = call.Transition(next); err != nil {
					break
				}
			}
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var invalid ErrInvalidTransition
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "call_1", invalid.CallID)
		})
	}
}

func TestToolCallFail(t *testing.T) {
	t.Run("fails from any non-terminal state", func(t *testing.T) {
		for _, status := range []ToolStatus{ToolPendingInput, ToolInputStreaming, ToolInputAvailable, ToolPendingApproval, ToolExecuting} {
			call := &ToolCall{ID: "c", Status: status}
			call.Fail("backend exploded")
			assert.Equal(t, ToolError, call.Status)
			assert.Equal(t, "backend exploded", call.Error)
		}
	})

	t.Run("does not overwrite a terminal state", func(t *testing.T) {
		call := &ToolCall{ID: "c", Status: ToolComplete, Result: `{"ok":true}`}
		call.Fail("too late")
		assert.Equal(t, ToolComplete, call.Status)
		assert.Empty(t, call.Error)
		assert.Equal(t, `{"ok":true}`, call.Result)
	})
}

func TestToolCallClone(t *testing.T) {
	call := &ToolCall{ID: "c", Name: "get_weather", Arguments: `{"location":"Paris"}`, Status: ToolExecuting}
	clone := call.Clone()
	clone.Arguments = "{}"
	clone.Status = ToolError
	assert.Equal(t, `{"location":"Paris"}`, call.Arguments)
	assert.Equal(t, ToolExecuting, call.Status)
}
