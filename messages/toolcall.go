package messages

import (
	"fmt"

	"github.com/go-openapi/strfmt"
)

// ToolStatus is the lifecycle state of a tool call.
type ToolStatus string

const (
	ToolPendingInput    ToolStatus = "pending-input"
	ToolInputStreaming  ToolStatus = "input-streaming"
	ToolInputAvailable  ToolStatus = "input-available"
	ToolPendingApproval ToolStatus = "pending-approval"
	ToolExecuting       ToolStatus = "executing"
	ToolComplete        ToolStatus = "complete"
	ToolError           ToolStatus = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ToolStatus) Terminal() bool {
	return s == ToolComplete || s == ToolError
}

var toolTransitions = map[ToolStatus][]ToolStatus{
	ToolPendingInput:    {ToolInputStreaming, ToolInputAvailable, ToolError},
	ToolInputStreaming:  {ToolInputAvailable, ToolError},
	ToolInputAvailable:  {ToolPendingApproval, ToolExecuting, ToolComplete, ToolError},
	ToolPendingApproval: {ToolExecuting, ToolError},
	ToolExecuting:       {ToolComplete, ToolError},
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. Re-entering the same state is allowed so repeated streaming
// events are no-ops rather than violations.
func (s ToolStatus) CanTransition(next ToolStatus) bool {
	if s == next {
		return !s.Terminal()
	}
	for _, allowed := range toolTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned when a tool call is asked to move to a
// state the lifecycle does not permit. The call's state is left unchanged.
type ErrInvalidTransition struct {
	CallID string
	From   ToolStatus
	To     ToolStatus
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("tool call %s: invalid transition %s -> %s", e.CallID, e.From, e.To)
}

// ToolCall tracks one invocation of a named capability through its lifecycle.
// Arguments hold accumulated raw JSON; they are only considered materialized
// once Status reaches input-available.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments,omitempty"`
	Status    ToolStatus      `json:"status"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt strfmt.DateTime `json:"created_at"`
}

// Transition moves the call to next if the lifecycle allows it; otherwise the
// state is left untouched and an ErrInvalidTransition is returned.
func (tc *ToolCall) Transition(next ToolStatus) error {
	if !tc.Status.CanTransition(next) {
		return ErrInvalidTransition{CallID: tc.ID, From: tc.Status, To: next}
	}
	tc.Status = next
	return nil
}

// Fail moves the call to the error state with the given reason. Failing is
// legal from every non-terminal state; failing an already terminal call is a
// no-op so cancellation stays idempotent.
func (tc *ToolCall) Fail(reason string) {
	if tc.Status.Terminal() {
		return
	}
	tc.Status = ToolError
	tc.Error = reason
}

// Clone returns a copy of the tool call.
func (tc *ToolCall) Clone() ToolCall {
	return *tc
}
