package events

import (
	"fmt"

	"github.com/agentweft/weft/messages"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
)

// Event is the closed union of canonical streaming events.
type Event interface {
	event()
}

// PartKind distinguishes which accumulating message part a delta targets.
type PartKind string

const (
	PartText      PartKind = "text"
	PartReasoning PartKind = "reasoning"
)

// RunStart marks the beginning of one streamed turn.
type RunStart struct {
	RunID     uuid.UUID       `json:"run_id"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (RunStart) event() {}

// RunEnd marks the successful end of a streamed turn. The owning session is
// complete once it arrives.
type RunEnd struct {
	RunID     uuid.UUID       `json:"run_id"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (RunEnd) event() {}

// MessageStart opens a new message with an empty part list.
type MessageStart struct {
	RunID     uuid.UUID       `json:"run_id"`
	MessageID string          `json:"message_id"`
	Role      messages.Role   `json:"role"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (MessageStart) event() {}

// MessageDelta appends text to the last open part of the given kind on the
// message, creating the part if absent.
type MessageDelta struct {
	RunID     uuid.UUID       `json:"run_id"`
	MessageID string          `json:"message_id"`
	Kind      PartKind        `json:"kind"`
	Text      string          `json:"text"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (MessageDelta) event() {}

// MessageEnd freezes the message; further deltas for it are violations.
type MessageEnd struct {
	RunID     uuid.UUID       `json:"run_id"`
	MessageID string          `json:"message_id"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (MessageEnd) event() {}

// ToolCallStart announces a tool invocation. MessageID names the message the
// call's ToolPart is appended to; when empty the call attaches to the last
// open assistant message.
type ToolCallStart struct {
	RunID     uuid.UUID       `json:"run_id"`
	MessageID string          `json:"message_id,omitempty"`
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (ToolCallStart) event() {}

// ToolCallArgsDelta carries a fragment of the call's JSON arguments. The
// fragments concatenate into a full document by ToolCallArgsEnd.
type ToolCallArgsDelta struct {
	RunID     uuid.UUID       `json:"run_id"`
	CallID    string          `json:"call_id"`
	Chunk     string          `json:"chunk"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (ToolCallArgsDelta) event() {}

// ToolCallArgsEnd materializes the call's arguments; the call becomes
// input-available.
type ToolCallArgsEnd struct {
	RunID     uuid.UUID       `json:"run_id"`
	CallID    string          `json:"call_id"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (ToolCallArgsEnd) event() {}

// ToolCallResult completes a call with a raw JSON result. It is emitted by
// adapters for backend-resolved tools and synthesized by the execution engine
// for frontend handlers.
type ToolCallResult struct {
	RunID     uuid.UUID       `json:"run_id"`
	CallID    string          `json:"call_id"`
	Result    string          `json:"result"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (ToolCallResult) event() {}

// ToolCallError fails a single call without aborting the rest of the run.
type ToolCallError struct {
	RunID     uuid.UUID       `json:"run_id"`
	CallID    string          `json:"call_id"`
	Reason    string          `json:"reason"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (ToolCallError) event() {}

// ToolCallPendingApproval surfaces a wire-level permission gate. The approval
// UI answers it through the (SessionID, RequestID) pair.
type ToolCallPendingApproval struct {
	RunID     uuid.UUID       `json:"run_id"`
	CallID    string          `json:"call_id"`
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id"`
	Name      string          `json:"name,omitempty"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (ToolCallPendingApproval) event() {}

// StateSnapshot atomically replaces the shared-state object with the raw JSON
// document in State.
type StateSnapshot struct {
	RunID     uuid.UUID       `json:"run_id"`
	State     string          `json:"state"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (StateSnapshot) event() {}

// StateDelta carries an ordered RFC 6902 JSON Patch to apply against the last
// snapshot.
type StateDelta struct {
	RunID     uuid.UUID       `json:"run_id"`
	Patch     string          `json:"patch"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (StateDelta) event() {}

// Error terminates the stream. Prior frozen messages survive it.
type Error struct {
	RunID     uuid.UUID       `json:"run_id"`
	Err       error           `json:"error"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (Error) event() {}

func (e Error) Error() string {
	return fmt.Sprintf("run_id: %s, timestamp: %s, error: %v", e.RunID, e.Timestamp, e.Err)
}

// Unwrap exposes the wrapped failure for errors.Is / errors.As.
func (e Error) Unwrap() error {
	return e.Err
}
