// Package messages defines the canonical conversation data model: messages
// composed of ordered parts (text, reasoning, tool references) and tool calls
// tracked through an explicit status lifecycle.
//
// Messages are append-only while a run is streaming and frozen once their
// terminal event arrives. Tool calls are owned by the message that references
// them through a ToolPart, but carry their own identity so they can be looked
// up in O(1) during streaming and approval.
//
// The tool call status lifecycle is a finite state machine:
//
//	pending-input → input-streaming → input-available
//	             → (pending-approval)? → executing → complete | error
//
// Transitions outside this graph are rejected with ErrInvalidTransition so a
// misbehaving protocol can never corrupt conversation state.
package messages
