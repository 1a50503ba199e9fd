// Package events defines the canonical event model: the protocol-agnostic
// vocabulary every adapter emits and every consumer of the conversation state
// machine understands.
//
// Events form a tagged union over one streaming run:
//
//   - RunStart / RunEnd: run lifecycle boundaries
//   - MessageStart / MessageDelta / MessageEnd: streamed message parts
//   - ToolCallStart / ToolCallArgsDelta / ToolCallArgsEnd: tool input streaming
//   - ToolCallResult / ToolCallError: tool outcome, wire or synthetic
//   - ToolCallPendingApproval: a human-in-the-loop gate raised by the wire
//   - StateSnapshot / StateDelta: full vs. JSON-Patch shared-state updates
//   - Error: terminal stream failure
//
// Every event carries the run id it belongs to and a timestamp. Events for a
// given message or tool call id must arrive in a valid sequence (Start before
// Delta before End); enforcing that ordering is the state machine's job, not
// the adapters'.
//
// Serialization uses a type marker per event so streams can cross process
// boundaries (for example through the NATS notification broker) and be
// reassembled with FromJSON.
package events
