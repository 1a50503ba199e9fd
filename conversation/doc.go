// Package conversation holds the streaming conversation state machine: the
// authoritative, single-writer container that consumes canonical events from
// exactly one active adapter per conversation and produces an ordered,
// immutable message and tool-call view.
//
// Events are applied in strict arrival order within one session. Out-of-order
// or otherwise illegal events are rejected and recorded as protocol
// violations; they never corrupt state. StateSnapshot events replace the
// shared-state document atomically, StateDelta events apply as ordered
// RFC 6902 patches against the prior snapshot, and a patch whose target path
// does not exist is discarded with a recorded warning, leaving the snapshot
// byte-for-byte unchanged.
//
// Cancelling a session freezes every open part in place (partial content is
// kept, never discarded), marks tool calls still short of complete as failed
// with a cancellation reason, and releases the session. Cancellation is
// idempotent.
package conversation
