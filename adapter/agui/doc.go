// Package agui adapts the SSE-event agent protocol to canonical events.
//
// The wire is a stream of named Server-Sent-Events frames (RUN_STARTED,
// TEXT_MESSAGE_CONTENT, TOOL_CALL_ARGS, STATE_DELTA, ...). Frame payloads are
// JSON documents that may be split across frame boundaries, so the translator
// keeps an explicit accumulation buffer and only dispatches once a payload
// parses. STATE_DELTA payloads are RFC 6902 JSON Patch arrays and pass
// through to the state machine untouched; applying them is not the adapter's
// job.
//
// Malformed frames produce a single canonical Error event and terminate the
// stream. A transport drop closes the stream the same way rather than leaving
// the session dangling.
package agui
