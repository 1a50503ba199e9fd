package gated

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/agentweft/weft/events"
	"github.com/agentweft/weft/messages"
	"github.com/agentweft/weft/pkg/uuidx"
)

// translator maps session update lines to canonical events. Message identity
// is implicit on this wire, so the translator opens assistant messages lazily
// and tracks the current one.
type translator struct {
	runID     uuid.UUID
	sessionID string
	curMsg    string
}

func (t *translator) openMessage() (string, []events.Event) {
	if t.curMsg != "" {
		return t.curMsg, nil
	}
	t.curMsg = uuidx.NewString()
	return t.curMsg, []events.Event{events.MessageStart{
		RunID: t.runID, MessageID: t.curMsg,
		Role: messages.RoleAssistant, Timestamp: now(),
	}}
}

func (t *translator) closeMessage() []events.Event {
	if t.curMsg == "" {
		return nil
	}
	ev := events.MessageEnd{RunID: t.runID, MessageID: t.curMsg, Timestamp: now()}
	t.curMsg = ""
	return []events.Event{ev}
}

func (t *translator) translate(line []byte) ([]events.Event, error) {
	if !gjson.ValidBytes(line) {
		return nil, fmt.Errorf("invalid session update: %s", line)
	}
	jv := gjson.ParseBytes(line)

	switch tpe := jv.Get("type").String(); tpe {
	case "message_chunk":
		msgID, out := t.openMessage()
		return append(out, events.MessageDelta{
			RunID: t.runID, MessageID: msgID, Kind: events.PartText,
			Text: jv.Get("text").String(), Timestamp: now(),
		}), nil

	case "reasoning_chunk":
		msgID, out := t.openMessage()
		return append(out, events.MessageDelta{
			RunID: t.runID, MessageID: msgID, Kind: events.PartReasoning,
			Text: jv.Get("text").String(), Timestamp: now(),
		}), nil

	case "message_end":
		return t.closeMessage(), nil

	case "tool_call":
		callID := jv.Get("callId").String()
		name := jv.Get("name").String()
		if callID == "" || name == "" {
			return nil, errors.New("tool_call update missing callId or name")
		}
		msgID, out := t.openMessage()
		out = append(out, events.ToolCallStart{
			RunID: t.runID, MessageID: msgID, CallID: callID, Name: name, Timestamp: now(),
		})
		if args := jv.Get("args"); args.Exists() {
			out = append(out, events.ToolCallArgsDelta{
				RunID: t.runID, CallID: callID, Chunk: args.Raw, Timestamp: now(),
			})
		}
		return append(out, events.ToolCallArgsEnd{RunID: t.runID, CallID: callID, Timestamp: now()}), nil

	case "tool_result":
		callID := jv.Get("callId").String()
		if callID == "" {
			return nil, errors.New("tool_result update missing callId")
		}
		return []events.Event{events.ToolCallResult{
			RunID: t.runID, CallID: callID,
			Result: jv.Get("result").Raw, Timestamp: now(),
		}}, nil

	case "tool_error":
		callID := jv.Get("callId").String()
		if callID == "" {
			return nil, errors.New("tool_error update missing callId")
		}
		return []events.Event{events.ToolCallError{
			RunID: t.runID, CallID: callID,
			Reason: jv.Get("error").String(), Timestamp: now(),
		}}, nil

	case "pending_permission":
		requestID := jv.Get("pendingPermission.requestId").String()
		callID := jv.Get("pendingPermission.callId").String()
		if requestID == "" || callID == "" {
			return nil, errors.New("pending_permission update missing requestId or callId")
		}
		return []events.Event{events.ToolCallPendingApproval{
			RunID: t.runID, CallID: callID,
			SessionID: t.sessionID, RequestID: requestID,
			Name: jv.Get("pendingPermission.toolName").String(), Timestamp: now(),
		}}, nil

	case "state":
		if snap := jv.Get("snapshot"); snap.Exists() {
			return []events.Event{events.StateSnapshot{RunID: t.runID, State: snap.Raw, Timestamp: now()}}, nil
		}
		if patch := jv.Get("delta"); patch.IsArray() {
			return []events.Event{events.StateDelta{RunID: t.runID, Patch: patch.Raw, Timestamp: now()}}, nil
		}
		return nil, errors.New("state update missing snapshot or delta")

	case "complete":
		out := t.closeMessage()
		return append(out, events.RunEnd{RunID: t.runID, Timestamp: now()}), nil

	case "error":
		msg := jv.Get("message").String()
		if msg == "" {
			msg = "session failed"
		}
		return []events.Event{events.Error{RunID: t.runID, Err: errors.New(msg), Timestamp: now()}}, nil

	default:
		return nil, fmt.Errorf("unknown session update type %q", tpe)
	}
}
