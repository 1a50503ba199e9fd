package agui

import (
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/agentweft/weft/events"
	"github.com/agentweft/weft/messages"
	"github.com/agentweft/weft/pkg/uuidx"
)

// Wire event names. These map 1:1 onto canonical events; unknown data-bearing
// frames (RAW, CUSTOM, step markers) are no-ops.
const (
	wireRunStarted         = "RUN_STARTED"
	wireRunFinished        = "RUN_FINISHED"
	wireRunError           = "RUN_ERROR"
	wireTextMessageStart   = "TEXT_MESSAGE_START"
	wireTextMessageContent = "TEXT_MESSAGE_CONTENT"
	wireTextMessageEnd     = "TEXT_MESSAGE_END"
	wireThinkingStart      = "THINKING_TEXT_MESSAGE_START"
	wireThinkingContent    = "THINKING_TEXT_MESSAGE_CONTENT"
	wireThinkingEnd        = "THINKING_TEXT_MESSAGE_END"
	wireToolCallStart      = "TOOL_CALL_START"
	wireToolCallArgs       = "TOOL_CALL_ARGS"
	wireToolCallEnd        = "TOOL_CALL_END"
	wireToolCallResult     = "TOOL_CALL_RESULT"
	wireStateSnapshot      = "STATE_SNAPSHOT"
	wireStateDelta         = "STATE_DELTA"
	wireMessagesSnapshot   = "MESSAGES_SNAPSHOT"
	wireStepStarted        = "STEP_STARTED"
	wireStepFinished       = "STEP_FINISHED"
	wireRaw                = "RAW"
	wireCustom             = "CUSTOM"
)

// translator turns SSE frames into canonical events. Payload JSON may be
// split across frames; incomplete documents are buffered until they parse.
type translator struct {
	runID   uuid.UUID
	pending []byte
	curMsg  string
}

func newTranslator(runID uuid.UUID) *translator {
	return &translator{runID: runID}
}

func (t *translator) now() strfmt.DateTime {
	return strfmt.DateTime(time.Now())
}

// translate maps one frame to zero or more canonical events. It returns an
// error only for malformed payloads that can never parse; the caller turns
// that into a terminal Error event.
func (t *translator) translate(f frame) ([]events.Event, error) {
	data := f.data
	if len(t.pending) > 0 {
		data = append(t.pending, data...)
	}

	if len(data) > 0 && !gjson.ValidBytes(data) {
		// could be a split document, keep buffering
		t.pending = data
		return nil, nil
	}
	t.pending = nil
	jv := gjson.ParseBytes(data)

	name := f.event
	if name == "" {
		name = jv.Get("type").String()
	}

	switch name {
	case wireRunStarted:
		return []events.Event{events.RunStart{RunID: t.runID, Timestamp: t.now()}}, nil

	case wireRunFinished:
		return []events.Event{events.RunEnd{RunID: t.runID, Timestamp: t.now()}}, nil

	case wireRunError:
		msg := jv.Get("message").String()
		if msg == "" {
			msg = "run failed"
		}
		return []events.Event{events.Error{RunID: t.runID, Err: fmt.Errorf("%s", msg), Timestamp: t.now()}}, nil

	case wireTextMessageStart:
		id := jv.Get("messageId").String()
		if id == "" {
			return nil, fmt.Errorf("%s frame without messageId", name)
		}
		t.curMsg = id
		role := messages.Role(jv.Get("role").String())
		if role == "" {
			role = messages.RoleAssistant
		}
		return []events.Event{events.MessageStart{RunID: t.runID, MessageID: id, Role: role, Timestamp: t.now()}}, nil

	case wireTextMessageContent:
		id := jv.Get("messageId").String()
		if id == "" {
			id = t.curMsg
		}
		if id == "" {
			return nil, fmt.Errorf("%s frame without an open message", name)
		}
		return []events.Event{events.MessageDelta{
			RunID: t.runID, MessageID: id, Kind: events.PartText,
			Text: jv.Get("delta").String(), Timestamp: t.now(),
		}}, nil

	case wireTextMessageEnd:
		id := jv.Get("messageId").String()
		if id == "" {
			id = t.curMsg
		}
		if id == "" {
			return nil, fmt.Errorf("%s frame without an open message", name)
		}
		if id == t.curMsg {
			t.curMsg = ""
		}
		return []events.Event{events.MessageEnd{RunID: t.runID, MessageID: id, Timestamp: t.now()}}, nil

	case wireThinkingContent:
		// thinking frames carry no message id on this wire; attach to the
		// open message, or open a synthetic assistant message
		var out []events.Event
		if t.curMsg == "" {
			t.curMsg = uuidx.NewString()
			out = append(out, events.MessageStart{
				RunID: t.runID, MessageID: t.curMsg,
				Role: messages.RoleAssistant, Timestamp: t.now(),
			})
		}
		out = append(out, events.MessageDelta{
			RunID: t.runID, MessageID: t.curMsg, Kind: events.PartReasoning,
			Text: jv.Get("delta").String(), Timestamp: t.now(),
		})
		return out, nil

	case wireThinkingStart, wireThinkingEnd:
		// the reasoning part opens lazily on first content and freezes with
		// its message
		return nil, nil

	case wireToolCallStart:
		callID := jv.Get("toolCallId").String()
		toolName := jv.Get("toolCallName").String()
		if callID == "" || toolName == "" {
			return nil, fmt.Errorf("%s frame missing toolCallId or toolCallName", name)
		}
		return []events.Event{events.ToolCallStart{
			RunID: t.runID, MessageID: jv.Get("parentMessageId").String(),
			CallID: callID, Name: toolName, Timestamp: t.now(),
		}}, nil

	case wireToolCallArgs:
		callID := jv.Get("toolCallId").String()
		if callID == "" {
			return nil, fmt.Errorf("%s frame missing toolCallId", name)
		}
		return []events.Event{events.ToolCallArgsDelta{
			RunID: t.runID, CallID: callID,
			Chunk: jv.Get("delta").String(), Timestamp: t.now(),
		}}, nil

	case wireToolCallEnd:
		callID := jv.Get("toolCallId").String()
		if callID == "" {
			return nil, fmt.Errorf("%s frame missing toolCallId", name)
		}
		return []events.Event{events.ToolCallArgsEnd{RunID: t.runID, CallID: callID, Timestamp: t.now()}}, nil

	case wireToolCallResult:
		callID := jv.Get("toolCallId").String()
		if callID == "" {
			return nil, fmt.Errorf("%s frame missing toolCallId", name)
		}
		return []events.Event{events.ToolCallResult{
			RunID: t.runID, CallID: callID,
			Result: jv.Get("content").Raw, Timestamp: t.now(),
		}}, nil

	case wireStateSnapshot:
		snap := jv.Get("snapshot")
		if !snap.Exists() {
			return nil, fmt.Errorf("%s frame missing snapshot", name)
		}
		return []events.Event{events.StateSnapshot{RunID: t.runID, State: snap.Raw, Timestamp: t.now()}}, nil

	case wireStateDelta:
		delta := jv.Get("delta")
		if !delta.IsArray() {
			return nil, fmt.Errorf("%s frame delta is not a JSON patch array", name)
		}
		return []events.Event{events.StateDelta{RunID: t.runID, Patch: delta.Raw, Timestamp: t.now()}}, nil

	case wireMessagesSnapshot, wireStepStarted, wireStepFinished, wireRaw, wireCustom:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown wire event %q", name)
	}
}

// flush reports an error when the stream ends with an unparsed partial
// payload still buffered.
func (t *translator) flush() error {
	if len(t.pending) > 0 {
		return fmt.Errorf("stream ended with incomplete frame payload (%d bytes buffered)", len(t.pending))
	}
	return nil
}
