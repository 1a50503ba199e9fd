package events

import (
	"errors"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/agentweft/weft/messages"
)

var (
	runStartJSON        = []byte(`{"type":"run_start"}`)
	runEndJSON          = []byte(`{"type":"run_end"}`)
	messageStartJSON    = []byte(`{"type":"message_start"}`)
	messageDeltaJSON    = []byte(`{"type":"message_delta"}`)
	messageEndJSON      = []byte(`{"type":"message_end"}`)
	toolStartJSON       = []byte(`{"type":"tool_call_start"}`)
	toolArgsDeltaJSON   = []byte(`{"type":"tool_call_args_delta"}`)
	toolArgsEndJSON     = []byte(`{"type":"tool_call_args_end"}`)
	toolResultJSON      = []byte(`{"type":"tool_call_result"}`)
	toolErrorJSON       = []byte(`{"type":"tool_call_error"}`)
	pendingApprovalJSON = []byte(`{"type":"tool_call_pending_approval"}`)
	stateSnapshotJSON   = []byte(`{"type":"state_snapshot"}`)
	stateDeltaJSON      = []byte(`{"type":"state_delta"}`)
	errorJSON           = []byte(`{"type":"error"}`)
)

func setCommon(result []byte, runID uuid.UUID, ts strfmt.DateTime) ([]byte, error) {
	result, err := sjson.SetBytes(result, "run_id", runID.String())
	if err != nil {
		return nil, err
	}
	if !ts.IsZero() {
		result, err = sjson.SetBytes(result, "timestamp", ts.String())
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func parseCommon(data []byte, kind string) (uuid.UUID, strfmt.DateTime, error) {
	var runID uuid.UUID
	var ts strfmt.DateTime

	if !gjson.ValidBytes(data) {
		return runID, ts, fmt.Errorf("invalid json: %s", data)
	}
	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != kind {
		return runID, ts, fmt.Errorf("missing or invalid type, expected %q", kind)
	}
	rid := gjson.GetBytes(data, "run_id")
	if !rid.Exists() {
		return runID, ts, errors.New("missing required field 'run_id'")
	}
	if err := runID.UnmarshalText([]byte(rid.String())); err != nil {
		return runID, ts, fmt.Errorf("invalid run_id: %w", err)
	}
	if tsv := gjson.GetBytes(data, "timestamp"); tsv.Exists() {
		if err := ts.UnmarshalText([]byte(tsv.String())); err != nil {
			return runID, ts, fmt.Errorf("invalid timestamp: %w", err)
		}
	}
	return runID, ts, nil
}

func requireString(data []byte, path string) (string, error) {
	v := gjson.GetBytes(data, path)
	if !v.Exists() {
		return "", fmt.Errorf("missing required field %q", path)
	}
	return v.String(), nil
}

// MarshalJSON implements custom JSON marshaling for RunStart.
func (e RunStart) MarshalJSON() ([]byte, error) {
	return setCommon(runStartJSON, e.RunID, e.Timestamp)
}

// UnmarshalJSON implements custom JSON unmarshaling for RunStart.
func (e *RunStart) UnmarshalJSON(data []byte) error {
	var err error
	e.RunID, e.Timestamp, err = parseCommon(data, "run_start")
	return err
}

// MarshalJSON implements custom JSON marshaling for RunEnd.
func (e RunEnd) MarshalJSON() ([]byte, error) {
	return setCommon(runEndJSON, e.RunID, e.Timestamp)
}

// UnmarshalJSON implements custom JSON unmarshaling for RunEnd.
func (e *RunEnd) UnmarshalJSON(data []byte) error {
	var err error
	e.RunID, e.Timestamp, err = parseCommon(data, "run_end")
	return err
}

// MarshalJSON implements custom JSON marshaling for MessageStart.
func (e MessageStart) MarshalJSON() ([]byte, error) {
	result, err := setCommon(messageStartJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "message_id", e.MessageID)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "role", string(e.Role))
}

// UnmarshalJSON implements custom JSON unmarshaling for MessageStart.
func (e *MessageStart) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "message_start"); err != nil {
		return err
	}
	if e.MessageID, err = requireString(data, "message_id"); err != nil {
		return err
	}
	role, err := requireString(data, "role")
	if err != nil {
		return err
	}
	e.Role = messages.Role(role)
	return nil
}

// MarshalJSON implements custom JSON marshaling for MessageDelta.
func (e MessageDelta) MarshalJSON() ([]byte, error) {
	result, err := setCommon(messageDeltaJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "message_id", e.MessageID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "kind", string(e.Kind))
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "text", e.Text)
}

// UnmarshalJSON implements custom JSON unmarshaling for MessageDelta.
func (e *MessageDelta) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "message_delta"); err != nil {
		return err
	}
	if e.MessageID, err = requireString(data, "message_id"); err != nil {
		return err
	}
	kind, err := requireString(data, "kind")
	if err != nil {
		return err
	}
	e.Kind = PartKind(kind)
	e.Text = gjson.GetBytes(data, "text").String()
	return nil
}

// MarshalJSON implements custom JSON marshaling for MessageEnd.
func (e MessageEnd) MarshalJSON() ([]byte, error) {
	result, err := setCommon(messageEndJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "message_id", e.MessageID)
}

// UnmarshalJSON implements custom JSON unmarshaling for MessageEnd.
func (e *MessageEnd) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "message_end"); err != nil {
		return err
	}
	e.MessageID, err = requireString(data, "message_id")
	return err
}

// MarshalJSON implements custom JSON marshaling for ToolCallStart.
func (e ToolCallStart) MarshalJSON() ([]byte, error) {
	result, err := setCommon(toolStartJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	if e.MessageID != "" {
		result, err = sjson.SetBytes(result, "message_id", e.MessageID)
		if err != nil {
			return nil, err
		}
	}
	result, err = sjson.SetBytes(result, "call_id", e.CallID)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "name", e.Name)
}

// UnmarshalJSON implements custom JSON unmarshaling for ToolCallStart.
func (e *ToolCallStart) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "tool_call_start"); err != nil {
		return err
	}
	if e.CallID, err = requireString(data, "call_id"); err != nil {
		return err
	}
	if e.Name, err = requireString(data, "name"); err != nil {
		return err
	}
	e.MessageID = gjson.GetBytes(data, "message_id").String()
	return nil
}

// MarshalJSON implements custom JSON marshaling for ToolCallArgsDelta.
func (e ToolCallArgsDelta) MarshalJSON() ([]byte, error) {
	result, err := setCommon(toolArgsDeltaJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "call_id", e.CallID)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "chunk", e.Chunk)
}

// UnmarshalJSON implements custom JSON unmarshaling for ToolCallArgsDelta.
func (e *ToolCallArgsDelta) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "tool_call_args_delta"); err != nil {
		return err
	}
	if e.CallID, err = requireString(data, "call_id"); err != nil {
		return err
	}
	e.Chunk = gjson.GetBytes(data, "chunk").String()
	return nil
}

// MarshalJSON implements custom JSON marshaling for ToolCallArgsEnd.
func (e ToolCallArgsEnd) MarshalJSON() ([]byte, error) {
	result, err := setCommon(toolArgsEndJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "call_id", e.CallID)
}

// UnmarshalJSON implements custom JSON unmarshaling for ToolCallArgsEnd.
func (e *ToolCallArgsEnd) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "tool_call_args_end"); err != nil {
		return err
	}
	e.CallID, err = requireString(data, "call_id")
	return err
}

// MarshalJSON implements custom JSON marshaling for ToolCallResult.
func (e ToolCallResult) MarshalJSON() ([]byte, error) {
	result, err := setCommon(toolResultJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "call_id", e.CallID)
	if err != nil {
		return nil, err
	}
	if gjson.Valid(e.Result) {
		return sjson.SetRawBytes(result, "result", []byte(e.Result))
	}
	return sjson.SetBytes(result, "result", e.Result)
}

// UnmarshalJSON implements custom JSON unmarshaling for ToolCallResult.
func (e *ToolCallResult) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "tool_call_result"); err != nil {
		return err
	}
	if e.CallID, err = requireString(data, "call_id"); err != nil {
		return err
	}
	res := gjson.GetBytes(data, "result")
	if !res.Exists() {
		return errors.New("missing required field 'result'")
	}
	e.Result = res.Raw
	return nil
}

// MarshalJSON implements custom JSON marshaling for ToolCallError.
func (e ToolCallError) MarshalJSON() ([]byte, error) {
	result, err := setCommon(toolErrorJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "call_id", e.CallID)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "reason", e.Reason)
}

// UnmarshalJSON implements custom JSON unmarshaling for ToolCallError.
func (e *ToolCallError) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "tool_call_error"); err != nil {
		return err
	}
	if e.CallID, err = requireString(data, "call_id"); err != nil {
		return err
	}
	e.Reason, err = requireString(data, "reason")
	return err
}

// MarshalJSON implements custom JSON marshaling for ToolCallPendingApproval.
func (e ToolCallPendingApproval) MarshalJSON() ([]byte, error) {
	result, err := setCommon(pendingApprovalJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "call_id", e.CallID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "session_id", e.SessionID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "request_id", e.RequestID)
	if err != nil {
		return nil, err
	}
	if e.Name != "" {
		result, err = sjson.SetBytes(result, "name", e.Name)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for ToolCallPendingApproval.
func (e *ToolCallPendingApproval) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "tool_call_pending_approval"); err != nil {
		return err
	}
	if e.CallID, err = requireString(data, "call_id"); err != nil {
		return err
	}
	if e.SessionID, err = requireString(data, "session_id"); err != nil {
		return err
	}
	if e.RequestID, err = requireString(data, "request_id"); err != nil {
		return err
	}
	e.Name = gjson.GetBytes(data, "name").String()
	return nil
}

// MarshalJSON implements custom JSON marshaling for StateSnapshot.
func (e StateSnapshot) MarshalJSON() ([]byte, error) {
	result, err := setCommon(stateSnapshotJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	if gjson.Valid(e.State) {
		return sjson.SetRawBytes(result, "state", []byte(e.State))
	}
	return sjson.SetBytes(result, "state", e.State)
}

// UnmarshalJSON implements custom JSON unmarshaling for StateSnapshot.
func (e *StateSnapshot) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "state_snapshot"); err != nil {
		return err
	}
	state := gjson.GetBytes(data, "state")
	if !state.Exists() {
		return errors.New("missing required field 'state'")
	}
	e.State = state.Raw
	return nil
}

// MarshalJSON implements custom JSON marshaling for StateDelta.
func (e StateDelta) MarshalJSON() ([]byte, error) {
	result, err := setCommon(stateDeltaJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	if gjson.Valid(e.Patch) {
		return sjson.SetRawBytes(result, "patch", []byte(e.Patch))
	}
	return sjson.SetBytes(result, "patch", e.Patch)
}

// UnmarshalJSON implements custom JSON unmarshaling for StateDelta.
func (e *StateDelta) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "state_delta"); err != nil {
		return err
	}
	patch := gjson.GetBytes(data, "patch")
	if !patch.Exists() {
		return errors.New("missing required field 'patch'")
	}
	e.Patch = patch.Raw
	return nil
}

// MarshalJSON implements custom JSON marshaling for Error.
func (e Error) MarshalJSON() ([]byte, error) {
	result, err := setCommon(errorJSON, e.RunID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return sjson.SetBytes(result, "error", msg)
}

// UnmarshalJSON implements custom JSON unmarshaling for Error.
func (e *Error) UnmarshalJSON(data []byte) error {
	var err error
	if e.RunID, e.Timestamp, err = parseCommon(data, "error"); err != nil {
		return err
	}
	msg, err := requireString(data, "error")
	if err != nil {
		return err
	}
	e.Err = errors.New(msg)
	return nil
}

// FromJSON decodes a serialized canonical event by its type marker.
func FromJSON(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid json: %s", data)
	}
	kind := gjson.GetBytes(data, "type").String()

	var (
		ev  Event
		err error
	)
	switch kind {
	case "run_start":
		var e RunStart
		err = e.UnmarshalJSON(data)
		ev = e
	case "run_end":
		var e RunEnd
		err = e.UnmarshalJSON(data)
		ev = e
	case "message_start":
		var e MessageStart
		err = e.UnmarshalJSON(data)
		ev = e
	case "message_delta":
		var e MessageDelta
		err = e.UnmarshalJSON(data)
		ev = e
	case "message_end":
		var e MessageEnd
		err = e.UnmarshalJSON(data)
		ev = e
	case "tool_call_start":
		var e ToolCallStart
		err = e.UnmarshalJSON(data)
		ev = e
	case "tool_call_args_delta":
		var e ToolCallArgsDelta
		err = e.UnmarshalJSON(data)
		ev = e
	case "tool_call_args_end":
		var e ToolCallArgsEnd
		err = e.UnmarshalJSON(data)
		ev = e
	case "tool_call_result":
		var e ToolCallResult
		err = e.UnmarshalJSON(data)
		ev = e
	case "tool_call_error":
		var e ToolCallError
		err = e.UnmarshalJSON(data)
		ev = e
	case "tool_call_pending_approval":
		var e ToolCallPendingApproval
		err = e.UnmarshalJSON(data)
		ev = e
	case "state_snapshot":
		var e StateSnapshot
		err = e.UnmarshalJSON(data)
		ev = e
	case "state_delta":
		var e StateDelta
		err = e.UnmarshalJSON(data)
		ev = e
	case "error":
		var e Error
		err = e.UnmarshalJSON(data)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// ToJSON serializes any canonical event.
func ToJSON(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case RunStart:
		return e.MarshalJSON()
	case RunEnd:
		return e.MarshalJSON()
	case MessageStart:
		return e.MarshalJSON()
	case MessageDelta:
		return e.MarshalJSON()
	case MessageEnd:
		return e.MarshalJSON()
	case ToolCallStart:
		return e.MarshalJSON()
	case ToolCallArgsDelta:
		return e.MarshalJSON()
	case ToolCallArgsEnd:
		return e.MarshalJSON()
	case ToolCallResult:
		return e.MarshalJSON()
	case ToolCallError:
		return e.MarshalJSON()
	case ToolCallPendingApproval:
		return e.MarshalJSON()
	case StateSnapshot:
		return e.MarshalJSON()
	case StateDelta:
		return e.MarshalJSON()
	case Error:
		return e.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown event type %T", ev)
	}
}
