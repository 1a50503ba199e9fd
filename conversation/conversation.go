package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/agentweft/weft/events"
	"github.com/agentweft/weft/messages"
	"github.com/agentweft/weft/pkg/slogx"
	"github.com/agentweft/weft/pkg/uuidx"
)

// Violation records a canonical event that arrived in an order the state
// machine does not accept.
type Violation struct {
	Event     string          `json:"event"`
	Reason    string          `json:"reason"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// ViolationError is returned by Apply when an event is rejected. The
// conversation state is unchanged apart from the recorded violation.
type ViolationError struct {
	Violation
}

func (e ViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s: %s", e.Event, e.Reason)
}

// Notifier receives every successfully applied event. The broker publish
// hangs off it.
type Notifier func(context.Context, events.Event)

// Conversation is the single-writer state container. All mutation goes
// through Apply and the explicit lifecycle methods; readers get deep-copied
// snapshots.
type Conversation struct {
	mu         sync.RWMutex
	id         uuid.UUID
	msgs       []*messages.Message
	index      map[string]*messages.Message
	calls      map[string]*messages.ToolCall
	state      []byte
	violations []Violation
	warnings   []string
	notify     Notifier
	log        *slog.Logger
}

// New creates an empty conversation.
func New() *Conversation {
	return &Conversation{
		id:    uuidx.New(),
		index: make(map[string]*messages.Message),
		calls: make(map[string]*messages.ToolCall),
		log:   slog.With(slogx.LoggerName("conversation")),
	}
}

// OnMutation installs the notifier invoked after every applied event.
func (c *Conversation) OnMutation(fn Notifier) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

// ID identifies the conversation; it doubles as the notification topic name.
func (c *Conversation) ID() uuid.UUID {
	return c.id
}

// Apply mutates the conversation with one canonical event. Events are applied
// in strict arrival order; an illegal event records a violation and returns
// ViolationError with the state otherwise untouched.
func (c *Conversation) Apply(ctx context.Context, ev events.Event) error {
	c.mu.Lock()
	err := c.apply(ev)
	notify := c.notify
	c.mu.Unlock()

	if err == nil && notify != nil {
		notify(ctx, ev)
	}
	return err
}

func (c *Conversation) apply(ev events.Event) error {
	switch e := ev.(type) {
	case events.RunStart, events.RunEnd, events.Error:
		// run lifecycle is the session's concern, nothing to mutate here
		return nil

	case events.MessageStart:
		if _, exists := c.index[e.MessageID]; exists {
			return c.violate("message_start", fmt.Sprintf("duplicate message id %s", e.MessageID))
		}
		c.appendMessage(e.MessageID, e.Role, e.Timestamp)
		return nil

	case events.MessageDelta:
		msg, ok := c.index[e.MessageID]
		if !ok {
			return c.violate("message_delta", fmt.Sprintf("delta for unknown message %s", e.MessageID))
		}
		if msg.Frozen {
			return c.violate("message_delta", fmt.Sprintf("delta for frozen message %s", e.MessageID))
		}
		appendDelta(msg, e.Kind, e.Text)
		return nil

	case events.MessageEnd:
		msg, ok := c.index[e.MessageID]
		if !ok {
			return c.violate("message_end", fmt.Sprintf("end for unknown message %s", e.MessageID))
		}
		if msg.Frozen {
			return c.violate("message_end", fmt.Sprintf("message %s already frozen", e.MessageID))
		}
		msg.Frozen = true
		return nil

	case events.ToolCallStart:
		if _, exists := c.calls[e.CallID]; exists {
			return c.violate("tool_call_start", fmt.Sprintf("duplicate tool call id %s", e.CallID))
		}
		msg, err := c.toolHost(e.MessageID, e.Timestamp)
		if err != nil {
			return err
		}
		call := &messages.ToolCall{
			ID:        e.CallID,
			Name:      e.Name,
			Status:    messages.ToolPendingInput,
			CreatedAt: orNow(e.Timestamp),
		}
		c.calls[e.CallID] = call
		msg.Parts = append(msg.Parts, messages.ToolPart{CallID: e.CallID})
		return nil

	case events.ToolCallArgsDelta:
		call, ok := c.calls[e.CallID]
		if !ok {
			return c.violate("tool_call_args_delta", fmt.Sprintf("args for unknown tool call %s", e.CallID))
		}
		if err := call.Transition(messages.ToolInputStreaming); err != nil {
			return c.violate("tool_call_args_delta", err.Error())
		}
		call.Arguments += e.Chunk
		return nil

	case events.ToolCallArgsEnd:
		call, ok := c.calls[e.CallID]
		if !ok {
			return c.violate("tool_call_args_end", fmt.Sprintf("args end for unknown tool call %s", e.CallID))
		}
		if err := call.Transition(messages.ToolInputAvailable); err != nil {
			return c.violate("tool_call_args_end", err.Error())
		}
		return nil

	case events.ToolCallPendingApproval:
		call, ok := c.calls[e.CallID]
		if !ok {
			return c.violate("tool_call_pending_approval", fmt.Sprintf("approval gate for unknown tool call %s", e.CallID))
		}
		if err := call.Transition(messages.ToolPendingApproval); err != nil {
			return c.violate("tool_call_pending_approval", err.Error())
		}
		return nil

	case events.ToolCallResult:
		call, ok := c.calls[e.CallID]
		if !ok {
			return c.violate("tool_call_result", fmt.Sprintf("result for unknown tool call %s", e.CallID))
		}
		// A result for an approved call means the backend ran it; step through
		// executing so the lifecycle stays observable.
		if call.Status == messages.ToolPendingApproval {
			if err := call.Transition(messages.ToolExecuting); err != nil {
				return c.violate("tool_call_result", err.Error())
			}
		}
		if err := call.Transition(messages.ToolComplete); err != nil {
			return c.violate("tool_call_result", err.Error())
		}
		call.Result = e.Result
		return nil

	case events.ToolCallError:
		call, ok := c.calls[e.CallID]
		if !ok {
			return c.violate("tool_call_error", fmt.Sprintf("error for unknown tool call %s", e.CallID))
		}
		call.Fail(e.Reason)
		return nil

	case events.StateSnapshot:
		if !gjson.Valid(e.State) {
			return c.violate("state_snapshot", "snapshot is not valid json")
		}
		c.state = []byte(e.State)
		return nil

	case events.StateDelta:
		c.applyStateDelta(e)
		return nil

	default:
		return c.violate("unknown", fmt.Sprintf("unhandled event type %T", ev))
	}
}

// applyStateDelta patches the shared-state document. A malformed patch or a
// missing target path discards the event with a warning; it never throws into
// caller code and never leaves the snapshot half-applied.
func (c *Conversation) applyStateDelta(e events.StateDelta) {
	if c.state == nil {
		c.warn("state delta before any snapshot, discarded")
		return
	}
	patch, err := jsonpatch.DecodePatch([]byte(e.Patch))
	if err != nil {
		c.warn(fmt.Sprintf("malformed state patch, discarded: %v", err),
			slogx.ByteString("patch", []byte(e.Patch)))
		return
	}
	next, err := patch.Apply(c.state)
	if err != nil {
		c.warn(fmt.Sprintf("state patch did not apply, discarded: %v", err),
			slogx.ByteString("patch", []byte(e.Patch)))
		return
	}
	c.state = next
}

func (c *Conversation) appendMessage(id string, role messages.Role, ts strfmt.DateTime) *messages.Message {
	msg := &messages.Message{
		ID:        id,
		Role:      role,
		CreatedAt: orNow(ts),
	}
	c.msgs = append(c.msgs, msg)
	c.index[id] = msg
	return msg
}

// toolHost finds the message a tool part attaches to: the named message when
// the wire provides one, otherwise the last open assistant message, otherwise
// a fresh synthetic one.
func (c *Conversation) toolHost(messageID string, ts strfmt.DateTime) (*messages.Message, error) {
	if messageID != "" {
		msg, ok := c.index[messageID]
		if !ok {
			return nil, c.violate("tool_call_start", fmt.Sprintf("parent message %s does not exist", messageID))
		}
		if msg.Frozen {
			return nil, c.violate("tool_call_start", fmt.Sprintf("parent message %s is frozen", messageID))
		}
		return msg, nil
	}
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if !c.msgs[i].Frozen && c.msgs[i].Role == messages.RoleAssistant {
			return c.msgs[i], nil
		}
	}
	return c.appendMessage(uuidx.NewString(), messages.RoleAssistant, ts), nil
}

func appendDelta(msg *messages.Message, kind events.PartKind, text string) {
	if n := len(msg.Parts); n > 0 {
		switch last := msg.Parts[n-1].(type) {
		case messages.TextPart:
			if kind == events.PartText {
				msg.Parts[n-1] = messages.TextPart{Text: last.Text + text}
				return
			}
		case messages.ReasoningPart:
			if kind == events.PartReasoning {
				msg.Parts[n-1] = messages.ReasoningPart{Text: last.Text + text}
				return
			}
		}
	}
	if kind == events.PartReasoning {
		msg.Parts = append(msg.Parts, messages.ReasoningPart{Text: text})
		return
	}
	msg.Parts = append(msg.Parts, messages.TextPart{Text: text})
}

func (c *Conversation) violate(event, reason string) error {
	v := Violation{Event: event, Reason: reason, Timestamp: strfmt.DateTime(time.Now())}
	c.violations = append(c.violations, v)
	c.log.Warn("protocol violation", slog.String("event", event), slog.String("reason", reason))
	return ViolationError{Violation: v}
}

func (c *Conversation) warn(msg string, attrs ...any) {
	c.warnings = append(c.warnings, msg)
	c.log.Warn(msg, attrs...)
}

// AppendUserMessage records the caller's own turn input as a frozen user
// message and returns a copy of it.
func (c *Conversation) AppendUserMessage(input string) messages.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.appendMessage(uuidx.NewString(), messages.RoleUser, strfmt.DateTime(time.Now()))
	msg.Parts = append(msg.Parts, messages.TextPart{Text: input})
	msg.Frozen = true
	return msg.Clone()
}

// BeginExecution moves a tool call to executing on behalf of the execution
// engine. Illegal transitions are rejected the same way wire events are.
func (c *Conversation) BeginExecution(callID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.calls[callID]
	if !ok {
		return c.violate("execute", fmt.Sprintf("unknown tool call %s", callID))
	}
	if err := call.Transition(messages.ToolExecuting); err != nil {
		return c.violate("execute", err.Error())
	}
	return nil
}

// FreezeOpen freezes all open parts in place, keeping partial content, and
// fails every tool call still short of complete with the given reason. It is
// the mutation half of session cancellation and is idempotent.
func (c *Conversation) FreezeOpen(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range c.msgs {
		msg.Frozen = true
	}
	for _, call := range c.calls {
		call.Fail(reason)
	}
}

// ToolCall returns a copy of the call with the given id.
func (c *Conversation) ToolCall(id string) (messages.ToolCall, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	call, ok := c.calls[id]
	if !ok {
		return messages.ToolCall{}, false
	}
	return call.Clone(), true
}

// State returns a copy of the current shared-state document, nil when no
// snapshot has arrived.
func (c *Conversation) State() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return nil
	}
	out := make([]byte, len(c.state))
	copy(out, c.state)
	return out
}

// Violations returns the protocol violations recorded so far.
func (c *Conversation) Violations() []Violation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Violation, len(c.violations))
	copy(out, c.violations)
	return out
}

// Warnings returns the non-fatal anomalies recorded so far, such as discarded
// state patches.
func (c *Conversation) Warnings() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// Clear drops all conversation state. Only the caller ever clears a
// conversation; the machine never garbage-collects mid-session.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
	c.index = make(map[string]*messages.Message)
	c.calls = make(map[string]*messages.ToolCall)
	c.state = nil
	c.violations = nil
	c.warnings = nil
}

// Snapshot is a deep-copied, read-only view of the conversation.
type Snapshot struct {
	ID        uuid.UUID
	Messages  []messages.Message
	ToolCalls map[string]messages.ToolCall
	State     string
}

// Snapshot copies the current conversation for rendering.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		ID:        c.id,
		Messages:  make([]messages.Message, 0, len(c.msgs)),
		ToolCalls: make(map[string]messages.ToolCall, len(c.calls)),
		State:     string(c.state),
	}
	for _, msg := range c.msgs {
		snap.Messages = append(snap.Messages, msg.Clone())
	}
	for id, call := range c.calls {
		snap.ToolCalls[id] = call.Clone()
	}
	return snap
}

func orNow(ts strfmt.DateTime) strfmt.DateTime {
	if ts.IsZero() {
		return strfmt.DateTime(time.Now())
	}
	return ts
}
