package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/agentweft/weft/events"
	"github.com/agentweft/weft/internal/registry"
	"github.com/agentweft/weft/pkg/slogx"
	"github.com/agentweft/weft/tool"
)

// DefaultSuppressionWindow is how long an executed call's signature keeps
// matching duplicates suppressed.
const DefaultSuppressionWindow = 2 * time.Second

// Engine dispatches locally registered tool handlers and owns the duplicate
// suppressor and the approval gate.
type Engine struct {
	tools    registry.Registry[tool.Definition]
	suppress *suppressor
	gate     *ApprovalGate
	window   time.Duration
	clock    func() time.Time
	log      *slog.Logger
}

// Option configures an Engine.
type Option = opts.Option[Engine]

// WithSuppressionWindow overrides the duplicate suppression window.
var WithSuppressionWindow = opts.ForName[Engine, time.Duration]("window")

// WithClock overrides the time source. Used in tests to drive the
// suppression window deterministically.
var WithClock = opts.ForName[Engine, func() time.Time]("clock")

// New creates an engine with the provided tool definitions registered.
func New(tools []tool.Definition, options ...Option) (*Engine, error) {
	eng := &Engine{
		tools:  registry.New[tool.Definition](),
		window: DefaultSuppressionWindow,
		clock:  time.Now,
		log:    slog.With(slogx.LoggerName("engine")),
	}
	if err := opts.Apply(eng, options); err != nil {
		return nil, err
	}
	eng.suppress = newSuppressor(eng.window, eng.clock)
	eng.gate = newApprovalGate()

	for _, def := range tools {
		if def.Name == "" || def.Handler == nil {
			return nil, fmt.Errorf("tool definition %q is incomplete", def.Name)
		}
		eng.tools.Add(def.Name, def)
	}
	return eng, nil
}

// Lookup reports the definition registered for name.
func (e *Engine) Lookup(name string) (tool.Definition, bool) {
	return e.tools.Get(name)
}

// NeedsApproval reports whether the named tool is registered and gated
// behind a user decision.
func (e *Engine) NeedsApproval(name string) bool {
	def, ok := e.tools.Get(name)
	return ok && def.RequiresApproval
}

// Gate exposes the approval gate so the client can route user decisions.
func (e *Engine) Gate() *ApprovalGate { return e.gate }

// Admit records the call in the duplicate suppressor and reports whether it
// may execute. A call whose name and normalized arguments match an admitted
// call inside the suppression window is rejected.
func (e *Engine) Admit(name, arguments string) bool {
	return e.suppress.admit(signature(name, normalizeArguments(arguments, e.log)))
}

// Dispatch runs the handler registered for the call and returns the synthetic
// event describing the outcome. It returns nil when no handler is registered
// for the call's name, which means the backend owns resolution. Callers are
// expected to check Admit first so duplicates never reach a handler.
func (e *Engine) Dispatch(ctx context.Context, runID uuid.UUID, callID, name, arguments string) events.Event {
	def, ok := e.tools.Get(name)
	if !ok {
		return nil
	}

	result, err := e.invoke(ctx, def, normalizeArguments(arguments, e.log))
	if err != nil {
		return events.ToolCallError{
			RunID:     runID,
			CallID:    callID,
			Reason:    err.Error(),
			Timestamp: strfmt.DateTime(e.clock()),
		}
	}
	return events.ToolCallResult{
		RunID:     runID,
		CallID:    callID,
		Result:    result,
		Timestamp: strfmt.DateTime(e.clock()),
	}
}

// invoke runs the handler with panic recovery and serializes its return
// value to JSON.
func (e *Engine) invoke(ctx context.Context, def tool.Definition, arguments string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "tool handler panicked",
				slog.String("tool", def.Name), slog.Any("panic", r))
			err = fmt.Errorf("tool %s panicked: %v", def.Name, r)
		}
	}()

	value, err := def.Handler(ctx, gjson.Parse(arguments))
	if err != nil {
		return "", err
	}

	switch v := value.(type) {
	case nil:
		return "null", nil
	case string:
		b, merr := json.Marshal(v)
		if merr != nil {
			return "", merr
		}
		return string(b), nil
	case json.RawMessage:
		return string(v), nil
	default:
		b, merr := json.Marshal(v)
		if merr != nil {
			e.log.ErrorContext(ctx, "marshalling tool result",
				slog.String("tool", def.Name), slogx.Error(merr))
			return "", merr
		}
		return string(b), nil
	}
}
