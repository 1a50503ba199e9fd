package weft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/agentweft/weft/adapter"
	"github.com/agentweft/weft/conversation"
	"github.com/agentweft/weft/engine"
	"github.com/agentweft/weft/events"
	"github.com/agentweft/weft/internal/broker"
	"github.com/agentweft/weft/messages"
	"github.com/agentweft/weft/middleware"
	"github.com/agentweft/weft/pkg/slogx"
	"github.com/agentweft/weft/tool"
)

// ErrTurnInFlight is returned when a turn is started while another turn on
// the same client has not yet terminated.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// Subscription is a live event feed attached through Subscribe. Unsubscribe
// detaches it; events published after that are not delivered.
type Subscription interface {
	ID() string
	Unsubscribe()
}

// Approval describes a decision the user still owes, either a backend
// permission request or a locally gated tool.
type Approval struct {
	RequestID string
	SessionID string
	CallID    string
	Name      string
	Remote    bool
}

// Client binds one adapter to one conversation. All turns sent through the
// client mutate the same conversation; swap adapters with SwitchAdapter to
// continue it against a different backend.
type Client struct {
	adp      adapter.Adapter
	cfg      adapter.Config
	handle   adapter.Handle
	conv     *conversation.Conversation
	eng      *engine.Engine
	pipeline *middleware.Pipeline
	topic    broker.Topic
	log      *slog.Logger

	tools      []tool.Definition
	handlers   []middleware.Handler
	engineOpts []engine.Option
	nats       *nats.Conn

	mu        sync.Mutex
	session   *conversation.Session
	pending   bool // turn slot claimed but its session not stored yet
	approvals map[string]Approval
}

// Option configures a Client.
type Option = opts.Option[Client]

// WithLogger overrides the client's logger.
var WithLogger = opts.ForName[Client, *slog.Logger]("log")

// WithNATS publishes conversation events through the given NATS connection
// instead of the in-process broker.
var WithNATS = opts.ForName[Client, *nats.Conn]("nats")

// WithTools registers tool definitions for local execution.
func WithTools(defs ...tool.Definition) Option {
	return opts.Type[Client](func(c *Client) error {
		c.tools = append(c.tools, defs...)
		return nil
	})
}

// WithMiddleware appends middleware to the interception pipeline, applied in
// the order given.
func WithMiddleware(handlers ...middleware.Handler) Option {
	return opts.Type[Client](func(c *Client) error {
		c.handlers = append(c.handlers, handlers...)
		return nil
	})
}

// WithEngineOptions forwards options to the tool execution engine.
func WithEngineOptions(options ...engine.Option) Option {
	return opts.Type[Client](func(c *Client) error {
		c.engineOpts = append(c.engineOpts, options...)
		return nil
	})
}

// New connects the adapter and returns a client bound to a fresh
// conversation.
func New(ctx context.Context, adp adapter.Adapter, cfg adapter.Config, options ...Option) (*Client, error) {
	c := &Client{
		adp:       adp,
		cfg:       cfg,
		approvals: make(map[string]Approval),
		log:       slog.With(slogx.LoggerName("weft")),
	}
	if err := opts.Apply(c, options); err != nil {
		return nil, err
	}

	eng, err := engine.New(c.tools, c.engineOpts...)
	if err != nil {
		return nil, err
	}
	c.eng = eng
	c.pipeline = middleware.NewPipeline(c.handlers...)
	c.conv = conversation.New()

	var b broker.Broker
	if c.nats != nil {
		b = broker.NATS(c.nats)
	} else {
		b = broker.Local()
	}
	c.topic = b.Topic(ctx, c.conv.ID().String())
	c.conv.OnMutation(func(ctx context.Context, ev events.Event) {
		if err := c.topic.Publish(ctx, ev); err != nil {
			c.log.WarnContext(ctx, "publishing conversation event", slogx.Error(err))
		}
	})

	handle, err := adp.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting %s adapter: %w", adp.Name(), err)
	}
	c.handle = handle
	c.log.DebugContext(ctx, "adapter connected",
		slog.String("adapter", adp.Name()),
		slogx.Stringer("conversation", c.conv.ID()))
	return c, nil
}

// ID identifies the conversation this client is bound to.
func (c *Client) ID() uuid.UUID { return c.conv.ID() }

// SendTurn sends the caller's input, and any tool results owed from the
// previous turn, to the backend. It returns the session tracking the
// in-flight turn; the conversation mutates as events stream in, and the
// session's Done channel closes when the run terminates.
//
// Only one turn may be in flight per client.
func (c *Client) SendTurn(ctx context.Context, input string, results ...adapter.ToolResult) (*conversation.Session, error) {
	turn := adapter.Turn{Input: input, ToolResults: results}
	if err := turn.Validate(); err != nil {
		return nil, err
	}

	if err := c.reserveTurn(); err != nil {
		return nil, err
	}

	mc := &middleware.Context{Direction: middleware.Outbound, Payload: &turn}
	delivered, err := c.pipeline.Run(ctx, mc)
	if err != nil {
		c.releaseTurn()
		return nil, err
	}
	if !delivered {
		sess, err := c.shortCircuitedTurn(ctx, turn, mc.Response)
		c.releaseTurn()
		return sess, err
	}

	if turn.Input != "" {
		c.conv.AppendUserMessage(turn.Input)
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream, err := c.handle.SendTurn(runCtx, turn)
	if err != nil {
		cancel()
		c.releaseTurn()
		return nil, err
	}

	sess := conversation.NewSession(c.conv, func() {
		c.handle.Cancel()
		cancel()
	})
	c.mu.Lock()
	c.session = sess
	c.pending = false
	c.mu.Unlock()

	go c.pump(runCtx, sess, stream)
	return sess, nil
}

// reserveTurn claims the client's single turn slot, so two racing SendTurn
// calls cannot both pass the in-flight check before either stores a session.
func (c *Client) reserveTurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return ErrTurnInFlight
	}
	if c.session != nil {
		select {
		case <-c.session.Done():
		default:
			return ErrTurnInFlight
		}
	}
	c.pending = true
	return nil
}

func (c *Client) releaseTurn() {
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
}

// shortCircuitedTurn records a turn a middleware answered locally. The input
// still lands in the conversation, any synthetic events the middleware left
// in Response are applied, and the returned session is already done.
func (c *Client) shortCircuitedTurn(ctx context.Context, turn adapter.Turn, response any) (*conversation.Session, error) {
	if turn.Input != "" {
		c.conv.AppendUserMessage(turn.Input)
	}
	switch resp := response.(type) {
	case nil:
	case events.Event:
		if err := c.conv.Apply(ctx, resp); err != nil {
			return nil, err
		}
	case []events.Event:
		for _, ev := range resp {
			if err := c.conv.Apply(ctx, ev); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("middleware response %T is not an event", response)
	}
	sess := conversation.NewSession(c.conv, nil)
	sess.Complete(nil)
	return sess, nil
}

// pump drains the adapter's event stream into the conversation until the run
// terminates. Transport failures and protocol violations terminate the
// session; everything already frozen stays intact.
func (c *Client) pump(ctx context.Context, sess *conversation.Session, stream <-chan events.Event) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		sess.Complete(nil)
	}()

	terminated := false
	for ev := range stream {
		if terminated {
			continue
		}

		mc := &middleware.Context{Direction: middleware.Inbound, Payload: ev}
		delivered, err := c.pipeline.Run(ctx, mc)
		if err != nil {
			// a failed pass must not silently lose wire data; it becomes a
			// terminal error event for this run
			c.log.WarnContext(ctx, "inbound middleware failed", slogx.Error(err))
			ev = events.Error{
				Err:       fmt.Errorf("inbound middleware: %w", err),
				Timestamp: strfmt.DateTime(time.Now()),
			}
		} else {
			if !delivered {
				continue
			}
			next, ok := mc.Payload.(events.Event)
			if !ok {
				c.log.WarnContext(ctx, "middleware replaced event with non-event payload, dropped")
				continue
			}
			ev = next
		}

		if e, ok := ev.(events.Error); ok {
			_ = c.conv.Apply(ctx, ev)
			c.conv.FreezeOpen(e.Err.Error())
			sess.Complete(e.Err)
			terminated = true
			continue
		}

		if err := c.conv.Apply(ctx, ev); err != nil {
			var vErr conversation.ViolationError
			if errors.As(err, &vErr) {
				c.log.ErrorContext(ctx, "protocol violation, terminating session", slogx.Error(err))
				c.conv.FreezeOpen(err.Error())
				sess.Complete(err)
				c.handle.Cancel()
				terminated = true
			}
			continue
		}

		switch e := ev.(type) {
		case events.RunEnd:
			sess.Complete(nil)
		case events.ToolCallArgsEnd:
			c.maybeExecute(ctx, sess, &wg, e)
		case events.ToolCallPendingApproval:
			c.trackApproval(Approval{
				RequestID: e.RequestID,
				SessionID: e.SessionID,
				CallID:    e.CallID,
				Name:      e.Name,
				Remote:    true,
			})
		}
	}
}

// maybeExecute starts local execution for a call whose input just became
// available, when a handler is registered for its name. Gated tools park on
// the approval gate first.
func (c *Client) maybeExecute(ctx context.Context, sess *conversation.Session, wg *sync.WaitGroup, e events.ToolCallArgsEnd) {
	call, ok := c.conv.ToolCall(e.CallID)
	if !ok {
		return
	}
	def, ok := c.eng.Lookup(call.Name)
	if !ok {
		// the backend owns resolution for this call
		return
	}

	if !def.RequiresApproval {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.execute(ctx, e.RunID, call)
		}()
		return
	}

	gateEv := events.ToolCallPendingApproval{
		RunID:     e.RunID,
		CallID:    call.ID,
		SessionID: sess.ID().String(),
		RequestID: call.ID,
		Name:      call.Name,
		Timestamp: strfmt.DateTime(time.Now()),
	}
	if err := c.conv.Apply(ctx, gateEv); err != nil {
		return
	}
	decision, err := c.eng.Gate().Register(gateEv.SessionID, gateEv.RequestID)
	if err != nil {
		c.log.WarnContext(ctx, "registering approval gate", slogx.Error(err))
		return
	}
	c.trackApproval(Approval{
		RequestID: gateEv.RequestID,
		SessionID: gateEv.SessionID,
		CallID:    call.ID,
		Name:      call.Name,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.clearApproval(gateEv.RequestID)

		if err := c.eng.Gate().Await(ctx, gateEv.SessionID, gateEv.RequestID, decision); err != nil {
			failure := events.ToolCallError{
				RunID:     e.RunID,
				CallID:    call.ID,
				Reason:    err.Error(),
				Timestamp: strfmt.DateTime(time.Now()),
			}
			if aerr := c.conv.Apply(ctx, failure); aerr != nil {
				c.log.WarnContext(ctx, "recording rejected tool call", slogx.Error(aerr))
			}
			return
		}
		c.execute(ctx, e.RunID, call)
	}()
}

// execute runs the handler and applies the synthetic outcome event.
// Duplicates inside the suppression window never execute.
func (c *Client) execute(ctx context.Context, runID uuid.UUID, call messages.ToolCall) {
	if !c.eng.Admit(call.Name, call.Arguments) {
		c.log.InfoContext(ctx, "suppressed duplicate tool call",
			slog.String("tool", call.Name), slog.String("call_id", call.ID))
		suppressed := events.ToolCallResult{
			RunID:     runID,
			CallID:    call.ID,
			Result:    `"duplicate suppressed"`,
			Timestamp: strfmt.DateTime(time.Now()),
		}
		if err := c.conv.Apply(ctx, suppressed); err != nil {
			c.log.WarnContext(ctx, "recording suppressed duplicate", slogx.Error(err))
		}
		return
	}
	if err := c.conv.BeginExecution(call.ID); err != nil {
		c.log.WarnContext(ctx, "tool call cannot start executing", slogx.Error(err))
		return
	}
	if outcome := c.eng.Dispatch(ctx, runID, call.ID, call.Name, call.Arguments); outcome != nil {
		if err := c.conv.Apply(ctx, outcome); err != nil {
			c.log.WarnContext(ctx, "recording tool call outcome", slogx.Error(err))
		}
	}
}

func (c *Client) trackApproval(a Approval) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvals[a.RequestID] = a
}

func (c *Client) clearApproval(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.approvals, requestID)
}

// Approvals lists the decisions the user still owes.
func (c *Client) Approvals() []Approval {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Approval, 0, len(c.approvals))
	for _, a := range c.approvals {
		out = append(out, a)
	}
	return out
}

// Approve resolves a pending approval in the user's favor. For backend
// permission requests the decision is relayed over the wire; for locally
// gated tools it releases the handler.
func (c *Client) Approve(ctx context.Context, requestID string) error {
	return c.respond(ctx, requestID, true)
}

// Reject resolves a pending approval against the call. The tool handler is
// never invoked for a rejected call.
func (c *Client) Reject(ctx context.Context, requestID string) error {
	return c.respond(ctx, requestID, false)
}

func (c *Client) respond(ctx context.Context, requestID string, approve bool) error {
	c.mu.Lock()
	pending, ok := c.approvals[requestID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no approval pending for request %s", requestID)
	}

	if pending.Remote {
		responder, ok := c.handle.(adapter.Responder)
		if !ok {
			return fmt.Errorf("adapter %s cannot answer permission requests", c.adp.Name())
		}
		if err := responder.Respond(ctx, pending.SessionID, requestID, approve); err != nil {
			return err
		}
		c.clearApproval(requestID)
		return nil
	}

	if !c.eng.Gate().Resolve(pending.SessionID, requestID, approve) {
		return fmt.Errorf("approval %s is no longer pending", requestID)
	}
	return nil
}

// Cancel aborts the in-flight turn, if any. Partial content is preserved and
// the session terminates normally.
func (c *Client) Cancel() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		sess.Cancel()
	}
}

// Session returns the most recent session, nil before the first turn.
func (c *Client) Session() *conversation.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Subscribe attaches a hook that observes every event applied to the
// conversation, including synthetic events from local tool execution.
func (c *Client) Subscribe(ctx context.Context, hook events.Hook) (Subscription, error) {
	return c.topic.Subscribe(ctx, hook)
}

// Snapshot returns a deep copy of the conversation's current state.
func (c *Client) Snapshot() conversation.Snapshot {
	return c.conv.Snapshot()
}

// State returns the current shared-state document, nil when the backend has
// not published one.
func (c *Client) State() []byte {
	return c.conv.State()
}

// Violations lists the protocol violations recorded so far.
func (c *Client) Violations() []conversation.Violation {
	return c.conv.Violations()
}

// Warnings lists the non-fatal anomalies recorded so far, such as discarded
// state patches.
func (c *Client) Warnings() []string {
	return c.conv.Warnings()
}

// Clear empties the conversation while keeping its identity and the adapter
// binding. It fails when a turn is in flight.
func (c *Client) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return ErrTurnInFlight
	}
	if c.session != nil {
		select {
		case <-c.session.Done():
		default:
			return ErrTurnInFlight
		}
	}
	c.conv.Clear()
	return nil
}

// SwitchAdapter rebinds the conversation to a different backend. The active
// session, if any, must terminate first; history carries over unchanged.
func (c *Client) SwitchAdapter(ctx context.Context, adp adapter.Adapter, cfg adapter.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return ErrTurnInFlight
	}
	if c.session != nil {
		select {
		case <-c.session.Done():
		default:
			return ErrTurnInFlight
		}
	}

	handle, err := adp.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting %s adapter: %w", adp.Name(), err)
	}
	c.handle.Cancel()
	c.adp, c.cfg, c.handle = adp, cfg, handle
	return nil
}
