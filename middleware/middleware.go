// Package middleware provides an interception pipeline for the payloads a
// client exchanges with its backend. Outbound middleware sees turns before
// they reach the adapter; inbound middleware sees events before they reach
// the conversation. A middleware can inspect, mutate, or short-circuit a
// payload; a short-circuited outbound turn never leaves the client and can
// carry a synthetic response back to the caller.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentweft/weft/pkg/slogx"
)

// Direction tells a middleware which way the payload is flowing.
type Direction int

const (
	// Outbound payloads are turns on their way to the backend.
	Outbound Direction = iota
	// Inbound payloads are events on their way to the conversation.
	Inbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Context carries one payload through the pipeline. Middleware may replace
// Payload in place; later middleware and the final consumer see the
// replacement.
type Context struct {
	Direction Direction
	Payload   any

	// Response carries a synthetic reply when an outbound pass is
	// short-circuited.
	Response any

	shortCircuited bool
}

// ShortCircuit stops the pipeline after the current middleware returns. No
// later middleware runs and the payload does not reach its destination.
func (c *Context) ShortCircuit() { c.shortCircuited = true }

// ShortCircuited reports whether a middleware stopped this pass.
func (c *Context) ShortCircuited() bool { return c.shortCircuited }

// Next advances the pipeline to the remaining middleware.
type Next func(ctx context.Context) error

// Handler is a single middleware. It must call next to continue the chain
// unless it intends to drop the payload.
type Handler func(ctx context.Context, mc *Context, next Next) error

// Pipeline runs a fixed chain of middleware over each payload. A Pipeline is
// immutable after construction and safe for concurrent use.
type Pipeline struct {
	handlers []Handler
	log      *slog.Logger
}

// NewPipeline builds a pipeline from the given middleware, applied in order.
func NewPipeline(handlers ...Handler) *Pipeline {
	return &Pipeline{
		handlers: handlers,
		log:      slog.With(slogx.LoggerName("middleware")),
	}
}

// Run passes the payload through every middleware. An error or panic from a
// middleware aborts this pass only; the pipeline itself stays usable. Run
// reports whether the payload survived to the end of the chain.
func (p *Pipeline) Run(ctx context.Context, mc *Context) (delivered bool, err error) {
	if len(p.handlers) == 0 {
		return true, nil
	}

	defer func() {
		if r := recover(); r != nil {
			p.log.ErrorContext(ctx, "middleware panicked",
				slog.String("direction", mc.Direction.String()), slog.Any("panic", r))
			delivered = false
			err = fmt.Errorf("middleware panicked: %v", r)
		}
	}()

	var dispatch func(ctx context.Context, i int) error
	dispatch = func(ctx context.Context, i int) error {
		if i >= len(p.handlers) || mc.shortCircuited {
			return nil
		}
		return p.handlers[i](ctx, mc, func(ctx context.Context) error {
			return dispatch(ctx, i+1)
		})
	}

	if err := dispatch(ctx, 0); err != nil {
		return false, err
	}
	return !mc.shortCircuited, nil
}

// Logging returns a middleware that records every payload passing through
// the pipeline together with the time the rest of the chain took.
func Logging(log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, mc *Context, next Next) error {
		start := time.Now()
		err := next(ctx)
		attrs := []any{
			slog.String("direction", mc.Direction.String()),
			slog.String("payload", fmt.Sprintf("%T", mc.Payload)),
			slog.Duration("took", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slogx.Error(err))
			log.ErrorContext(ctx, "middleware pass failed", attrs...)
			return err
		}
		if mc.ShortCircuited() {
			log.InfoContext(ctx, "payload short-circuited", attrs...)
			return nil
		}
		log.DebugContext(ctx, "payload delivered", attrs...)
		return nil
	}
}
