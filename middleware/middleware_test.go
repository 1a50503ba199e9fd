package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineOrder(t *testing.T) {
	var trace []string
	record := func(name string) Handler {
		return func(ctx context.Context, mc *Context, next Next) error {
			trace = append(trace, name+" in")
			err := next(ctx)
			trace = append(trace, name+" out")
			return err
		}
	}

	p := NewPipeline(record("first"), record("second"))
	delivered, err := p.Run(context.Background(), &Context{Direction: Outbound, Payload: "turn"})
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, []string{"first in", "second in", "second out", "first out"}, trace)
}

func TestPipelineMutatesPayload(t *testing.T) {
	upper := func(ctx context.Context, mc *Context, next Next) error {
		mc.Payload = mc.Payload.(string) + " redacted"
		return next(ctx)
	}

	mc := &Context{Direction: Inbound, Payload: "secret"}
	delivered, err := NewPipeline(upper).Run(context.Background(), mc)
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, "secret redacted", mc.Payload)
}

func TestPipelineShortCircuit(t *testing.T) {
	reached := false
	block := func(ctx context.Context, mc *Context, next Next) error {
		mc.Response = "cached answer"
		mc.ShortCircuit()
		return nil
	}
	after := func(ctx context.Context, mc *Context, next Next) error {
		reached = true
		return next(ctx)
	}

	mc := &Context{Direction: Outbound, Payload: "turn"}
	delivered, err := NewPipeline(block, after).Run(context.Background(), mc)
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.False(t, reached)
	assert.Equal(t, "cached answer", mc.Response)
}

func TestPipelineErrorAbortsPass(t *testing.T) {
	boom := errors.New("policy says no")
	failing := func(ctx context.Context, mc *Context, next Next) error {
		return boom
	}

	p := NewPipeline(failing)
	delivered, err := p.Run(context.Background(), &Context{Payload: "one"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, delivered)

	// the pipeline itself survives
	p2 := NewPipeline()
	delivered, err = p2.Run(context.Background(), &Context{Payload: "two"})
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestPipelinePanicAbortsOnlyThatPass(t *testing.T) {
	calls := 0
	flaky := func(ctx context.Context, mc *Context, next Next) error {
		calls++
		if calls == 1 {
			panic("nil map write")
		}
		return next(ctx)
	}

	p := NewPipeline(flaky)
	delivered, err := p.Run(context.Background(), &Context{Payload: "first"})
	require.Error(t, err)
	assert.False(t, delivered)

	delivered, err = p.Run(context.Background(), &Context{Payload: "second"})
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	mc := &Context{Direction: Inbound, Payload: "event"}
	delivered, err := NewPipeline(Logging(nil)).Run(context.Background(), mc)
	require.NoError(t, err)
	assert.True(t, delivered)
}
