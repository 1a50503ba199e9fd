package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/agentweft/weft/events"
	"github.com/agentweft/weft/tool"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }
func newFakeClock() *fakeClock               { return &fakeClock{now: time.Unix(1700000000, 0)} }

func testLogger() *slog.Logger { return slog.Default() }

func TestDispatch(t *testing.T) {
	runID := uuid.New()

	t.Run("returns a result event", func(t *testing.T) {
		weather := tool.Must("get_weather", func(ctx context.Context, args gjson.Result) (any, error) {
			assert.Equal(t, "Paris", args.Get("location").String())
			return map[string]int{"temp": 18}, nil
		})
		eng, err := New([]tool.Definition{weather})
		require.NoError(t, err)

		require.True(t, eng.Admit("get_weather", `{"location":"Paris"}`))
		outcome := eng.Dispatch(context.Background(), runID, "c1", "get_weather", `{"location":"Paris"}`)
		result, ok := outcome.(events.ToolCallResult)
		require.True(t, ok)
		assert.Equal(t, "c1", result.CallID)
		assert.Equal(t, int64(18), gjson.Get(result.Result, "temp").Int())
	})

	t.Run("handler error becomes a tool error event", func(t *testing.T) {
		failing := tool.Must("explode", func(ctx context.Context, args gjson.Result) (any, error) {
			return nil, errors.New("no such city")
		})
		eng, err := New([]tool.Definition{failing})
		require.NoError(t, err)

		outcome := eng.Dispatch(context.Background(), runID, "c1", "explode", `{}`)
		fail, ok := outcome.(events.ToolCallError)
		require.True(t, ok)
		assert.Equal(t, "no such city", fail.Reason)
	})

	t.Run("handler panic becomes a tool error event", func(t *testing.T) {
		panicky := tool.Must("panic", func(ctx context.Context, args gjson.Result) (any, error) {
			panic("index out of range")
		})
		eng, err := New([]tool.Definition{panicky})
		require.NoError(t, err)

		outcome := eng.Dispatch(context.Background(), runID, "c1", "panic", `{}`)
		fail, ok := outcome.(events.ToolCallError)
		require.True(t, ok)
		assert.Contains(t, fail.Reason, "index out of range")
	})

	t.Run("unregistered tool is backend owned", func(t *testing.T) {
		eng, err := New(nil)
		require.NoError(t, err)
		assert.Nil(t, eng.Dispatch(context.Background(), runID, "c1", "unknown", `{}`))
	})

	t.Run("string results are json encoded", func(t *testing.T) {
		echo := tool.Must("echo", func(ctx context.Context, args gjson.Result) (any, error) {
			return "plain text", nil
		})
		eng, err := New([]tool.Definition{echo})
		require.NoError(t, err)

		outcome := eng.Dispatch(context.Background(), runID, "c1", "echo", `{}`)
		result := outcome.(events.ToolCallResult)
		assert.Equal(t, `"plain text"`, result.Result)
	})
}

func TestDuplicateSuppression(t *testing.T) {
	clock := newFakeClock()
	newEngine := func(t *testing.T, calls *atomic.Int32) *Engine {
		t.Helper()
		counter := tool.Must("get_weather", func(ctx context.Context, args gjson.Result) (any, error) {
			calls.Add(1)
			return "ok", nil
		})
		eng, err := New([]tool.Definition{counter}, WithClock(clock.Now))
		require.NoError(t, err)
		return eng
	}

	t.Run("repeat inside the window is suppressed", func(t *testing.T) {
		var calls atomic.Int32
		eng := newEngine(t, &calls)

		assert.True(t, eng.Admit("get_weather", `{"location":"Paris"}`))
		eng.Dispatch(context.Background(), uuid.New(), "c1", "get_weather", `{"location":"Paris"}`)

		clock.Advance(500 * time.Millisecond)
		assert.False(t, eng.Admit("get_weather", `{"location":"Paris"}`))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("key order does not defeat suppression", func(t *testing.T) {
		var calls atomic.Int32
		eng := newEngine(t, &calls)

		assert.True(t, eng.Admit("get_weather", `{"a":1,"b":2}`))
		assert.False(t, eng.Admit("get_weather", `{"b":2,"a":1}`))
	})

	t.Run("simultaneous duplicates admit exactly once", func(t *testing.T) {
		var calls atomic.Int32
		eng := newEngine(t, &calls)

		const contenders = 16
		var (
			start    = make(chan struct{})
			admitted atomic.Int32
			wg       sync.WaitGroup
		)
		for range contenders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if eng.Admit("get_weather", `{"location":"Berlin"}`) {
					admitted.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		assert.Equal(t, int32(1), admitted.Load())
	})

	t.Run("different arguments are admitted", func(t *testing.T) {
		var calls atomic.Int32
		eng := newEngine(t, &calls)

		assert.True(t, eng.Admit("get_weather", `{"location":"Paris"}`))
		assert.True(t, eng.Admit("get_weather", `{"location":"Tokyo"}`))
	})

	t.Run("window expiry readmits", func(t *testing.T) {
		var calls atomic.Int32
		eng := newEngine(t, &calls)

		assert.True(t, eng.Admit("get_weather", `{"location":"Oslo"}`))
		clock.Advance(3 * time.Second)
		assert.True(t, eng.Admit("get_weather", `{"location":"Oslo"}`))
	})
}

func TestNormalizeArguments(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		same bool
	}{
		{"double encoded object unwraps", `{"filters":"{\"city\":\"Paris\"}"}`, `{"filters":{"city":"Paris"}}`, true},
		{"double encoded array unwraps", `{"ids":"[1,2,3]"}`, `{"ids":[1,2,3]}`, true},
		{"braces in prose stay a string", `{"note":"{not json"}`, `{"note":{}}`, false},
		{"plain strings untouched", `{"city":"Paris"}`, `{"city":"Tokyo"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sameSig := signature("t", normalizeArguments(tt.a, testLogger())) == signature("t", normalizeArguments(tt.b, testLogger()))
			assert.Equal(t, tt.same, sameSig)
		})
	}
}

func TestApprovalGate(t *testing.T) {
	t.Run("approve releases the waiter", func(t *testing.T) {
		gate := newApprovalGate()
		done := make(chan error, 1)
		go func() { done <- gate.Wait(context.Background(), "s1", "r1") }()

		require.Eventually(t, func() bool { return gate.Pending("s1", "r1") }, time.Second, 5*time.Millisecond)
		require.True(t, gate.Resolve("s1", "r1", true))
		require.NoError(t, <-done)
	})

	t.Run("reject returns ErrRejected", func(t *testing.T) {
		gate := newApprovalGate()
		done := make(chan error, 1)
		go func() { done <- gate.Wait(context.Background(), "s1", "r2") }()

		require.Eventually(t, func() bool { return gate.Pending("s1", "r2") }, time.Second, 5*time.Millisecond)
		require.True(t, gate.Resolve("s1", "r2", false))
		assert.ErrorIs(t, <-done, ErrRejected)
	})

	t.Run("context cancellation unblocks", func(t *testing.T) {
		gate := newApprovalGate()
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- gate.Wait(ctx, "s1", "r3") }()

		require.Eventually(t, func() bool { return gate.Pending("s1", "r3") }, time.Second, 5*time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})

	t.Run("resolve without waiter reports false", func(t *testing.T) {
		gate := newApprovalGate()
		assert.False(t, gate.Resolve("s1", "nobody", true))
	})

	t.Run("decision before await is not lost", func(t *testing.T) {
		gate := newApprovalGate()
		ch, err := gate.Register("s1", "r4")
		require.NoError(t, err)
		require.True(t, gate.Resolve("s1", "r4", true))
		assert.NoError(t, gate.Await(context.Background(), "s1", "r4", ch))
	})

	t.Run("double registration fails", func(t *testing.T) {
		gate := newApprovalGate()
		_, err := gate.Register("s1", "r5")
		require.NoError(t, err)
		_, err = gate.Register("s1", "r5")
		assert.Error(t, err)
	})
}
