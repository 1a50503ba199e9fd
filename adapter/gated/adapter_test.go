package gated

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/agentweft/weft/adapter"
	"github.com/agentweft/weft/events"
)

// gatedServer fakes the session endpoints: session creation, prompt
// streaming, and permission responses.
type gatedServer struct {
	*httptest.Server
	updates     []string
	permissions []string // recorded bodies of permission responses
}

func newGatedServer(t *testing.T, updates []string) *gatedServer {
	t.Helper()
	gs := &gatedServer{updates: updates}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"sessionId":"sess-42"}`)
	})
	mux.HandleFunc("POST /sessions/{id}/prompt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, u := range gs.updates {
			fmt.Fprintln(w, u)
			flusher.Flush()
		}
	})
	mux.HandleFunc("POST /sessions/{id}/permissions/{req}", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gs.permissions = append(gs.permissions, r.PathValue("req")+" "+string(body))
		w.WriteHeader(http.StatusNoContent)
	})
	gs.Server = httptest.NewServer(mux)
	return gs
}

func collect(t *testing.T, stream <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	for ev := range stream {
		out = append(out, ev)
	}
	return out
}

func TestConnect(t *testing.T) {
	t.Run("binds the created session", func(t *testing.T) {
		srv := newGatedServer(t, nil)
		defer srv.Close()

		h, err := New().Connect(context.Background(), adapter.Config{Endpoint: srv.URL})
		require.NoError(t, err)
		assert.Equal(t, "sess-42", h.(*handle).SessionID())
	})

	t.Run("rejects a session response without an id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{}`)
		}))
		defer srv.Close()

		_, err := New().Connect(context.Background(), adapter.Config{Endpoint: srv.URL})
		require.Error(t, err)
	})
}

func TestGatedSendTurn(t *testing.T) {
	updates := []string{
		`{"type":"reasoning_chunk","text":"user wants weather"}`,
		`{"type":"message_chunk","text":"Looking it up. "}`,
		`{"type":"message_chunk","text":"One moment."}`,
		`{"type":"tool_call","callId":"c1","name":"get_weather","args":{"location":"Paris"}}`,
		`{"type":"tool_result","callId":"c1","result":{"temp":18}}`,
		`{"type":"state","snapshot":{"count":1}}`,
		`{"type":"complete"}`,
	}
	srv := newGatedServer(t, updates)
	defer srv.Close()

	h, err := New().Connect(context.Background(), adapter.Config{Endpoint: srv.URL})
	require.NoError(t, err)

	stream, err := h.SendTurn(context.Background(), adapter.Turn{Input: "weather in Paris?"})
	require.NoError(t, err)
	got := collect(t, stream)

	// RunStart, MessageStart, reasoning, text, text, ToolCallStart, args,
	// args end, result, state, MessageEnd, RunEnd
	require.Len(t, got, 12)
	assert.IsType(t, events.RunStart{}, got[0])
	assert.IsType(t, events.MessageStart{}, got[1])

	reasoning := got[2].(events.MessageDelta)
	assert.Equal(t, events.PartReasoning, reasoning.Kind)

	text := got[3].(events.MessageDelta)
	assert.Equal(t, events.PartText, text.Kind)
	assert.Equal(t, "Looking it up. ", text.Text)

	toolStart := got[5].(events.ToolCallStart)
	assert.Equal(t, "c1", toolStart.CallID)
	args := got[6].(events.ToolCallArgsDelta)
	assert.Equal(t, "Paris", gjson.Get(args.Chunk, "location").String())
	assert.IsType(t, events.ToolCallArgsEnd{}, got[7])

	result := got[8].(events.ToolCallResult)
	assert.Equal(t, int64(18), gjson.Get(result.Result, "temp").Int())

	snap := got[9].(events.StateSnapshot)
	assert.JSONEq(t, `{"count":1}`, snap.State)

	assert.IsType(t, events.MessageEnd{}, got[10])
	assert.IsType(t, events.RunEnd{}, got[11])
}

func TestPendingPermission(t *testing.T) {
	updates := []string{
		`{"type":"tool_call","callId":"c1","name":"rm","args":{"path":"/tmp/x"}}`,
		`{"type":"pending_permission","pendingPermission":{"requestId":"r1","callId":"c1","toolName":"rm"}}`,
		`{"type":"complete"}`,
	}
	srv := newGatedServer(t, updates)
	defer srv.Close()

	h, err := New().Connect(context.Background(), adapter.Config{Endpoint: srv.URL})
	require.NoError(t, err)

	stream, err := h.SendTurn(context.Background(), adapter.Turn{Input: "clean up"})
	require.NoError(t, err)
	got := collect(t, stream)

	var pending *events.ToolCallPendingApproval
	for _, ev := range got {
		if p, ok := ev.(events.ToolCallPendingApproval); ok {
			pending = &p
		}
	}
	require.NotNil(t, pending)
	assert.Equal(t, "c1", pending.CallID)
	assert.Equal(t, "r1", pending.RequestID)
	assert.Equal(t, "sess-42", pending.SessionID)
	assert.Equal(t, "rm", pending.Name)
}

func TestRespond(t *testing.T) {
	srv := newGatedServer(t, nil)
	defer srv.Close()

	h, err := New().Connect(context.Background(), adapter.Config{Endpoint: srv.URL})
	require.NoError(t, err)
	responder := h.(adapter.Responder)

	t.Run("approve", func(t *testing.T) {
		require.NoError(t, responder.Respond(context.Background(), "sess-42", "r1", true))
		require.NotEmpty(t, srv.permissions)
		last := srv.permissions[len(srv.permissions)-1]
		assert.True(t, strings.HasPrefix(last, "r1 "))
		assert.Equal(t, "approved", gjson.Get(strings.TrimPrefix(last, "r1 "), "outcome").String())
	})

	t.Run("reject", func(t *testing.T) {
		require.NoError(t, responder.Respond(context.Background(), "sess-42", "r2", false))
		last := srv.permissions[len(srv.permissions)-1]
		assert.Equal(t, "rejected", gjson.Get(strings.TrimPrefix(last, "r2 "), "outcome").String())
	})

	t.Run("unknown session", func(t *testing.T) {
		require.Error(t, responder.Respond(context.Background(), "other", "r1", true))
	})
}

func TestSessionError(t *testing.T) {
	updates := []string{
		`{"type":"message_chunk","text":"partial"}`,
		`{"type":"error","message":"backend crashed"}`,
	}
	srv := newGatedServer(t, updates)
	defer srv.Close()

	h, err := New().Connect(context.Background(), adapter.Config{Endpoint: srv.URL})
	require.NoError(t, err)

	stream, err := h.SendTurn(context.Background(), adapter.Turn{Input: "hi"})
	require.NoError(t, err)
	got := collect(t, stream)

	errEv, ok := got[len(got)-1].(events.Error)
	require.True(t, ok)
	assert.EqualError(t, errEv.Err, "backend crashed")
}

func TestStreamEndWithoutComplete(t *testing.T) {
	updates := []string{
		`{"type":"message_chunk","text":"hi"}`,
	}
	srv := newGatedServer(t, updates)
	defer srv.Close()

	h, err := New().Connect(context.Background(), adapter.Config{Endpoint: srv.URL})
	require.NoError(t, err)

	stream, err := h.SendTurn(context.Background(), adapter.Turn{Input: "hi"})
	require.NoError(t, err)
	got := collect(t, stream)

	assert.IsType(t, events.RunEnd{}, got[len(got)-1])
}
