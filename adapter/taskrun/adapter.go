// Package taskrun adapts the task-based agent protocol. The wire exchanges
// single JSON documents: one request out, one response back carrying an array
// of typed parts, each either {kind:'text'} or {kind:'data'} and optionally
// wrapped one level deeper under a 'root' key depending on the server SDK
// family. There is no incremental streaming; the whole response is translated
// into one atomic batch of canonical events.
package taskrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/agentweft/weft/adapter"
	"github.com/agentweft/weft/events"
	"github.com/agentweft/weft/messages"
	"github.com/agentweft/weft/pkg/slogx"
	"github.com/agentweft/weft/pkg/uuidx"
)

const maxResponseSize = 16 << 20

// Adapter speaks the task-based protocol.
type Adapter struct{}

// New returns the task-based protocol adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string { return "taskrun" }

func (a *Adapter) Connect(_ context.Context, cfg adapter.Config) (adapter.Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &handle{
		cfg:    cfg,
		client: cfg.Client(),
		log:    slog.With(slogx.LoggerName("adapter.taskrun")),
	}, nil
}

type handle struct {
	cfg    adapter.Config
	client *http.Client
	log    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (h *handle) SendTurn(ctx context.Context, turn adapter.Turn) (<-chan events.Event, error) {
	if err := turn.Validate(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return nil, errors.New("taskrun: turn already in flight")
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.mu.Unlock()

	runID := uuidx.New()
	body, err := buildRequest(turn)
	if err != nil {
		h.release()
		return nil, err
	}

	stream := make(chan events.Event, 16)
	go func() {
		defer func() {
			close(stream)
			h.release()
		}()

		batch := h.roundTrip(ctx, runID, body)
		for _, ev := range batch {
			select {
			case stream <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return stream, nil
}

func (h *handle) roundTrip(ctx context.Context, runID uuid.UUID, body []byte) []events.Event {
	fail := func(err error) []events.Event {
		h.log.Error("task request failed", slogx.Error(err))
		return []events.Event{events.Error{RunID: runID, Err: err, Timestamp: now()}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.AuthToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("transport: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fail(fmt.Errorf("transport: %w", err))
	}
	batch, err := translate(runID, doc)
	if err != nil {
		return fail(err)
	}
	return batch
}

func buildRequest(turn adapter.Turn) ([]byte, error) {
	parts := []byte(`[]`)
	var err error
	if turn.Input != "" {
		part := []byte(`{"kind":"text"}`)
		if part, err = sjson.SetBytes(part, "text", turn.Input); err != nil {
			return nil, err
		}
		if parts, err = sjson.SetRawBytes(parts, "-1", part); err != nil {
			return nil, err
		}
	}
	for _, tr := range turn.ToolResults {
		part := []byte(`{"kind":"data"}`)
		if part, err = sjson.SetBytes(part, "data.toolCallId", tr.CallID); err != nil {
			return nil, err
		}
		if part, err = sjson.SetBytes(part, "data.name", tr.Name); err != nil {
			return nil, err
		}
		if tr.Error != "" {
			if part, err = sjson.SetBytes(part, "data.error", tr.Error); err != nil {
				return nil, err
			}
		} else if gjson.Valid(tr.Result) {
			if part, err = sjson.SetRawBytes(part, "data.result", []byte(tr.Result)); err != nil {
				return nil, err
			}
		} else {
			if part, err = sjson.SetBytes(part, "data.result", tr.Result); err != nil {
				return nil, err
			}
		}
		if parts, err = sjson.SetRawBytes(parts, "-1", part); err != nil {
			return nil, err
		}
	}

	body := []byte(`{"message":{"role":"user"}}`)
	if body, err = sjson.SetBytes(body, "message.messageId", uuidx.NewString()); err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(body, "message.parts", parts)
}

// translate maps the whole response document to one atomic event batch.
func translate(runID uuid.UUID, doc []byte) ([]events.Event, error) {
	if !gjson.ValidBytes(doc) {
		return nil, errors.New("malformed response document")
	}
	jv := gjson.ParseBytes(doc)

	if state := jv.Get("status.state"); state.Exists() {
		switch state.String() {
		case "failed":
			msg := jv.Get("status.message").String()
			if msg == "" {
				msg = "task failed"
			}
			return []events.Event{events.Error{RunID: runID, Err: errors.New(msg), Timestamp: now()}}, nil
		case "canceled", "cancelled":
			return []events.Event{events.RunEnd{RunID: runID, Timestamp: now()}}, nil
		}
	}

	parts := findParts(jv)
	batch := []events.Event{events.RunStart{RunID: runID, Timestamp: now()}}

	msgID := uuidx.NewString()
	opened := false
	for _, pv := range parts.Array() {
		part := unwrap(pv)
		switch part.Get("kind").String() {
		case "text":
			if !opened {
				batch = append(batch, events.MessageStart{
					RunID: runID, MessageID: msgID,
					Role: messages.RoleAssistant, Timestamp: now(),
				})
				opened = true
			}
			batch = append(batch, events.MessageDelta{
				RunID: runID, MessageID: msgID, Kind: events.PartText,
				Text: part.Get("text").String(), Timestamp: now(),
			})
		case "data":
			host := ""
			if opened {
				host = msgID
			}
			batch = append(batch, translateData(runID, host, part.Get("data"))...)
		default:
			// file and other part kinds are no-ops on this wire
		}
	}
	if opened {
		batch = append(batch, events.MessageEnd{RunID: runID, MessageID: msgID, Timestamp: now()})
	}
	return append(batch, events.RunEnd{RunID: runID, Timestamp: now()}), nil
}

// findParts locates the parts array whether the response is a bare array, a
// message object, or a task document carrying artifacts.
func findParts(jv gjson.Result) gjson.Result {
	if jv.IsArray() {
		return jv
	}
	for _, path := range []string{"parts", "message.parts", "artifacts.0.parts"} {
		if v := jv.Get(path); v.IsArray() {
			return v
		}
	}
	return gjson.Result{}
}

// unwrap peels the single-level 'root' envelope some server SDKs emit.
func unwrap(pv gjson.Result) gjson.Result {
	if root := pv.Get("root"); root.IsObject() {
		return root
	}
	return pv
}

// translateData maps a data part: tool outcomes when it names a call,
// otherwise a shared-state snapshot.
func translateData(runID uuid.UUID, msgID string, data gjson.Result) []events.Event {
	callID := data.Get("toolCallId").String()
	if callID == "" {
		return []events.Event{events.StateSnapshot{RunID: runID, State: data.Raw, Timestamp: now()}}
	}

	out := []events.Event{events.ToolCallStart{
		RunID: runID, MessageID: msgID, CallID: callID,
		Name: data.Get("name").String(), Timestamp: now(),
	}}
	if args := data.Get("arguments"); args.Exists() {
		out = append(out, events.ToolCallArgsDelta{RunID: runID, CallID: callID, Chunk: args.Raw, Timestamp: now()})
	}
	out = append(out, events.ToolCallArgsEnd{RunID: runID, CallID: callID, Timestamp: now()})

	if errMsg := data.Get("error").String(); errMsg != "" {
		return append(out, events.ToolCallError{RunID: runID, CallID: callID, Reason: errMsg, Timestamp: now()})
	}
	if result := data.Get("result"); result.Exists() {
		return append(out, events.ToolCallResult{RunID: runID, CallID: callID, Result: result.Raw, Timestamp: now()})
	}
	return out
}

func now() strfmt.DateTime {
	return strfmt.DateTime(time.Now())
}

func (h *handle) release() {
	h.mu.Lock()
	h.cancel = nil
	h.mu.Unlock()
}

// Cancel aborts the in-flight request. Safe to call repeatedly.
func (h *handle) Cancel() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
