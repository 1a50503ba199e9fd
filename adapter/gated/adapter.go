// Package gated adapts the permission-gated agent protocol. The wire exposes
// long-lived sessions streaming newline-delimited JSON updates; sensitive
// tool calls pause the session with an explicit pendingPermission object
// carrying a requestId. The adapter surfaces those as canonical
// ToolCallPendingApproval events and resumes the underlying session through
// Respond with the user's decision.
package gated

import (
	"bufio"
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
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/agentweft/weft/adapter"
	"github.com/agentweft/weft/events"
	"github.com/agentweft/weft/pkg/slogx"
	"github.com/agentweft/weft/pkg/uuidx"
)

const maxLineSize = 4 << 20

// Adapter speaks the permission-gated session protocol.
type Adapter struct{}

// New returns the permission-gated protocol adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string { return "gated" }

// Connect creates a session on the remote agent and binds a handle to it.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) (adapter.Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := cfg.Client()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint+"/sessions", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gated: create session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("gated: create session: unexpected status %d", resp.StatusCode)
	}
	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxLineSize))
	if err != nil {
		return nil, fmt.Errorf("gated: create session: %w", err)
	}
	sessionID := gjson.GetBytes(doc, "sessionId").String()
	if sessionID == "" {
		return nil, errors.New("gated: create session: response missing sessionId")
	}

	return &handle{
		cfg:       cfg,
		client:    client,
		sessionID: sessionID,
		log:       slog.With(slogx.LoggerName("adapter.gated"), slog.String("session_id", sessionID)),
	}, nil
}

type handle struct {
	cfg       adapter.Config
	client    *http.Client
	sessionID string
	log       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// SessionID exposes the remote session identity for approval bookkeeping.
func (h *handle) SessionID() string { return h.sessionID }

func (h *handle) SendTurn(ctx context.Context, turn adapter.Turn) (<-chan events.Event, error) {
	if err := turn.Validate(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return nil, errors.New("gated: turn already in flight")
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.mu.Unlock()

	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "prompt", turn.Input); err != nil {
		h.release()
		return nil, err
	}

	url := fmt.Sprintf("%s/sessions/%s/prompt", h.cfg.Endpoint, h.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		h.release()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	if h.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.AuthToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.release()
		return nil, fmt.Errorf("gated: transport: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		h.release()
		return nil, fmt.Errorf("gated: unexpected status %d", resp.StatusCode)
	}

	stream := make(chan events.Event, 16)
	go h.pump(ctx, resp.Body, stream)
	return stream, nil
}

func (h *handle) pump(ctx context.Context, body io.ReadCloser, stream chan<- events.Event) {
	defer func() {
		body.Close()
		close(stream)
		h.release()
	}()

	runID := uuidx.New()
	tr := &translator{runID: runID, sessionID: h.sessionID}

	emit := func(evs []events.Event) bool {
		for _, ev := range evs {
			select {
			case stream <- ev:
			case <-ctx.Done():
				return false
			}
			switch ev.(type) {
			case events.RunEnd, events.Error:
				return false
			}
		}
		return true
	}

	if !emit([]events.Event{events.RunStart{RunID: runID, Timestamp: now()}}) {
		return
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		evs, err := tr.translate(line)
		if err != nil {
			h.log.Error("malformed session update", slogx.Error(err))
			emit([]events.Event{events.Error{RunID: runID, Err: err, Timestamp: now()}})
			return
		}
		if !emit(evs) {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		emit([]events.Event{events.Error{RunID: runID, Err: fmt.Errorf("transport: %w", err), Timestamp: now()}})
		return
	}
	// stream ended without an explicit terminal update
	emit([]events.Event{events.RunEnd{RunID: runID, Timestamp: now()}})
}

// Respond resumes the session with the decision for a pending permission
// request. The prompt stream continues (or fails the gated call) server-side.
func (h *handle) Respond(ctx context.Context, sessionID, requestID string, approve bool) error {
	if sessionID != h.sessionID {
		return fmt.Errorf("gated: unknown session %q", sessionID)
	}
	outcome := "rejected"
	if approve {
		outcome = "approved"
	}
	body, err := sjson.SetBytes([]byte(`{}`), "outcome", outcome)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/sessions/%s/permissions/%s", h.cfg.Endpoint, sessionID, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.AuthToken)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("gated: respond: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("gated: respond: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (h *handle) release() {
	h.mu.Lock()
	h.cancel = nil
	h.mu.Unlock()
}

// Cancel aborts the in-flight prompt. Safe to call repeatedly.
func (h *handle) Cancel() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func now() strfmt.DateTime {
	return strfmt.DateTime(time.Now())
}
