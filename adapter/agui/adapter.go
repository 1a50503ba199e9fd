package agui

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
	"github.com/tidwall/sjson"

	"github.com/agentweft/weft/adapter"
	"github.com/agentweft/weft/events"
	"github.com/agentweft/weft/pkg/slogx"
	"github.com/agentweft/weft/pkg/uuidx"
)

// Adapter speaks the SSE-event protocol.
type Adapter struct{}

// New returns the SSE-event protocol adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string { return "agui" }

// Connect validates the config and binds a handle. The protocol is
// request-scoped, so the transport connection is established per turn.
func (a *Adapter) Connect(_ context.Context, cfg adapter.Config) (adapter.Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &handle{
		cfg:      cfg,
		client:   cfg.Client(),
		threadID: uuidx.NewString(),
		log:      slog.With(slogx.LoggerName("adapter.agui")),
	}, nil
}

type handle struct {
	cfg      adapter.Config
	client   *http.Client
	threadID string
	log      *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	inFlight bool
}

func (h *handle) SendTurn(ctx context.Context, turn adapter.Turn) (<-chan events.Event, error) {
	if err := turn.Validate(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.inFlight {
		h.mu.Unlock()
		return nil, errors.New("agui: turn already in flight")
	}
	runID := uuidx.New()
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.inFlight = true
	h.mu.Unlock()

	body, err := h.buildRequest(turn, runID.String())
	if err != nil {
		h.release()
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		h.release()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if h.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.AuthToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.release()
		return nil, fmt.Errorf("agui: transport: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		h.release()
		return nil, fmt.Errorf("agui: unexpected status %d", resp.StatusCode)
	}

	stream := make(chan events.Event, 16)
	go h.pump(ctx, resp.Body, newTranslator(runID), stream)
	return stream, nil
}

// buildRequest assembles the outbound run input document.
func (h *handle) buildRequest(turn adapter.Turn, runID string) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "threadId", h.threadID); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "runId", runID); err != nil {
		return nil, err
	}
	msgs := []byte(`[]`)
	if turn.Input != "" {
		msg := []byte(`{"role":"user"}`)
		if msg, err = sjson.SetBytes(msg, "id", uuidx.NewString()); err != nil {
			return nil, err
		}
		if msg, err = sjson.SetBytes(msg, "content", turn.Input); err != nil {
			return nil, err
		}
		if msgs, err = sjson.SetRawBytes(msgs, "-1", msg); err != nil {
			return nil, err
		}
	}
	for _, tr := range turn.ToolResults {
		msg := []byte(`{"role":"tool"}`)
		if msg, err = sjson.SetBytes(msg, "id", uuidx.NewString()); err != nil {
			return nil, err
		}
		if msg, err = sjson.SetBytes(msg, "toolCallId", tr.CallID); err != nil {
			return nil, err
		}
		content := tr.Result
		if tr.Error != "" {
			content = tr.Error
		}
		if msg, err = sjson.SetBytes(msg, "content", content); err != nil {
			return nil, err
		}
		if msgs, err = sjson.SetRawBytes(msgs, "-1", msg); err != nil {
			return nil, err
		}
	}
	return sjson.SetRawBytes(body, "messages", msgs)
}

func (h *handle) pump(ctx context.Context, body io.ReadCloser, tr *translator, stream chan<- events.Event) {
	defer func() {
		body.Close()
		close(stream)
		h.release()
	}()

	frames := newFrameReader(body)
	for {
		f, err := frames.Next()
		if errors.Is(err, io.EOF) {
			if ferr := tr.flush(); ferr != nil {
				h.emitError(ctx, stream, tr, ferr)
			}
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				// cancelled by the caller, the session freezes state itself
				return
			}
			h.emitError(ctx, stream, tr, fmt.Errorf("transport: %w", err))
			return
		}

		evs, err := tr.translate(f)
		if err != nil {
			h.emitError(ctx, stream, tr, err)
			return
		}
		for _, ev := range evs {
			select {
			case stream <- ev:
			case <-ctx.Done():
				return
			}
			if _, terminal := ev.(events.Error); terminal {
				return
			}
			if _, terminal := ev.(events.RunEnd); terminal {
				return
			}
		}
	}
}

func (h *handle) emitError(ctx context.Context, stream chan<- events.Event, tr *translator, err error) {
	h.log.Error("stream terminated", slogx.Error(err))
	select {
	case stream <- events.Error{RunID: tr.runID, Err: err, Timestamp: strfmt.DateTime(time.Now())}:
	case <-ctx.Done():
	}
}

func (h *handle) release() {
	h.mu.Lock()
	h.inFlight = false
	h.cancel = nil
	h.mu.Unlock()
}

// Cancel aborts the in-flight transport operation. Safe to call repeatedly.
func (h *handle) Cancel() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
