// Package adapter defines the contract every protocol adapter implements:
// connect to a wire endpoint, send turns, stream back canonical events, and
// cancel. Adapters are independent translators; none may depend on another's
// internal types, and no two handles ever share one transport connection.
package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/agentweft/weft/events"
)

// Config carries the transport target and auth for one adapter connection.
type Config struct {
	// Endpoint is the transport target; required.
	Endpoint string
	// AuthToken is sent as a bearer token when non-empty.
	AuthToken string
	// HTTPClient overrides the transport client; when nil a default with a
	// 30s response-header timeout is used. Streaming reads are governed by
	// the request context, not a client timeout.
	HTTPClient *http.Client
}

// Validate checks the config for the fields every adapter needs.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("adapter config requires an endpoint")
	}
	return nil
}

// Client returns the configured HTTP client or a default suitable for
// long-lived streaming responses.
func (c Config) Client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// ToolResult feeds a completed frontend tool execution back to the agent on
// the next turn.
type ToolResult struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Turn is one outbound exchange: user input, or tool results resuming a
// pending round-trip, or both.
type Turn struct {
	Input       string
	ToolResults []ToolResult
}

// Validate enforces that a turn carries input unless it resumes a
// tool-result round-trip.
func (t Turn) Validate() error {
	if t.Input == "" && len(t.ToolResults) == 0 {
		return errors.New("turn requires input or tool results")
	}
	return nil
}

// Adapter wraps one wire protocol.
type Adapter interface {
	// Name identifies the protocol for logging and registry lookups.
	Name() string
	// Connect validates the config and establishes whatever long-lived
	// transport state the protocol needs. The returned handle owns its
	// connection exclusively.
	Connect(ctx context.Context, cfg Config) (Handle, error)
}

// Handle is one live adapter binding. SendTurn streams canonical events until
// a terminal RunEnd or Error; the channel is always closed afterwards, never
// left dangling. Cancel aborts the in-flight transport operation and is safe
// to call more than once.
type Handle interface {
	SendTurn(ctx context.Context, turn Turn) (<-chan events.Event, error)
	Cancel()
}

// Responder is implemented by handles whose protocol carries explicit
// permission gates. Respond resumes the underlying session with the user's
// decision for the given request.
type Responder interface {
	Respond(ctx context.Context, sessionID, requestID string, approve bool) error
}
