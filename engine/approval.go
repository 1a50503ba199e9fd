package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/alphadose/haxmap"
)

// ErrRejected is returned for a call the user declined. The handler is never
// invoked for a rejected call.
var ErrRejected = errors.New("rejected by user")

// Decision is a user's verdict on a pending approval.
type Decision struct {
	Approve bool
}

// ApprovalGate parks tool calls that need an explicit user decision. Each
// pending entry is keyed by session and request so backend permission
// requests and locally gated tools share one resolution path.
type ApprovalGate struct {
	pending *haxmap.Map[string, chan Decision]
}

func newApprovalGate() *ApprovalGate {
	return &ApprovalGate{pending: haxmap.New[string, chan Decision]()}
}

func gateKey(sessionID, requestID string) string {
	return sessionID + "/" + requestID
}

// Register parks a new pending approval. The returned channel carries the
// decision; pass it to Await. Registering the same key twice is an error.
func (g *ApprovalGate) Register(sessionID, requestID string) (<-chan Decision, error) {
	key := gateKey(sessionID, requestID)
	ch, loaded := g.pending.GetOrCompute(key, func() chan Decision {
		return make(chan Decision, 1)
	})
	if loaded {
		return nil, fmt.Errorf("approval %s already pending", key)
	}
	return ch, nil
}

// Await blocks on a registered approval until a decision arrives or the
// context is done. It returns nil when approved, ErrRejected when declined,
// and removes the pending entry either way.
func (g *ApprovalGate) Await(ctx context.Context, sessionID, requestID string, ch <-chan Decision) error {
	defer g.pending.Del(gateKey(sessionID, requestID))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case decision := <-ch:
		if !decision.Approve {
			return ErrRejected
		}
		return nil
	}
}

// Wait combines Register and Await for callers that block in place.
func (g *ApprovalGate) Wait(ctx context.Context, sessionID, requestID string) error {
	ch, err := g.Register(sessionID, requestID)
	if err != nil {
		return err
	}
	return g.Await(ctx, sessionID, requestID, ch)
}

// Resolve delivers a decision to the waiter registered for the session and
// request. It reports false when nothing is pending under that key.
func (g *ApprovalGate) Resolve(sessionID, requestID string, approve bool) bool {
	ch, ok := g.pending.Get(gateKey(sessionID, requestID))
	if !ok {
		return false
	}
	select {
	case ch <- Decision{Approve: approve}:
		return true
	default:
		return false
	}
}

// Pending reports whether a decision is outstanding for the session and
// request.
func (g *ApprovalGate) Pending(sessionID, requestID string) bool {
	_, ok := g.pending.Get(gateKey(sessionID, requestID))
	return ok
}
