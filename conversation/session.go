package conversation

import (
	"sync"

	"github.com/google/uuid"

	"github.com/agentweft/weft/pkg/uuidx"
)

// CancelReason is the failure text attached to tool calls that were still in
// flight when their session was cancelled.
const CancelReason = "cancelled by caller"

// Session is the ephemeral state of one in-flight turn: the cancellation
// token for the adapter's transport operation plus completion bookkeeping.
// It is destroyed (Done closes) when the run reaches a terminal canonical
// event or the caller cancels.
type Session struct {
	id    uuid.UUID
	conv  *Conversation
	abort func()

	cancelOnce sync.Once
	doneOnce   sync.Once
	done       chan struct{}

	mu        sync.Mutex
	err       error
	cancelled bool
}

// NewSession binds a session to its conversation and the adapter's transport
// abort function.
func NewSession(conv *Conversation, abort func()) *Session {
	return &Session{
		id:    uuidx.New(),
		conv:  conv,
		abort: abort,
		done:  make(chan struct{}),
	}
}

// ID identifies the session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Done closes when the session terminates, normally or otherwise.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal failure, nil for normal completion. Cancellation
// is a normal termination path and reports nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancelled reports whether the caller cancelled the session.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Cancel aborts the transport operation, freezes all open parts keeping
// partial content, fails tool calls still short of complete with a
// cancellation reason, and releases the session. Calling it again is a no-op.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()

		if s.abort != nil {
			s.abort()
		}
		s.conv.FreezeOpen(CancelReason)
		s.Complete(nil)
	})
}

// Complete releases the session with its terminal error. The first completion
// wins; later calls are no-ops, which keeps Cancel idempotent against natural
// termination.
func (s *Session) Complete(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}
