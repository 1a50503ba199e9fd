package engine

import (
	"sync"
	"time"

	"github.com/alphadose/haxmap"
)

// suppressor remembers the signature of every executed call and rejects
// repeats that land inside the window. Entries older than twice the window
// are pruned opportunistically on admit.
type suppressor struct {
	// mu serializes admission; the check-then-set on seen must be atomic or
	// concurrent duplicates can both pass.
	mu     sync.Mutex
	seen   *haxmap.Map[string, int64]
	window time.Duration
	clock  func() time.Time
}

func newSuppressor(window time.Duration, clock func() time.Time) *suppressor {
	return &suppressor{
		seen:   haxmap.New[string, int64](),
		window: window,
		clock:  clock,
	}
}

// admit records the signature and reports whether the call may execute.
// A second call with the same signature inside the window is rejected and
// does not refresh the entry, so a burst of duplicates expires together.
func (s *suppressor) admit(sig string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UnixNano()
	if at, ok := s.seen.Get(sig); ok && now-at < s.window.Nanoseconds() {
		return false
	}
	s.seen.Set(sig, now)
	s.prune(now)
	return true
}

func (s *suppressor) prune(now int64) {
	horizon := 2 * s.window.Nanoseconds()
	s.seen.ForEach(func(sig string, at int64) bool {
		if now-at > horizon {
			s.seen.Del(sig)
		}
		return true
	})
}
