package replication

import (
	"context"
	"sync"

	"github.com/danmuck/replica/internal/capsule"
)

// signal is a one-shot result slot paired with a wake channel.
type signal struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newSignal() *signal {
	return &signal{done: make(chan struct{})}
}

// resolve stores err and wakes every waiter. Only the first call counts.
func (s *signal) resolve(err error) bool {
	resolved := false
	s.once.Do(func() {
		s.err = err
		close(s.done)
		resolved = true
	})
	return resolved
}

func (s *signal) resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *signal) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pendingSubmission is the single outstanding local submission. Resolving it
// releases the submission gate, whether or not its caller is still waiting.
type pendingSubmission struct {
	*signal
	capsule capsule.Capsule
	release func()
}

func newPendingSubmission(c capsule.Capsule, release func()) *pendingSubmission {
	return &pendingSubmission{signal: newSignal(), capsule: c, release: release}
}

func (p *pendingSubmission) resolve(err error) bool {
	if !p.signal.resolve(err) {
		return false
	}
	p.release()
	return true
}

// syncWaiter tracks the catch-up handshake started by Subscribe.
type syncWaiter struct {
	*signal
	startingSequence uint64
}

func newSyncWaiter(startingSequence uint64) *syncWaiter {
	return &syncWaiter{signal: newSignal(), startingSequence: startingSequence}
}
