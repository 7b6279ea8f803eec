package detect

import (
	"context"
	"sync"
	"time"
)

// DefaultTimeout is the deadline after which an unresolved detection call
// settles as not private.
const DefaultTimeout = 1000 * time.Millisecond

// Scheduler runs f once after d. The returned function cancels the call
// and reports whether it was still pending.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

// AfterFunc is the Scheduler backed by time.AfterFunc.
func AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Source records which signal settled an arbiter.
type Source int

const (
	SourcePending Source = iota
	SourceProbe
	SourceTimeout
	SourceFailure
)

func (s Source) String() string {
	switch s {
	case SourceProbe:
		return "probe"
	case SourceTimeout:
		return "timeout"
	case SourceFailure:
		return "failure"
	default:
		return "pending"
	}
}

// Reporter receives a probe verdict. true means private.
type Reporter interface {
	Report(private bool)
}

// Arbiter holds the single-use verdict of one detection call. It starts
// a deadline timer on construction; the first of Report, Fail or the
// deadline settles it and every later signal is discarded silently.
type Arbiter struct {
	once    sync.Once
	done    chan struct{}
	private bool
	source  Source
	stop    func() bool
}

// NewArbiter creates a pending arbiter whose deadline fires after timeout.
// A nil schedule uses AfterFunc.
func NewArbiter(timeout time.Duration, schedule Scheduler) *Arbiter {
	if schedule == nil {
		schedule = AfterFunc
	}
	a := &Arbiter{done: make(chan struct{})}
	a.stop = schedule(timeout, func() {
		a.settle(false, SourceTimeout)
	})
	return a
}

// Report settles the arbiter with a probe verdict if it is still pending.
func (a *Arbiter) Report(private bool) {
	a.settle(private, SourceProbe)
}

// Fail settles the arbiter as not private after a probe failure.
func (a *Arbiter) Fail() {
	a.settle(false, SourceFailure)
}

func (a *Arbiter) settle(private bool, source Source) {
	a.once.Do(func() {
		a.private = private
		a.source = source
		close(a.done)
	})
}

// Done is closed once the arbiter settles.
func (a *Arbiter) Done() <-chan struct{} {
	return a.done
}

// Settled reports whether a verdict has been recorded.
func (a *Arbiter) Settled() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Verdict returns the recorded verdict and its source. Before the arbiter
// settles it returns false and SourcePending.
func (a *Arbiter) Verdict() (bool, Source) {
	if !a.Settled() {
		return false, SourcePending
	}
	return a.private, a.source
}

// Wait blocks until the arbiter settles or ctx is done.
func (a *Arbiter) Wait(ctx context.Context) (bool, Source, error) {
	select {
	case <-a.done:
		return a.private, a.source, nil
	case <-ctx.Done():
		return false, SourcePending, ctx.Err()
	}
}

// Stop cancels the deadline timer. It does not settle the arbiter.
func (a *Arbiter) Stop() {
	if a.stop != nil {
		a.stop()
	}
}
