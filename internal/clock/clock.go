// Package clock provides an injectable time source for wall-clock waits.
// The demo's watchdog uses Wall; no pipeline element takes a Clock, and
// there is no prefetch wait in this module. Tests use a Virtual clock
// they can advance deterministically instead of sleeping, logged with
// charmbracelet/log the way the pack's samoyed
// module pulls that library in for structured, leveled debug tracing
// alongside the pipeline's own slog usage.
package clock

import (
	"io"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Clock is the seam a wall-clock wait goes through instead of calling
// time.Now/time.After directly.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the subset of time.Timer callers need, so Virtual can
// implement it without a real underlying timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Wall is the production Clock: a thin pass-through to the time package.
type Wall struct{}

func (Wall) Now() time.Time                         { return time.Now() }
func (Wall) After(d time.Duration) <-chan time.Time  { return time.After(d) }
func (Wall) NewTimer(d time.Duration) Timer          { return &wallTimer{t: time.NewTimer(d)} }

type wallTimer struct{ t *time.Timer }

func (w *wallTimer) C() <-chan time.Time { return w.t.C }
func (w *wallTimer) Stop() bool          { return w.t.Stop() }

// Virtual is a manually-advanced Clock for deterministic tests of
// timeout-driven behavior without sleeping real wall-clock time.
type Virtual struct {
	mu  sync.Mutex
	now time.Time

	waiters []virtualWaiter
	log     *charmlog.Logger
}

type virtualWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewVirtual starts a Virtual clock at the given instant. A nil logger
// disables debug tracing of advances.
func NewVirtual(start time.Time, log *charmlog.Logger) *Virtual {
	if log == nil {
		log = charmlog.New(io.Discard)
	}
	return &Virtual{now: start, log: log}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) After(d time.Duration) <-chan time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := v.now.Add(d)
	if !deadline.After(v.now) {
		ch <- v.now
		return ch
	}
	v.waiters = append(v.waiters, virtualWaiter{deadline: deadline, ch: ch})
	return ch
}

func (v *Virtual) NewTimer(d time.Duration) Timer {
	return &virtualTimer{ch: v.After(d)}
}

type virtualTimer struct{ ch <-chan time.Time }

func (t *virtualTimer) C() <-chan time.Time { return t.ch }
func (t *virtualTimer) Stop() bool          { return false }

// Advance moves the clock forward by d, firing every waiter whose
// deadline has now passed, in the order the waiters were registered.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)
	v.log.Debug("virtual clock advanced", "now", v.now, "pending", len(v.waiters))

	remaining := v.waiters[:0]
	fired := 0
	for _, w := range v.waiters {
		if !w.deadline.After(v.now) {
			w.ch <- v.now
			fired++
			continue
		}
		remaining = append(remaining, w)
	}
	v.waiters = remaining
	if fired > 0 {
		v.log.Debug("virtual clock fired waiters", "count", fired)
	}
}

var _ Clock = Wall{}
var _ Clock = (*Virtual)(nil)
