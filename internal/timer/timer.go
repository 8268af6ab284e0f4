// Package timer provides a cancellable, reschedulable one-shot deferred call.
//
// A OneShot owns at most one outstanding call. Every ScheduleAfter cancels the
// previous call before installing the new one, so concurrent schedulers on the
// same owner resolve to last-write-wins.
package timer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SyncKeeper/internal/clock"
)

// Info describes the pending call of a OneShot.
type Info struct {
	Owner       string
	ScheduledAt time.Time
	ExpiresAt   time.Time
	Remaining   time.Duration
}

// pendingCall tracks the single scheduled call
type pendingCall struct {
	timer       *time.Timer
	scheduledAt time.Time
	expiresAt   time.Time
}

// OneShot is a per-owner single-slot timer built on time.AfterFunc.
type OneShot struct {
	owner string
	clock clock.Clock

	mu   sync.Mutex
	call *pendingCall
	// gen increments on every schedule and cancel; a fired callback whose
	// generation is stale has been replaced and must not run.
	gen uint64
}

// NewOneShot creates a OneShot. owner is only used for logging.
func NewOneShot(owner string, clk clock.Clock) *OneShot {
	if clk == nil {
		clk = clock.Real{}
	}
	slog.Debug("Creating OneShot timer", "owner", owner)
	return &OneShot{owner: owner, clock: clk}
}

// ScheduleAfter cancels any pending call and schedules fn to run after delay.
// A non-positive delay fires as soon as possible.
func (t *OneShot) ScheduleAfter(delay time.Duration, fn func()) {
	if delay < 0 {
		slog.Warn("OneShot.ScheduleAfter: delay is in the past, firing immediately", "owner", t.owner, "delay", delay)
		delay = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.gen++
	gen := t.gen

	now := t.clock.Now()
	call := &pendingCall{
		scheduledAt: now,
		expiresAt:   now.Add(delay),
	}
	call.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			slog.Debug("OneShot: dropping superseded call", "owner", t.owner)
			return
		}
		t.call = nil
		t.mu.Unlock()

		slog.Debug("OneShot: executing scheduled call", "owner", t.owner)
		fn()
	})
	t.call = call

	slog.Debug("OneShot.ScheduleAfter", "owner", t.owner, "delay", delay)
}

// ScheduleAt schedules fn to run at when, replacing any pending call.
func (t *OneShot) ScheduleAt(when time.Time, fn func()) {
	t.ScheduleAfter(when.Sub(t.clock.Now()), fn)
}

// Cancel drops the pending call, if any. Safe to call when nothing is scheduled.
func (t *OneShot) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

func (t *OneShot) cancelLocked() {
	if t.call == nil {
		return
	}
	t.call.timer.Stop()
	t.call = nil
	t.gen++
	slog.Debug("OneShot: cancelled pending call", "owner", t.owner)
}

// Pending reports whether a call is outstanding.
func (t *OneShot) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.call != nil
}

// Info returns details about the outstanding call. ok is false when nothing is scheduled.
func (t *OneShot) Info() (info Info, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.call == nil {
		return Info{}, false
	}
	remaining := t.call.expiresAt.Sub(t.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return Info{
		Owner:       t.owner,
		ScheduledAt: t.call.scheduledAt,
		ExpiresAt:   t.call.expiresAt,
		Remaining:   remaining,
	}, true
}
