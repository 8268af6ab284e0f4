package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/SyncKeeper/internal/clock"
)

func TestOneShot_Fires(t *testing.T) {
	ts := NewOneShot("test", nil)
	done := make(chan struct{})

	ts.ScheduleAfter(10*time.Millisecond, func() { close(done) })
	assert.True(t, ts.Pending())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled call never fired")
	}
	assert.Eventually(t, func() bool { return !ts.Pending() }, time.Second, 5*time.Millisecond)
}

func TestOneShot_ReplaceCancelsPrevious(t *testing.T) {
	ts := NewOneShot("test", nil)
	var first, second atomic.Int32
	done := make(chan struct{})

	ts.ScheduleAfter(20*time.Millisecond, func() { first.Add(1) })
	ts.ScheduleAfter(40*time.Millisecond, func() {
		second.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement call never fired")
	}
	// Give a superseded call time to misfire if replacement were broken.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestOneShot_Cancel(t *testing.T) {
	ts := NewOneShot("test", nil)
	var fired atomic.Bool

	ts.Cancel() // nothing scheduled
	ts.ScheduleAfter(20*time.Millisecond, func() { fired.Store(true) })
	ts.Cancel()
	ts.Cancel()

	assert.False(t, ts.Pending())
	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestOneShot_NegativeDelayFiresImmediately(t *testing.T) {
	ts := NewOneShot("test", nil)
	done := make(chan struct{})
	ts.ScheduleAfter(-time.Hour, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("past-due call never fired")
	}
}

func TestOneShot_Info(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewFake(start)
	ts := NewOneShot("refresh", clk)

	_, ok := ts.Info()
	assert.False(t, ok)

	ts.ScheduleAt(start.Add(time.Hour), func() {})
	defer ts.Cancel()

	info, ok := ts.Info()
	require.True(t, ok)
	assert.Equal(t, "refresh", info.Owner)
	assert.Equal(t, start, info.ScheduledAt)
	assert.Equal(t, start.Add(time.Hour), info.ExpiresAt)
	assert.Equal(t, time.Hour, info.Remaining)

	clk.Advance(2 * time.Hour)
	info, ok = ts.Info()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), info.Remaining)
}
