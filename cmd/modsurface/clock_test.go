package main

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// manualClock is a Clock driven by Advance. Timer callbacks run synchronously
// inside Advance, like they would on the daemon loop.
type manualClock struct {
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &manualTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, firing due timers in deadline order.
func (c *manualClock) Advance(d time.Duration) {
	target := c.now.Add(d)
	for {
		due := c.due(target)
		if due == nil {
			break
		}
		c.now = due.at
		due.fired = true
		due.f()
	}
	c.now = target
}

func (c *manualClock) due(target time.Time) *manualTimer {
	var live []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.SliceStable(live, func(i, j int) bool { return live[i].at.Before(live[j].at) })
	if len(live) == 0 || live[0].at.After(target) {
		return nil
	}
	return live[0]
}

// Pending returns the number of armed timers.
func (c *manualClock) Pending() int {
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func TestTimerSlot_FiresOnce(t *testing.T) {
	clk := newManualClock()
	slot := newTimerSlot(clk)

	fired := 0
	slot.Arm(100*time.Millisecond, func() { fired++ })
	assert.True(t, slot.Pending())

	clk.Advance(99 * time.Millisecond)
	assert.Equal(t, 0, fired)

	clk.Advance(time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.False(t, slot.Pending())

	clk.Advance(time.Second)
	assert.Equal(t, 1, fired)
}

func TestTimerSlot_RearmCancelsPrevious(t *testing.T) {
	clk := newManualClock()
	slot := newTimerSlot(clk)

	var got []string
	slot.Arm(100*time.Millisecond, func() { got = append(got, "first") })
	clk.Advance(50 * time.Millisecond)
	slot.Arm(100*time.Millisecond, func() { got = append(got, "second") })

	assert.Equal(t, 1, clk.Pending())

	clk.Advance(60 * time.Millisecond)
	assert.Empty(t, got)

	clk.Advance(40 * time.Millisecond)
	assert.Equal(t, []string{"second"}, got)
}

func TestTimerSlot_CancelReportsPending(t *testing.T) {
	clk := newManualClock()
	slot := newTimerSlot(clk)

	assert.False(t, slot.Cancel())

	fired := false
	slot.Arm(time.Second, func() { fired = true })
	assert.True(t, slot.Cancel())
	assert.False(t, slot.Cancel())

	clk.Advance(2 * time.Second)
	assert.False(t, fired)
}

// A callback that was already queued when the slot got cancelled must not run.
func TestTimerSlot_StaleCallbackDropped(t *testing.T) {
	var queued []func()
	clk := &queueClock{post: func(f func()) { queued = append(queued, f) }}
	slot := newTimerSlot(clk)

	fired := false
	slot.Arm(time.Millisecond, func() { fired = true })
	clk.fireAll()
	assert.Len(t, queued, 1)

	slot.Cancel()
	for _, f := range queued {
		f()
	}
	assert.False(t, fired)
}

// queueClock fires timers by posting their callbacks, like loopClock does.
type queueClock struct {
	post    func(func())
	pending []func()
}

func (c *queueClock) Now() time.Time { return time.Time{} }

func (c *queueClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.pending = append(c.pending, f)
	return stopNoop{}
}

func (c *queueClock) fireAll() {
	for _, f := range c.pending {
		c.post(f)
	}
	c.pending = nil
}

type stopNoop struct{}

func (stopNoop) Stop() bool { return false }
