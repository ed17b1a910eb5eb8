package main

import "time"

// Clock is the time source and timer factory used by the control core.
//
// Every callback scheduled with AfterFunc must run on the daemon loop goroutine.
// The production implementation (loopClock) guarantees that by posting the callback
// into the loop instead of running it on the timer goroutine.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable one-shot timer. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// loopClock schedules timer callbacks onto the daemon loop through post.
type loopClock struct {
	post func(func())
}

func (c loopClock) Now() time.Time { return time.Now() }

func (c loopClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() { c.post(f) })
}

// timerSlot owns at most one outstanding timer for a single purpose
// (hold detection, startup settle, display coalescing).
//
// Arm cancels any prior instance. A callback that was already queued on the loop
// when it got cancelled is dropped by the generation check.
type timerSlot struct {
	clock Clock
	timer Timer
	gen   uint64
}

func newTimerSlot(clock Clock) timerSlot {
	return timerSlot{clock: clock}
}

// Arm (re)starts the timer. f runs at most once, and only if the slot is not
// cancelled or re-armed before the timer fires.
func (s *timerSlot) Arm(d time.Duration, f func()) {
	s.Cancel()
	gen := s.gen
	s.timer = s.clock.AfterFunc(d, func() {
		if s.gen != gen || s.timer == nil {
			return
		}
		s.timer = nil
		f()
	})
}

// Cancel stops the outstanding timer, if any. It returns true if a timer was pending.
func (s *timerSlot) Cancel() bool {
	s.gen++
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	return true
}

// Pending reports whether a timer is armed and has not yet fired.
func (s *timerSlot) Pending() bool {
	return s.timer != nil
}
