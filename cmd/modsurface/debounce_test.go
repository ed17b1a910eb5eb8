package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type debounceHarness struct {
	clk  *manualClock
	d    *DebounceClassifier
	held int
}

func newDebounceHarness() *debounceHarness {
	h := &debounceHarness{clk: newManualClock()}
	h.d = NewDebounceClassifier(DebounceConfig{
		Window: 50 * time.Millisecond,
		Hold:   300 * time.Millisecond,
	}, h.clk, func(ev ButtonEvent) {
		if ev == ButtonHeld {
			h.held++
		}
	})
	return h
}

// sample advances the clock by after and feeds raw.
func (h *debounceHarness) sample(after time.Duration, raw bool) (ButtonEvent, bool) {
	h.clk.Advance(after)
	return h.d.Check(raw, h.clk.Now())
}

func TestDebounce_Click(t *testing.T) {
	h := newDebounceHarness()

	_, ok := h.sample(60*time.Millisecond, true)
	assert.False(t, ok)
	assert.True(t, h.d.Pressed())

	ev, ok := h.sample(100*time.Millisecond, false)
	require.True(t, ok)
	assert.Equal(t, ButtonClick, ev)
	assert.Equal(t, 0, h.held)

	// The hold timer was cancelled by the release.
	h.clk.Advance(time.Second)
	assert.Equal(t, 0, h.held)
}

func TestDebounce_HeldThenSilentRelease(t *testing.T) {
	h := newDebounceHarness()

	_, ok := h.sample(60*time.Millisecond, true)
	assert.False(t, ok)

	h.clk.Advance(300 * time.Millisecond)
	assert.Equal(t, 1, h.held)

	_, ok = h.sample(500*time.Millisecond, false)
	assert.False(t, ok, "release after held emits nothing")
	assert.Equal(t, 1, h.held)
}

func TestDebounce_ReleaseJustBeforeHold(t *testing.T) {
	h := newDebounceHarness()

	h.sample(60*time.Millisecond, true)
	ev, ok := h.sample(299*time.Millisecond, false)
	require.True(t, ok)
	assert.Equal(t, ButtonClick, ev)

	h.clk.Advance(time.Second)
	assert.Equal(t, 0, h.held)
}

func TestDebounce_StartupWindowIgnored(t *testing.T) {
	h := newDebounceHarness()

	// Within the window measured from construction.
	_, ok := h.sample(10*time.Millisecond, true)
	assert.False(t, ok)
	assert.False(t, h.d.Pressed())
}

func TestDebounce_BounceWithinWindowIgnored(t *testing.T) {
	h := newDebounceHarness()

	h.sample(60*time.Millisecond, true)
	require.True(t, h.d.Pressed())

	// Contact bounce: open/close within the window is ignored.
	for range 5 {
		_, ok := h.sample(5*time.Millisecond, false)
		assert.False(t, ok)
		_, ok = h.sample(5*time.Millisecond, true)
		assert.False(t, ok)
	}
	assert.True(t, h.d.Pressed())

	// Exactly at the window boundary is still rejected.
	h2 := newDebounceHarness()
	h2.sample(60*time.Millisecond, true)
	_, ok := h2.sample(50*time.Millisecond, false)
	assert.False(t, ok)
	assert.True(t, h2.d.Pressed())
}

func TestDebounce_SameValueResampled(t *testing.T) {
	h := newDebounceHarness()

	h.sample(60*time.Millisecond, true)
	for range 10 {
		_, ok := h.sample(100*time.Millisecond, true)
		assert.False(t, ok)
	}
	// Held fired during the resamples, exactly once.
	assert.Equal(t, 1, h.held)
}

func TestDebounce_RepeatedClicks(t *testing.T) {
	h := newDebounceHarness()

	clicks := 0
	for range 3 {
		h.sample(60*time.Millisecond, true)
		if ev, ok := h.sample(60*time.Millisecond, false); ok && ev == ButtonClick {
			clicks++
		}
	}
	assert.Equal(t, 3, clicks)
	assert.Equal(t, 0, h.held)
}

func TestDebounce_Defaults(t *testing.T) {
	d := NewDebounceClassifier(DebounceConfig{}, newManualClock(), nil)
	assert.Equal(t, defaultDebounceWindow, d.cfg.Window)
	assert.Equal(t, defaultHoldDuration, d.cfg.Hold)
}

func TestButtonEvent_String(t *testing.T) {
	assert.Equal(t, "click", ButtonClick.String())
	assert.Equal(t, "held", ButtonHeld.String())
}
