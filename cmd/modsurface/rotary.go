package main

import "time"

// FastSpinConfig scales linear and logarithmic steps while an encoder is spun quickly.
// A Multiplier of 1 (or less) disables scaling.
type FastSpinConfig struct {
	Window     time.Duration
	Threshold  int
	Multiplier float64
}

// Enabled reports whether fast-spin scaling can ever change a step.
func (c FastSpinConfig) Enabled() bool {
	return c.Multiplier > 1 && c.Threshold > 0 && c.Window > 0
}

// rotaryState tracks recent detents on one physical slot for velocity detection.
//
// Owned by the router, so no locking.
type rotaryState struct {
	recentSteps []rotaryStep
}

// rotaryStep records a single detent.
type rotaryStep struct {
	at        time.Time
	direction RotaryDirection
}

func newRotaryState() *rotaryState {
	return &rotaryState{
		recentSteps: make([]rotaryStep, 0, 16),
	}
}

// addStep records a detent at now and returns the number of same-direction
// detents (including this one) inside the window.
func (r *rotaryState) addStep(dir RotaryDirection, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)

	// Drop steps outside the window, reusing the backing array.
	filtered := r.recentSteps[:0]
	for _, s := range r.recentSteps {
		if s.at.After(cutoff) {
			filtered = append(filtered, s)
		}
	}
	filtered = append(filtered, rotaryStep{at: now, direction: dir})
	r.recentSteps = filtered

	sameDir := 0
	for _, s := range filtered {
		if s.direction == dir {
			sameDir++
		}
	}
	return sameDir
}

// reset forgets the recent history. Called when the slot's target changes.
func (r *rotaryState) reset() {
	r.recentSteps = r.recentSteps[:0]
}

// stepScale records a detent and returns the factor applied to the step size.
func (r *rotaryState) stepScale(cfg FastSpinConfig, dir RotaryDirection, now time.Time) float64 {
	if !cfg.Enabled() {
		return 1
	}
	if r.addStep(dir, now, cfg.Window) >= cfg.Threshold {
		return cfg.Multiplier
	}
	return 1
}
