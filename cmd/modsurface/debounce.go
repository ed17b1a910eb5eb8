package main

import "time"

// ButtonEvent is a discrete switch intent produced by DebounceClassifier.
type ButtonEvent int

const (
	ButtonClick ButtonEvent = iota + 1
	ButtonHeld
)

func (e ButtonEvent) String() string {
	switch e {
	case ButtonClick:
		return "click"
	case ButtonHeld:
		return "held"
	default:
		return "unknown"
	}
}

// DebounceConfig holds the classifier timing.
type DebounceConfig struct {
	Window time.Duration // minimum spacing between accepted transitions
	Hold   time.Duration // press length that turns a press into Held
}

// DebounceClassifier turns a bouncy switch line into Click and Held events.
//
// A sample is accepted only when it differs from the accepted value and more than
// Window has passed since the last accepted transition. An accepted press arms the
// hold timer. If the timer fires first, onHeld receives Held and the later release
// is silent. If the release comes first, the timer is cancelled and Check returns Click.
type DebounceClassifier struct {
	cfg            DebounceConfig
	accepted       bool
	lastAcceptedAt time.Time
	hold           timerSlot
	onHeld         func(ButtonEvent)
}

// NewDebounceClassifier creates a classifier in the released state. The debounce
// window starts at construction time, so an edge within Window of startup is ignored.
func NewDebounceClassifier(cfg DebounceConfig, clock Clock, onHeld func(ButtonEvent)) *DebounceClassifier {
	if cfg.Window <= 0 {
		cfg.Window = defaultDebounceWindow
	}
	if cfg.Hold <= 0 {
		cfg.Hold = defaultHoldDuration
	}
	return &DebounceClassifier{
		cfg:            cfg,
		lastAcceptedAt: clock.Now(),
		hold:           newTimerSlot(clock),
		onHeld:         onHeld,
	}
}

// Check feeds one raw sample taken at now. It returns ButtonClick and true when a
// press is released before the hold duration elapsed.
func (d *DebounceClassifier) Check(raw bool, now time.Time) (ButtonEvent, bool) {
	if raw == d.accepted || now.Sub(d.lastAcceptedAt) <= d.cfg.Window {
		return 0, false
	}
	d.accepted = raw
	d.lastAcceptedAt = now

	if raw {
		d.hold.Arm(d.cfg.Hold, d.fireHeld)
		return 0, false
	}

	if d.hold.Cancel() {
		return ButtonClick, true
	}
	// Held already fired for this press.
	return 0, false
}

func (d *DebounceClassifier) fireHeld() {
	if d.onHeld != nil {
		d.onHeld(ButtonHeld)
	}
}

// Pressed reports the last accepted switch level.
func (d *DebounceClassifier) Pressed() bool { return d.accepted }
