package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ============================================================================
// Signal sources - line levels from GPIO, I2C expanders and evdev
// ============================================================================
// Sources run on their own goroutines and only send Samples. Decoding and
// classification happen on the daemon loop (see controlInputs).
// ============================================================================

// Sample is a marker interface for line level changes.
type Sample interface {
	sampleMarker()
}

// EncoderSample carries both lines of one encoder from a single read.
type EncoderSample struct {
	Encoder int
	A, B    bool
}

func (EncoderSample) sampleMarker() {}

// SwitchKind tells encoder push switches from standalone buttons.
type SwitchKind int

const (
	EncoderSwitch SwitchKind = iota
	StandaloneButton
)

func (k SwitchKind) String() string {
	if k == EncoderSwitch {
		return "encoder"
	}
	return "button"
}

// SwitchRef identifies a switch: encoder index or button index.
type SwitchRef struct {
	Kind  SwitchKind
	Index int
}

func (r SwitchRef) String() string { return fmt.Sprintf("%s[%d]", r.Kind, r.Index) }

// SwitchSample is a switch level change. Pressed is already active-low corrected.
type SwitchSample struct {
	Switch  SwitchRef
	Pressed bool
	At      time.Time
}

func (SwitchSample) sampleMarker() {}

// SignalSource produces samples until ctx is cancelled.
type SignalSource interface {
	Name() string
	Run(ctx context.Context, out chan<- Sample) error
}

// ============================================================================
// Polling sources
// ============================================================================

// lineScanner reads every line it serves in one pass. Lines read by the same
// Scan call that belong to one encoder come from one register snapshot.
type lineScanner interface {
	Open() error
	Lines() int
	Scan(levels []bool) error
	Close() error
}

type encoderLines struct {
	encoder int
	a, b    int // indexes into the scanned levels
}

type switchLine struct {
	ref  SwitchRef
	line int
}

// pollSource polls a scanner and emits a sample for every encoder or switch
// whose lines changed since the previous scan. The first scan emits everything.
type pollSource struct {
	name     string
	interval time.Duration
	scanner  lineScanner
	encoders []encoderLines
	switches []switchLine
	logger   *slog.Logger

	levels []bool
	last   []bool
	primed bool
}

func newPollSource(name string, interval time.Duration, scanner lineScanner, logger *slog.Logger) *pollSource {
	return &pollSource{
		name:     name,
		interval: interval,
		scanner:  scanner,
		logger:   logger,
	}
}

func (p *pollSource) Name() string { return p.name }

// poll runs one scan and reports changes through emit.
func (p *pollSource) poll(now time.Time, emit func(Sample)) error {
	n := p.scanner.Lines()
	if len(p.levels) != n {
		p.levels = make([]bool, n)
		p.last = make([]bool, n)
		p.primed = false
	}
	if err := p.scanner.Scan(p.levels); err != nil {
		return err
	}

	changed := func(i int) bool { return !p.primed || p.levels[i] != p.last[i] }

	for _, e := range p.encoders {
		if changed(e.a) || changed(e.b) {
			emit(EncoderSample{Encoder: e.encoder, A: p.levels[e.a], B: p.levels[e.b]})
		}
	}
	for _, s := range p.switches {
		if changed(s.line) {
			emit(SwitchSample{Switch: s.ref, Pressed: p.levels[s.line], At: now})
		}
	}

	copy(p.last, p.levels)
	p.primed = true
	return nil
}

// Run opens the scanner and polls it every interval until ctx is done.
//
// A failed scan is logged and retried on the next tick.
func (p *pollSource) Run(ctx context.Context, out chan<- Sample) error {
	if err := p.scanner.Open(); err != nil {
		return fmt.Errorf("%s: open: %w", p.name, err)
	}
	defer p.scanner.Close()

	p.logger.Info("signal source started",
		"source", p.name,
		"lines", p.scanner.Lines(),
		"encoders", len(p.encoders),
		"switches", len(p.switches),
		"interval", p.interval,
	)

	emit := func(s Sample) {
		select {
		case out <- s:
		case <-ctx.Done():
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var failing bool
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := p.poll(now, emit); err != nil {
				if !failing {
					p.logger.Warn("scan failed", "source", p.name, "error", err)
				}
				failing = true
				continue
			}
			if failing {
				p.logger.Info("scan recovered", "source", p.name)
				failing = false
			}
		}
	}
}

// ============================================================================
// Building sources from config
// ============================================================================

// lineAssigner hands out per-source line indexes.
type lineAssigner[K comparable] struct {
	index map[K]int
	keys  []K
}

func (a *lineAssigner[K]) assign(k K) int {
	if a.index == nil {
		a.index = make(map[K]int)
	}
	if i, ok := a.index[k]; ok {
		return i
	}
	i := len(a.keys)
	a.index[k] = i
	a.keys = append(a.keys, k)
	return i
}

// sourceBuilder collects line references per source kind.
type sourceBuilder struct {
	gpio     lineAssigner[gpioLine]
	gpioEnc  []encoderLines
	gpioSw   []switchLine
	mcp      lineAssigner[mcpLine]
	mcpEnc   []encoderLines
	mcpSw    []switchLine
	evdev    map[evdevKey]evdevBinding
	evdevAny bool
}

func (b *sourceBuilder) line(l LineConfig) (kind string, idx int) {
	switch l.Source {
	case sourceGPIO:
		return sourceGPIO, b.gpio.assign(gpioLine{pin: l.Pin, activeLow: l.ActiveLow})
	case sourceMCP23017:
		return sourceMCP23017, b.mcp.assign(mcpLine{chip: l.chip(), bank: l.Bank, bit: l.Bit, activeLow: l.ActiveLow})
	}
	return l.Source, -1
}

func (b *sourceBuilder) addEncoder(i int, enc EncoderConfig) {
	kind, a := b.line(enc.CLK)
	_, bb := b.line(enc.DT)
	el := encoderLines{encoder: i, a: a, b: bb}
	switch kind {
	case sourceGPIO:
		b.gpioEnc = append(b.gpioEnc, el)
	case sourceMCP23017:
		b.mcpEnc = append(b.mcpEnc, el)
	}
}

func (b *sourceBuilder) addSwitch(ref SwitchRef, l LineConfig) {
	if l.Source == sourceEvdev {
		if b.evdev == nil {
			b.evdev = make(map[evdevKey]evdevBinding)
		}
		b.evdev[evdevKey{device: l.Device, code: uint16(l.Code)}] = evdevBinding{ref: ref, activeLow: l.ActiveLow}
		b.evdevAny = true
		return
	}
	kind, idx := b.line(l)
	sl := switchLine{ref: ref, line: idx}
	switch kind {
	case sourceGPIO:
		b.gpioSw = append(b.gpioSw, sl)
	case sourceMCP23017:
		b.mcpSw = append(b.mcpSw, sl)
	}
}

// buildSources turns the validated config into the set of sources to run.
// Sources with no lines are omitted.
func buildSources(cfg *Config, logger *slog.Logger) []SignalSource {
	var b sourceBuilder
	for i, enc := range cfg.Encoders {
		b.addEncoder(i, enc)
		if enc.Switch != nil {
			b.addSwitch(SwitchRef{Kind: EncoderSwitch, Index: i}, *enc.Switch)
		}
	}
	for i, btn := range cfg.Buttons {
		b.addSwitch(SwitchRef{Kind: StandaloneButton, Index: i}, btn.Line)
	}

	var out []SignalSource
	if len(b.gpio.keys) > 0 {
		src := newPollSource(sourceGPIO, ms(cfg.Inputs.GPIO.PollIntervalMS), newGPIOScanner(b.gpio.keys), logger)
		src.encoders, src.switches = b.gpioEnc, b.gpioSw
		out = append(out, src)
	}
	if len(b.mcp.keys) > 0 {
		scanner := newMCP23017Scanner(cfg.Inputs.I2C.Bus, b.mcp.keys, openI2C, logger)
		src := newPollSource(sourceMCP23017, ms(cfg.Inputs.I2C.PollIntervalMS), scanner, logger)
		src.encoders, src.switches = b.mcpEnc, b.mcpSw
		out = append(out, src)
	}
	if b.evdevAny {
		out = append(out, newEvdevSource(cfg.Inputs.Evdev.Devices, b.evdev, logger))
	}
	return out
}
