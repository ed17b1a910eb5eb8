package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// One goroutine owns the Surface, the decoders and the classifiers. Everything
// else talks to it through channels:
//   - samples from signal sources
//   - text lines from the host websocket
//   - intents from IPC
//   - posted closures (timer fires, definition fetch results, snapshot requests)
//
// Blocking I/O never runs on the loop except the host Send, which has a write
// deadline.
//
// ============================================================================

// definitionFetcher loads an effect definition by uri.
type definitionFetcher interface {
	Fetch(ctx context.Context, uri string) (*EffectDefinition, error)
}

// DaemonDeps are the collaborators of the daemon loop.
type DaemonDeps struct {
	Config      *Config
	Host        HostSender
	Definitions definitionFetcher
	Store       KVStore
	Display     DisplaySink
	Logger      *slog.Logger
}

type daemon struct {
	logger  *slog.Logger
	surface *Surface
	inputs  *controlInputs
	defs    *definitionCache
	fetcher definitionFetcher

	// uris with a fetch in flight
	fetching map[string]struct{}

	samples   chan Sample
	hostLines chan string
	intents   chan Intent
	posts     chan func()
	stopped   chan struct{}

	// fetchCtx is cancelled when Run returns.
	fetchCtx    context.Context
	fetchCancel context.CancelFunc
}

// newDaemon wires the surface and the control inputs. Nothing runs until Run.
func newDaemon(deps DaemonDeps) *daemon {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fetchCtx, fetchCancel := context.WithCancel(context.Background())

	d := &daemon{
		logger:      logger,
		defs:        newDefinitionCache(),
		fetcher:     deps.Definitions,
		fetching:    make(map[string]struct{}),
		samples:     make(chan Sample, 256),
		hostLines:   make(chan string, 256),
		intents:     make(chan Intent, 32),
		posts:       make(chan func(), 64),
		stopped:     make(chan struct{}),
		fetchCtx:    fetchCtx,
		fetchCancel: fetchCancel,
	}

	clock := loopClock{post: d.post}
	d.surface = NewSurface(deps.Config.RouterConfig(), SurfaceDeps{
		Definitions: d.defs,
		Maps:        NewParamMapStore(deps.Store, logger),
		Host:        deps.Host,
		Display:     deps.Display,
		Clock:       clock,
		Logger:      logger,
	})
	d.inputs = newControlInputs(deps.Config, clock, d.surface.Dispatch, logger)
	return d
}

// post runs f on the loop. It drops f once the loop has stopped.
func (d *daemon) post(f func()) {
	select {
	case d.posts <- f:
	case <-d.stopped:
	}
}

// Samples is where signal sources send line changes.
func (d *daemon) Samples() chan<- Sample { return d.samples }

// Intents is where IPC sends intents.
func (d *daemon) Intents() chan<- Intent { return d.intents }

// DeliverHostLine queues one inbound host frame. It blocks while the queue is full.
func (d *daemon) DeliverHostLine(line string) {
	select {
	case d.hostLines <- line:
	case <-d.stopped:
	}
}

var errDaemonStopped = errors.New("daemon stopped")

// Snapshot fetches the surface snapshot through the loop.
func (d *daemon) Snapshot(ctx context.Context) (SurfaceSnapshot, error) {
	reply := make(chan SurfaceSnapshot, 1)
	select {
	case d.posts <- func() { reply <- d.surface.Snapshot() }:
	case <-d.stopped:
		return SurfaceSnapshot{}, errDaemonStopped
	case <-ctx.Done():
		return SurfaceSnapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-d.stopped:
		return SurfaceSnapshot{}, errDaemonStopped
	case <-ctx.Done():
		return SurfaceSnapshot{}, ctx.Err()
	}
}

// Run is the daemon loop. It exits when ctx is canceled.
func (d *daemon) Run(ctx context.Context) error {
	defer close(d.stopped)
	defer d.fetchCancel()

	d.logger.Info("daemon starting", "slots", d.surface.SlotCount())

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping (context canceled)")
			return nil

		case f := <-d.posts:
			f()

		case s := <-d.samples:
			d.inputs.Handle(s)

		case in := <-d.intents:
			d.surface.Dispatch(in)

		case line := <-d.hostLines:
			d.handleHostLine(line)
		}
	}
}

func (d *daemon) handleHostLine(line string) {
	msg, err := ParseHostMessage(line)
	if err != nil {
		d.logger.Warn("malformed host message", "line", line, "error", err)
		return
	}
	d.surface.Ingest(msg)

	if add, ok := msg.(HostAdd); ok {
		d.ensureDefinition(add.URI)
	}
}

// ensureDefinition starts a fetch for uri unless it is cached or in flight.
func (d *daemon) ensureDefinition(uri string) {
	if _, ok := d.defs.Definition(uri); ok {
		return
	}
	if _, ok := d.fetching[uri]; ok || d.fetcher == nil {
		return
	}
	d.fetching[uri] = struct{}{}

	go func() {
		start := time.Now()
		def, err := d.fetcher.Fetch(d.fetchCtx, uri)
		d.post(func() {
			delete(d.fetching, uri)
			if err != nil {
				d.logger.Warn("effect definition fetch failed", "uri", uri, "error", err)
				return
			}
			d.defs.Put(def)
			d.logger.Debug("effect definition loaded",
				"uri", uri,
				"params", len(def.Parameters),
				"took", time.Since(start),
			)
			d.surface.DefinitionLoaded(uri)
		})
	}()
}

// ============================================================================
// Control inputs: samples -> decoders / classifiers -> intents
// ============================================================================

type switchInput struct {
	classifier *DebounceClassifier
	click      Intent
	held       Intent // nil: held is ignored
}

// controlInputs owns one decoder per encoder and one classifier per switch.
// Loop-owned.
type controlInputs struct {
	decoders []*QuadratureDecoder
	switches map[SwitchRef]*switchInput
	dispatch func(Intent)
	logger   *slog.Logger
}

func newControlInputs(cfg *Config, clock Clock, dispatch func(Intent), logger *slog.Logger) *controlInputs {
	c := &controlInputs{
		switches: make(map[SwitchRef]*switchInput),
		dispatch: dispatch,
		logger:   logger,
	}
	dc := cfg.DebounceConfig()

	for i, enc := range cfg.Encoders {
		c.decoders = append(c.decoders, NewQuadratureDecoder(enc.Invert))
		if enc.Switch != nil {
			c.addSwitch(SwitchRef{Kind: EncoderSwitch, Index: i}, dc, clock, ClickIntent{Slot: i}, HeldIntent{Slot: i})
		}
	}
	for i, btn := range cfg.Buttons {
		c.addSwitch(SwitchRef{Kind: StandaloneButton, Index: i}, dc, clock, actionIntent(btn.Click), actionIntent(btn.Held))
	}
	return c
}

func (c *controlInputs) addSwitch(ref SwitchRef, dc DebounceConfig, clock Clock, click, held Intent) {
	si := &switchInput{click: click, held: held}
	si.classifier = NewDebounceClassifier(dc, clock, func(ButtonEvent) {
		if si.held != nil {
			c.dispatch(si.held)
		}
	})
	c.switches[ref] = si
}

// actionIntent maps a button action name to its intent. "" maps to nil.
func actionIntent(action string) Intent {
	switch action {
	case actionEffectNext:
		return EffectIntent{Direction: Clockwise}
	case actionEffectPrev:
		return EffectIntent{Direction: CounterClockwise}
	case actionBankNext:
		return BankIntent{Direction: Clockwise}
	case actionBankPrev:
		return BankIntent{Direction: CounterClockwise}
	default:
		return nil
	}
}

// Handle feeds one sample to its decoder or classifier and dispatches any result.
func (c *controlInputs) Handle(s Sample) {
	switch s := s.(type) {
	case EncoderSample:
		if s.Encoder < 0 || s.Encoder >= len(c.decoders) {
			c.logger.Debug("sample for unknown encoder", "encoder", s.Encoder)
			return
		}
		if dir, ok := c.decoders[s.Encoder].Check(s.A, s.B); ok {
			c.dispatch(RotateIntent{Slot: s.Encoder, Direction: dir})
		}

	case SwitchSample:
		si, ok := c.switches[s.Switch]
		if !ok {
			c.logger.Debug("sample for unknown switch", "switch", s.Switch)
			return
		}
		if ev, ok := si.classifier.Check(s.Pressed, s.At); ok && ev == ButtonClick && si.click != nil {
			c.dispatch(si.click)
		}
	}
}
