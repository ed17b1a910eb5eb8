package main

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"
)

// ============================================================================
// Surface - control router
// ============================================================================
// Surface owns the per-slot modes, the bank and the working parameter mapping
// for the selected effect. It turns intents into parameter changes and
// display refresh requests, and ingests host messages into the session.
//
// Every method must be called from the daemon loop goroutine.
// ============================================================================

// Mode is the per-slot interaction mode.
type Mode int

const (
	ModeControl Mode = iota // rotation changes the mapped parameter
	ModeEdit                // rotation changes which parameter is mapped
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "control"
}

// HostSender delivers outbound protocol frames to the effect host.
type HostSender interface {
	Send(text string) error
}

// RouterConfig holds the surface policy.
type RouterConfig struct {
	// SlotCount is the number of physical encoders.
	SlotCount int
	// StepDivisions is the number of detents spanning a linear or log range.
	StepDivisions int

	Settle          time.Duration
	DisplayCoalesce time.Duration
	FastSpin        FastSpinConfig

	OverviewPageSize int
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.SlotCount < 1 {
		c.SlotCount = 1
	}
	if c.StepDivisions <= 0 {
		c.StepDivisions = defaultStepDivisions
	}
	if c.Settle <= 0 {
		c.Settle = defaultSettleDuration
	}
	if c.DisplayCoalesce <= 0 {
		c.DisplayCoalesce = defaultDisplayCoalesce
	}
	if c.OverviewPageSize <= 0 {
		c.OverviewPageSize = defaultOverviewPageSize
	}
	return c
}

// SurfaceDeps are the collaborators injected into a Surface.
type SurfaceDeps struct {
	Definitions DefinitionLookup
	Maps        *ParamMapStore
	Host        HostSender
	Display     DisplaySink
	Clock       Clock
	Logger      *slog.Logger
}

type slotState struct {
	mode Mode

	// Edit mode: the candidate being chosen and the logical slot it will be
	// committed to. Captured when the slot entered Edit mode.
	pending string
	logical int

	spin *rotaryState
}

// Surface is the control router.
type Surface struct {
	cfg RouterConfig

	session *EffectSession
	defs    DefinitionLookup
	maps    *ParamMapStore
	host    HostSender
	display DisplaySink
	clock   Clock
	logger  *slog.Logger

	slots []slotState
	bank  int

	// Working mapping for mappingURI (the selected effect's definition).
	mapping    ParamMapping
	mappingURI string

	settle   timerSlot
	coalesce timerSlot
}

// NewSurface builds a surface in the Priming phase with no effects.
func NewSurface(cfg RouterConfig, deps SurfaceDeps) *Surface {
	cfg = cfg.withDefaults()
	if deps.Display == nil {
		deps.Display = nopDisplay{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Surface{
		cfg:      cfg,
		session:  newEffectSession(),
		defs:     deps.Definitions,
		maps:     deps.Maps,
		host:     deps.Host,
		display:  deps.Display,
		clock:    deps.Clock,
		logger:   deps.Logger,
		slots:    make([]slotState, cfg.SlotCount),
		settle:   newTimerSlot(deps.Clock),
		coalesce: newTimerSlot(deps.Clock),
	}
	for i := range s.slots {
		s.slots[i].spin = newRotaryState()
	}
	return s
}

// Session exposes the effect registry (read-only use).
func (s *Surface) Session() *EffectSession { return s.session }

// SlotCount returns the number of physical slots.
func (s *Surface) SlotCount() int { return s.cfg.SlotCount }

// Bank returns the current bank.
func (s *Surface) Bank() int { return s.bank }

// Mode returns the mode of a slot.
func (s *Surface) Mode(slot int) Mode {
	if slot < 0 || slot >= len(s.slots) {
		return ModeControl
	}
	return s.slots[slot].mode
}

// Dispatch routes an intent to the matching operation.
func (s *Surface) Dispatch(in Intent) {
	switch e := in.(type) {
	case RotateIntent:
		s.OnRotate(e.Slot, e.Direction)
	case ClickIntent:
		s.OnClick(e.Slot)
	case HeldIntent:
		s.OnHeld(e.Slot)
	case BankIntent:
		s.OnBankAdvance(e.Direction)
	case EffectIntent:
		s.OnEffectAdvance(e.Direction)
	default:
		s.logger.Debug("unhandled intent", "type", fmt.Sprintf("%T", in))
	}
}

// ============================================================================
// Lookups
// ============================================================================

func (s *Surface) validSlot(slot int) bool {
	if slot < 0 || slot >= len(s.slots) {
		s.logger.Debug("slot out of range", "slot", slot, "slots", len(s.slots))
		return false
	}
	return true
}

func (s *Surface) logical(slot int) int {
	return s.bank*s.cfg.SlotCount + slot
}

func (s *Surface) bankCount(def *EffectDefinition) int {
	if def == nil {
		return 1
	}
	n := (len(def.Parameters) + s.cfg.SlotCount - 1) / s.cfg.SlotCount
	return max(1, n)
}

// lookup resolves the selected instance and its definition, loading the working
// mapping when needed. It does not log.
func (s *Surface) lookup() (*EffectInstance, *EffectDefinition, bool) {
	inst, ok := s.session.Selected()
	if !ok {
		return nil, nil, false
	}
	def, ok := s.defs.Definition(inst.URI)
	if !ok {
		return inst, nil, false
	}
	s.ensureMapping(def)
	return inst, def, true
}

// target is lookup with the referential misses logged.
func (s *Surface) target() (*EffectInstance, *EffectDefinition, bool) {
	inst, def, ok := s.lookup()
	if !ok {
		if inst == nil {
			s.logger.Debug("no selected effect")
		} else {
			s.logger.Debug("effect definition not loaded", "effect", inst.ID, "uri", inst.URI)
		}
	}
	return inst, def, ok
}

func (s *Surface) ensureMapping(def *EffectDefinition) {
	if s.mappingURI == def.URI {
		return
	}
	m, err := s.maps.Load(def)
	if err != nil {
		s.logger.Warn("mapping load failed, using default order", "uri", def.URI, "error", err)
		m = defaultMapping(def)
	}
	s.mapping = m.withLen(s.bankCount(def) * s.cfg.SlotCount)
	s.mappingURI = def.URI
}

func (s *Surface) invalidateMapping() {
	s.mapping = nil
	s.mappingURI = ""
}

// currentValue returns the known value, else the default, else the minimum.
// A non-finite stored value counts as unknown.
func currentValue(inst *EffectInstance, pd *ParameterDescriptor) (float64, bool) {
	if v, ok := inst.Values[pd.Symbol]; ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v, true
	}
	if pd.HasDefault {
		return pd.Clamp(pd.Default), false
	}
	return pd.Minimum, false
}

// ============================================================================
// Operations
// ============================================================================

// OnRotate handles one detent on a physical slot.
func (s *Surface) OnRotate(slot int, dir RotaryDirection) {
	if !s.validSlot(slot) {
		return
	}
	st := &s.slots[slot]
	if st.mode == ModeEdit {
		s.cycleMapping(slot, dir)
		return
	}

	inst, def, ok := s.target()
	if !ok {
		return
	}
	logical := s.logical(slot)
	symbol := s.mapping.At(logical)
	if symbol == "" {
		s.logger.Debug("slot unassigned", "slot", slot, "logical", logical)
		return
	}
	pd, ok := def.Parameter(symbol)
	if !ok {
		s.logger.Debug("parameter not in definition", "uri", def.URI, "symbol", symbol)
		return
	}
	if pd.Maximum <= pd.Minimum {
		s.logger.Debug("parameter has empty range", "symbol", symbol, "min", pd.Minimum, "max", pd.Maximum)
		return
	}

	cur, _ := currentValue(inst, pd)
	scale := st.spin.stepScale(s.cfg.FastSpin, dir, s.clock.Now())
	next := snapToBounds(pd, pd.Clamp(stepValue(pd, cur, dir, s.cfg.StepDivisions, scale)))
	if next == cur {
		return
	}

	inst.Values[symbol] = next
	if err := s.host.Send(FormatParamSet(inst.ID, symbol, next)); err != nil {
		s.logger.Warn("param_set send failed", "effect", inst.ID, "symbol", symbol, "error", err)
	}
	s.display.ShowValue(s.valueView(slot))
}

// stepValue applies one detent of the descriptor's scaling law. The result is
// not clamped.
func stepValue(pd *ParameterDescriptor, cur float64, dir RotaryDirection, divisions int, scale float64) float64 {
	sign := float64(dir.Sign())

	switch {
	case pd.Enumeration() && len(pd.ScalePoints) > 0:
		i := nearestScalePoint(pd.ScalePoints, cur)
		j := min(max(i+dir.Sign(), 0), len(pd.ScalePoints)-1)
		return pd.ScalePoints[j].Value

	case pd.Logarithmic() && pd.Minimum > 0:
		base := cur
		if base <= 0 {
			base = pd.Minimum
		}
		step := (math.Log2(pd.Maximum) - math.Log2(pd.Minimum)) / float64(divisions)
		return math.Exp2(math.Log2(base) + step*scale*sign)

	default:
		step := (pd.Maximum - pd.Minimum) / float64(divisions)
		return cur + step*scale*sign
	}
}

// boundEpsilon is the fraction of the range within which a stepped value
// lands on the nearer bound.
const boundEpsilon = 1e-9

// snapToBounds moves v onto Minimum or Maximum when it is within floating
// point residue of either.
func snapToBounds(pd *ParameterDescriptor, v float64) float64 {
	tol := (pd.Maximum - pd.Minimum) * boundEpsilon
	switch {
	case v-pd.Minimum <= tol:
		return pd.Minimum
	case pd.Maximum-v <= tol:
		return pd.Maximum
	}
	return v
}

// nearestScalePoint returns the index of the point equal to v, or the closest one.
func nearestScalePoint(points []ScalePoint, v float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, p := range points {
		d := math.Abs(p.Value - v)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// cycleMapping moves the pending candidate of an Edit-mode slot through
// [unassigned, parameters by index...] with wraparound.
func (s *Surface) cycleMapping(slot int, dir RotaryDirection) {
	_, def, ok := s.target()
	if !ok {
		return
	}
	st := &s.slots[slot]

	candidates := append([]string{""}, def.Symbols()...)
	i := slices.Index(candidates, st.pending)
	if i < 0 {
		i = 0
	}
	st.pending = candidates[wrapIndex(i+dir.Sign(), len(candidates))]
	s.display.ShowEditMenu(s.editMenuView(slot, def))
}

// OnClick commits an Edit-mode slot's pending mapping and returns it to Control.
func (s *Surface) OnClick(slot int) {
	if !s.validSlot(slot) {
		return
	}
	st := &s.slots[slot]
	if st.mode != ModeEdit {
		s.logger.Debug("click ignored in control mode", "slot", slot)
		return
	}

	_, def, ok := s.target()
	if !ok {
		st.mode = ModeControl
		st.pending = ""
		return
	}

	s.mapping = s.mapping.withLen(st.logical + 1)
	s.mapping[st.logical] = st.pending
	if err := s.maps.Save(def.URI, s.mapping); err != nil {
		s.logger.Warn("mapping commit failed", "uri", def.URI, "error", err)
	} else {
		s.logger.Info("mapping committed", "uri", def.URI, "logical", st.logical, "symbol", st.pending)
	}

	st.mode = ModeControl
	st.pending = ""
	st.spin.reset()
	s.display.ShowValue(s.valueView(slot))
}

// OnHeld switches a Control-mode slot into Edit mode.
func (s *Surface) OnHeld(slot int) {
	if !s.validSlot(slot) {
		return
	}
	st := &s.slots[slot]
	if st.mode != ModeControl {
		s.logger.Debug("held ignored in edit mode", "slot", slot)
		return
	}

	_, def, ok := s.target()
	if !ok {
		return
	}
	st.mode = ModeEdit
	st.logical = s.logical(slot)
	st.pending = s.mapping.At(st.logical)
	s.display.ShowEditMenu(s.editMenuView(slot, def))
}

// OnBankAdvance moves the bank with wraparound over the selected effect's banks.
func (s *Surface) OnBankAdvance(dir RotaryDirection) {
	_, def, ok := s.target()
	if !ok {
		return
	}
	prev := s.bank
	cancelled := s.cancelEdits()
	s.bank = wrapIndex(s.bank+dir.Sign(), s.bankCount(def))
	if s.bank == prev && !cancelled {
		return
	}
	for i := range s.slots {
		s.slots[i].spin.reset()
	}
	s.refreshAll()
}

// OnEffectAdvance moves the selection over the live effects. The overview is
// shown immediately; the per-slot repaint is coalesced.
func (s *Surface) OnEffectAdvance(dir RotaryDirection) {
	if !s.session.Advance(dir.Sign()) {
		s.logger.Debug("no effects to advance over")
		return
	}
	s.selectionChanged()
	s.display.ShowOverview(s.overviewView())
	s.coalesce.Arm(s.cfg.DisplayCoalesce, s.refreshAll)
}

// cancelEdits returns every Edit-mode slot to Control without committing.
func (s *Surface) cancelEdits() bool {
	cancelled := false
	for i := range s.slots {
		if s.slots[i].mode == ModeEdit {
			s.slots[i].mode = ModeControl
			s.slots[i].pending = ""
			cancelled = true
		}
	}
	return cancelled
}

// selectionChanged resets per-selection state and persists the selection once settled.
func (s *Surface) selectionChanged() {
	s.cancelEdits()
	s.bank = 0
	s.invalidateMapping()
	for i := range s.slots {
		s.slots[i].spin.reset()
	}

	if s.session.Phase() != SessionSettled {
		return
	}
	id := s.session.SelectedID()
	if id == "" {
		return
	}
	if err := s.maps.SetCurrentEffectID(id); err != nil {
		s.logger.Warn("could not persist selection", "effect", id, "error", err)
	}
}

// ============================================================================
// Host ingestion
// ============================================================================

// Ingest applies one parsed host message.
func (s *Surface) Ingest(msg HostMessage) {
	if _, ok := msg.(HostHeartbeat); ok {
		return
	}
	if s.session.Phase() == SessionPriming {
		s.settle.Arm(s.cfg.Settle, s.onSettled)
	}
	settled := s.session.Phase() == SessionSettled

	switch m := msg.(type) {
	case HostAdd:
		_, existed := s.session.Get(m.EffectID)
		changed := s.session.Add(m.EffectID, m.URI)
		if existed && m.EffectID == s.session.SelectedID() {
			changed = true
		}
		if changed {
			s.selectionChanged()
		}
		if !settled {
			return
		}
		if changed {
			s.refreshAll()
		} else {
			s.display.ShowOverview(s.overviewView())
		}

	case HostParamSet:
		if !s.session.SetParam(m.EffectID, m.Symbol, m.Value) {
			s.logger.Debug("param_set for unknown effect", "effect", m.EffectID, "symbol", m.Symbol)
			return
		}
		if settled && m.EffectID == s.session.SelectedID() {
			s.refreshParam(m.Symbol)
		}

	case HostRemove:
		var changed bool
		if m.All() {
			changed = s.session.Clear()
		} else {
			if _, ok := s.session.Get(m.EffectID); !ok {
				s.logger.Debug("remove for unknown effect", "effect", m.EffectID)
				return
			}
			changed = s.session.Remove(m.EffectID)
		}
		if changed {
			s.selectionChanged()
		}
		if !settled {
			return
		}
		if changed {
			s.refreshAll()
		} else {
			s.display.ShowOverview(s.overviewView())
		}

	case HostOther:
		s.logger.Debug("host message ignored", "command", m.Command)
	}
}

// onSettled runs once when the startup burst has gone quiet.
func (s *Surface) onSettled() {
	if !s.session.markSettled() {
		return
	}

	restored := false
	if id, ok := s.maps.CurrentEffectID(); ok {
		restored = s.session.Select(id)
	}
	if !restored {
		s.session.EnsureSelection()
	}
	s.selectionChanged()

	s.logger.Info("host state settled",
		"effects", s.session.Len(),
		"selected", s.session.SelectedID(),
		"restored", restored,
	)
	s.refreshAll()
}

// DefinitionLoaded is called after a definition for uri was added to the lookup.
func (s *Surface) DefinitionLoaded(uri string) {
	if s.session.Phase() != SessionSettled {
		return
	}
	inst, ok := s.session.Selected()
	if !ok || inst.URI != uri {
		s.display.ShowOverview(s.overviewView())
		return
	}
	s.invalidateMapping()
	s.refreshAll()
}

// refreshParam repaints Control-mode slots currently showing symbol.
func (s *Surface) refreshParam(symbol string) {
	if _, _, ok := s.lookup(); !ok {
		return
	}
	for i := range s.slots {
		if s.slots[i].mode != ModeControl {
			continue
		}
		if s.mapping.At(s.logical(i)) == symbol {
			s.display.ShowValue(s.valueView(i))
		}
	}
}

// refreshAll repaints the overview and every slot.
func (s *Surface) refreshAll() {
	s.coalesce.Cancel()
	s.display.ShowOverview(s.overviewView())
	_, def, _ := s.lookup()
	for i := range s.slots {
		if s.slots[i].mode == ModeEdit && def != nil {
			s.display.ShowEditMenu(s.editMenuView(i, def))
			continue
		}
		s.display.ShowValue(s.valueView(i))
	}
}

// ============================================================================
// Views
// ============================================================================

func (s *Surface) valueView(slot int) ValueView {
	v := ValueView{Slot: slot, Logical: s.logical(slot)}

	inst, def, ok := s.lookup()
	if inst != nil {
		v.EffectID = inst.ID
	}
	if !ok {
		return v
	}
	v.EffectLabel = def.Label

	pd, ok := def.Parameter(s.mapping.At(v.Logical))
	if !ok {
		return v
	}
	v.Assigned = true
	v.Symbol = pd.Symbol
	v.Name = pd.DisplayName()
	v.Unit = pd.Unit
	v.Minimum = pd.Minimum
	v.Maximum = pd.Maximum
	v.Value, v.Known = currentValue(inst, pd)
	if pd.Enumeration() && len(pd.ScalePoints) > 0 {
		v.Label = pd.ScalePoints[nearestScalePoint(pd.ScalePoints, v.Value)].Label
	}
	return v
}

func (s *Surface) editMenuView(slot int, def *EffectDefinition) EditMenuView {
	st := s.slots[slot]

	entries := make([]MenuEntry, 0, len(def.Parameters)+1)
	entries = append(entries, MenuEntry{ID: "", Label: "-"})
	marked := 0
	for i := range def.Parameters {
		p := &def.Parameters[i]
		entries = append(entries, MenuEntry{ID: p.Symbol, Label: p.DisplayName()})
		if p.Symbol == st.pending {
			marked = i + 1
		}
	}

	return EditMenuView{
		Slot:    slot,
		Logical: st.logical,
		Current: st.pending,
		List:    pageList(entries, marked, s.cfg.OverviewPageSize),
	}
}

func (s *Surface) overviewView() OverviewView {
	effects := s.session.Effects()
	entries := make([]MenuEntry, 0, len(effects))
	for _, e := range effects {
		label := e.ID
		if def, ok := s.defs.Definition(e.URI); ok && def.Label != "" {
			label = def.Label
		}
		entries = append(entries, MenuEntry{ID: e.ID, Label: label})
	}

	banks := 1
	if inst, ok := s.session.Selected(); ok {
		if def, ok := s.defs.Definition(inst.URI); ok {
			banks = s.bankCount(def)
		}
	}

	return OverviewView{
		SelectedID: s.session.SelectedID(),
		Bank:       s.bank,
		Banks:      banks,
		Settled:    s.session.Phase() == SessionSettled,
		List:       pageList(entries, s.session.SelectedIndex(), s.cfg.OverviewPageSize),
	}
}

// SlotSnapshot is the state of one physical slot.
type SlotSnapshot struct {
	Slot  int           `json:"slot"`
	Mode  string        `json:"mode"`
	Value *ValueView    `json:"value,omitempty"`
	Menu  *EditMenuView `json:"menu,omitempty"`
}

// SurfaceSnapshot is a copy of everything a display needs.
type SurfaceSnapshot struct {
	Phase      string         `json:"phase"`
	SelectedID string         `json:"selected_id,omitempty"`
	Bank       int            `json:"bank"`
	Overview   OverviewView   `json:"overview"`
	Slots      []SlotSnapshot `json:"slots"`
}

// Snapshot returns the current views. The result shares no memory with the surface.
func (s *Surface) Snapshot() SurfaceSnapshot {
	snap := SurfaceSnapshot{
		Phase:      s.session.Phase().String(),
		SelectedID: s.session.SelectedID(),
		Bank:       s.bank,
		Overview:   s.overviewView(),
		Slots:      make([]SlotSnapshot, len(s.slots)),
	}
	_, def, _ := s.lookup()
	for i := range s.slots {
		ss := SlotSnapshot{Slot: i, Mode: s.slots[i].mode.String()}
		if s.slots[i].mode == ModeEdit && def != nil {
			m := s.editMenuView(i, def)
			ss.Menu = &m
		} else {
			v := s.valueView(i)
			ss.Value = &v
		}
		snap.Slots[i] = ss
	}
	return snap
}
