package main

// EffectInstance is one live effect on the host.
type EffectInstance struct {
	ID     string // graph id, e.g. "/graph/reverb_1"
	URI    string // effect definition identity
	Values map[string]float64
}

// SessionPhase is the ingestion state of the effect session.
type SessionPhase int

const (
	// SessionPriming: the host is still streaming its initial state.
	SessionPriming SessionPhase = iota
	// SessionSettled: the startup burst has been coalesced. Never left again.
	SessionSettled
)

func (p SessionPhase) String() string {
	if p == SessionSettled {
		return "settled"
	}
	return "priming"
}

// EffectSession is the registry of live effects plus the current selection.
// Insertion order matters: it is the advance order and the default selection order.
//
// It is owned by the daemon loop and only mutated there.
type EffectSession struct {
	effects  []*EffectInstance
	selected string
	phase    SessionPhase
}

func newEffectSession() *EffectSession {
	return &EffectSession{}
}

// Len returns the number of live effects.
func (s *EffectSession) Len() int { return len(s.effects) }

// Effects returns the live effects in insertion order. Callers must not mutate the slice.
func (s *EffectSession) Effects() []*EffectInstance { return s.effects }

// Phase returns the ingestion phase.
func (s *EffectSession) Phase() SessionPhase { return s.phase }

func (s *EffectSession) indexOf(id string) int {
	for i, e := range s.effects {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Get returns the live instance with the given id.
func (s *EffectSession) Get(id string) (*EffectInstance, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return nil, false
	}
	return s.effects[i], true
}

// Selected returns the currently selected instance, if it is live.
func (s *EffectSession) Selected() (*EffectInstance, bool) {
	if s.selected == "" {
		return nil, false
	}
	return s.Get(s.selected)
}

// SelectedID returns the selected identity (possibly empty).
func (s *EffectSession) SelectedID() string { return s.selected }

// SelectedIndex returns the position of the selection, or -1.
func (s *EffectSession) SelectedIndex() int {
	if s.selected == "" {
		return -1
	}
	return s.indexOf(s.selected)
}

// Add appends a new instance with no known values. It provisionally selects the
// instance when nothing is selected. A duplicate id replaces the uri in place.
// It returns true if the selection changed.
func (s *EffectSession) Add(id, uri string) bool {
	if e, ok := s.Get(id); ok {
		e.URI = uri
		e.Values = make(map[string]float64)
		return false
	}
	s.effects = append(s.effects, &EffectInstance{
		ID:     id,
		URI:    uri,
		Values: make(map[string]float64),
	})
	if _, ok := s.Selected(); !ok {
		s.selected = id
		return true
	}
	return false
}

// SetParam records a host-reported parameter value. It returns false if the
// instance is unknown.
func (s *EffectSession) SetParam(id, symbol string, value float64) bool {
	e, ok := s.Get(id)
	if !ok {
		return false
	}
	e.Values[symbol] = value
	return true
}

// Remove removes one instance. If it was selected, the selection advances by +1
// with wraparound, which is the entry that took its position. It returns true if
// the selection changed.
func (s *EffectSession) Remove(id string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	wasSelected := s.effects[i].ID == s.selected
	s.effects = append(s.effects[:i], s.effects[i+1:]...)
	if !wasSelected {
		return false
	}
	if len(s.effects) == 0 {
		s.selected = ""
		return true
	}
	s.selected = s.effects[i%len(s.effects)].ID
	return true
}

// Clear removes every instance. It returns true if something was selected.
func (s *EffectSession) Clear() bool {
	had := s.selected != ""
	s.effects = nil
	s.selected = ""
	return had
}

// Select points the selection at id if it is live.
func (s *EffectSession) Select(id string) bool {
	if s.indexOf(id) < 0 {
		return false
	}
	s.selected = id
	return true
}

// EnsureSelection makes sure the selection names a live entry, falling back to the
// first effect. It returns true if the selection changed.
func (s *EffectSession) EnsureSelection() bool {
	if _, ok := s.Selected(); ok {
		return false
	}
	prev := s.selected
	if len(s.effects) == 0 {
		s.selected = ""
	} else {
		s.selected = s.effects[0].ID
	}
	return s.selected != prev
}

// Advance moves the selection by steps with wraparound. It returns false when
// there are no effects.
func (s *EffectSession) Advance(steps int) bool {
	n := len(s.effects)
	if n == 0 {
		return false
	}
	i := s.SelectedIndex()
	if i < 0 {
		i = 0
	} else {
		i = wrapIndex(i+steps, n)
	}
	s.selected = s.effects[i].ID
	return true
}

// markSettled performs the one-way Priming -> Settled transition.
func (s *EffectSession) markSettled() bool {
	if s.phase == SessionSettled {
		return false
	}
	s.phase = SessionSettled
	return true
}

// wrapIndex maps i into [0, n) with wraparound for negative values.
func wrapIndex(i, n int) int {
	if n <= 0 {
		return 0
	}
	i %= n
	if i < 0 {
		i += n
	}
	return i
}
