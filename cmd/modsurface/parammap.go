package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Persisted paths.
const (
	storeKeyCurrentEffect = "currentEffectId"
	storeKeyParamMap      = "rotary_param_map"
)

// ParamMapping assigns a parameter symbol to each logical slot.
// An empty string is the unassigned sentinel; it is persisted as JSON null.
type ParamMapping []string

// At returns the symbol at logical slot i, or "" when unassigned or out of range.
func (m ParamMapping) At(i int) string {
	if i < 0 || i >= len(m) {
		return ""
	}
	return m[i]
}

// withLen returns m padded with unassigned entries so index n-1 is addressable.
func (m ParamMapping) withLen(n int) ParamMapping {
	if len(m) >= n {
		return m
	}
	out := make(ParamMapping, n)
	copy(out, m)
	return out
}

func (m ParamMapping) MarshalJSON() ([]byte, error) {
	raw := make([]*string, len(m))
	for i := range m {
		if m[i] != "" {
			s := m[i]
			raw[i] = &s
		}
	}
	return json.Marshal(raw)
}

func (m *ParamMapping) UnmarshalJSON(b []byte) error {
	var raw []*string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(ParamMapping, len(raw))
	for i, s := range raw {
		if s != nil {
			out[i] = *s
		}
	}
	*m = out
	return nil
}

// defaultMapping is the natural control order of a definition.
func defaultMapping(def *EffectDefinition) ParamMapping {
	return ParamMapping(def.Symbols())
}

// ParamMapStore reads and writes the persisted surface state on top of a KVStore.
type ParamMapStore struct {
	kv     KVStore
	logger *slog.Logger
}

func NewParamMapStore(kv KVStore, logger *slog.Logger) *ParamMapStore {
	return &ParamMapStore{kv: kv, logger: logger}
}

// Load returns the mapping for a definition uri. If none is stored it is lazily
// initialised to the definition's natural control order and persisted.
func (s *ParamMapStore) Load(def *EffectDefinition) (ParamMapping, error) {
	var m ParamMapping
	ok, err := s.kv.Get([]string{storeKeyParamMap, def.URI}, &m)
	if err != nil {
		return nil, fmt.Errorf("load mapping %s: %w", def.URI, err)
	}
	if ok {
		return m, nil
	}

	m = defaultMapping(def)
	if err := s.Save(def.URI, m); err != nil {
		// Mapping still usable for this session.
		s.logger.Warn("could not persist default mapping", "uri", def.URI, "error", err)
	}
	return m, nil
}

// Save persists the mapping for a definition uri.
func (s *ParamMapStore) Save(uri string, m ParamMapping) error {
	if err := s.kv.Set([]string{storeKeyParamMap, uri}, m); err != nil {
		return fmt.Errorf("save mapping %s: %w", uri, err)
	}
	return nil
}

// CurrentEffectID returns the persisted selection.
func (s *ParamMapStore) CurrentEffectID() (string, bool) {
	var id string
	ok, err := s.kv.Get([]string{storeKeyCurrentEffect}, &id)
	if err != nil {
		s.logger.Warn("could not read persisted effect id", "error", err)
		return "", false
	}
	return id, ok && id != ""
}

// SetCurrentEffectID persists the selection.
func (s *ParamMapStore) SetCurrentEffectID(id string) error {
	if err := s.kv.Set([]string{storeKeyCurrentEffect}, id); err != nil {
		return fmt.Errorf("save current effect id: %w", err)
	}
	return nil
}
