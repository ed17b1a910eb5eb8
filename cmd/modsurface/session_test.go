package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sessionWith(ids ...string) *EffectSession {
	s := newEffectSession()
	for _, id := range ids {
		s.Add(id, "urn:"+id)
	}
	return s
}

func TestEffectSession_AddSelectsFirst(t *testing.T) {
	s := newEffectSession()
	assert.True(t, s.Add("/graph/a", "urn:a"))
	assert.False(t, s.Add("/graph/b", "urn:b"))
	assert.Equal(t, "/graph/a", s.SelectedID())
	assert.Equal(t, 2, s.Len())
}

func TestEffectSession_DuplicateAddReplacesURI(t *testing.T) {
	s := sessionWith("a")
	s.SetParam("a", "gain", 3)

	assert.False(t, s.Add("a", "urn:other"))
	e, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "urn:other", e.URI)
	assert.Empty(t, e.Values)
	assert.Equal(t, 1, s.Len())
}

func TestEffectSession_SetParam(t *testing.T) {
	s := sessionWith("a")
	assert.True(t, s.SetParam("a", "gain", 0.5))
	assert.False(t, s.SetParam("missing", "gain", 0.5))

	e, _ := s.Get("a")
	assert.Equal(t, 0.5, e.Values["gain"])
}

func TestEffectSession_RemoveSelectedAdvances(t *testing.T) {
	s := sessionWith("a", "b", "c")

	assert.True(t, s.Remove("a"))
	assert.Equal(t, "b", s.SelectedID())

	// Removing the last entry while selected wraps to the first.
	s.Select("c")
	assert.True(t, s.Remove("c"))
	assert.Equal(t, "b", s.SelectedID())
}

func TestEffectSession_RemoveMiddleSelected(t *testing.T) {
	s := sessionWith("a", "b", "c")
	s.Select("b")
	assert.True(t, s.Remove("b"))
	assert.Equal(t, "c", s.SelectedID())
}

func TestEffectSession_RemoveUnselectedKeepsSelection(t *testing.T) {
	s := sessionWith("a", "b")
	assert.False(t, s.Remove("b"))
	assert.Equal(t, "a", s.SelectedID())
	assert.False(t, s.Remove("nope"))
}

func TestEffectSession_RemoveLast(t *testing.T) {
	s := sessionWith("a")
	assert.True(t, s.Remove("a"))
	assert.Equal(t, "", s.SelectedID())
	_, ok := s.Selected()
	assert.False(t, ok)
}

func TestEffectSession_Clear(t *testing.T) {
	s := sessionWith("a", "b")
	assert.True(t, s.Clear())
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Clear())
}

func TestEffectSession_AdvanceWraps(t *testing.T) {
	s := sessionWith("a", "b", "c")

	assert.True(t, s.Advance(1))
	assert.Equal(t, "b", s.SelectedID())
	assert.True(t, s.Advance(2))
	assert.Equal(t, "a", s.SelectedID())
	assert.True(t, s.Advance(-1))
	assert.Equal(t, "c", s.SelectedID())

	assert.False(t, newEffectSession().Advance(1))
}

func TestEffectSession_EnsureSelection(t *testing.T) {
	s := newEffectSession()
	assert.False(t, s.EnsureSelection())

	s.effects = append(s.effects, &EffectInstance{ID: "x", Values: map[string]float64{}})
	assert.True(t, s.EnsureSelection())
	assert.Equal(t, "x", s.SelectedID())
	assert.False(t, s.EnsureSelection())
}

func TestEffectSession_SettleIsOneWay(t *testing.T) {
	s := newEffectSession()
	assert.Equal(t, SessionPriming, s.Phase())
	assert.True(t, s.markSettled())
	assert.False(t, s.markSettled())
	assert.Equal(t, SessionSettled, s.Phase())
	assert.Equal(t, "settled", s.Phase().String())
}

func TestWrapIndex(t *testing.T) {
	assert.Equal(t, 0, wrapIndex(3, 3))
	assert.Equal(t, 2, wrapIndex(-1, 3))
	assert.Equal(t, 1, wrapIndex(-5, 3))
	assert.Equal(t, 0, wrapIndex(4, 0))
}
