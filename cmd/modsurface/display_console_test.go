package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderValue(t *testing.T) {
	out := renderValue(ValueView{
		Slot: 1, EffectLabel: "Reverb", Assigned: true,
		Name: "Wet", Unit: "dB", Value: 0.25, Known: true,
	})
	assert.Contains(t, out, "slot 1")
	assert.Contains(t, out, "Reverb")
	assert.Contains(t, out, "Wet  0.25 dB")

	assert.Contains(t, renderValue(ValueView{Assigned: true, Name: "Room", Label: "Small", Known: true}), "Room  Small")
	assert.Contains(t, renderValue(ValueView{Assigned: true, Name: "Gain"}), "Gain  ?")
	assert.NotContains(t, renderValue(ValueView{Slot: 2}), "?")
}

func TestRenderOverview_MarksSelection(t *testing.T) {
	v := OverviewView{
		Bank: 1, Banks: 3, Settled: true,
		List: pageList(entries(7), 6, 5),
	}
	out := renderOverview(v)
	assert.Contains(t, out, "bank 2/3")
	assert.Contains(t, out, "* G")
	assert.Contains(t, out, "  F")
	assert.Contains(t, out, "2/2")
	assert.NotContains(t, out, "loading")

	assert.Contains(t, renderOverview(OverviewView{List: pageList(nil, -1, 5)}), "no effects")
	assert.Contains(t, renderOverview(OverviewView{List: pageList(nil, -1, 5)}), "loading")
}

func TestConsoleDisplay_Writes(t *testing.T) {
	var buf bytes.Buffer
	d := newConsoleDisplay(&buf)

	d.ShowEditMenu(EditMenuView{Slot: 0, List: pageList([]MenuEntry{{ID: "", Label: "-"}, {ID: "gain", Label: "Gain"}}, 1, 5)})
	assert.Contains(t, buf.String(), "slot 0 edit")
	assert.Contains(t, buf.String(), "* Gain")

	buf.Reset()
	d.ShowValue(ValueView{Slot: 0})
	d.ShowOverview(OverviewView{})
	assert.Contains(t, buf.String(), "slot 0")
	assert.Contains(t, buf.String(), "effects")
}
