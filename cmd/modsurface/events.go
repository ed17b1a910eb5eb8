package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Intents - discrete user actions
// ============================================================================
// Intents come from the hardware path (decoder/classifier output), from IPC
// and from surfacectl. All of them are routed by Surface.Dispatch on the
// daemon loop.
// ============================================================================

// Intent is a marker interface for all control-surface intents.
type Intent interface {
	intentMarker()
}

// RotateIntent is one encoder detent on a physical slot.
type RotateIntent struct {
	Slot      int             `json:"slot"`
	Direction RotaryDirection `json:"direction"` // +1 cw, -1 ccw
}

func (RotateIntent) intentMarker() {}

// ClickIntent is a short press on a slot's switch.
type ClickIntent struct {
	Slot int `json:"slot"`
}

func (ClickIntent) intentMarker() {}

// HeldIntent is a long press on a slot's switch.
type HeldIntent struct {
	Slot int `json:"slot"`
}

func (HeldIntent) intentMarker() {}

// BankIntent advances the bank.
type BankIntent struct {
	Direction RotaryDirection `json:"direction"`
}

func (BankIntent) intentMarker() {}

// EffectIntent advances the effect selection.
type EffectIntent struct {
	Direction RotaryDirection `json:"direction"`
}

func (EffectIntent) intentMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// IntentEnvelope wraps an intent with a type discriminator for JSON marshaling
type IntentEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalIntent deserializes a JSON envelope into a concrete Intent.
func UnmarshalIntent(data []byte) (Intent, error) {
	var env IntentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var (
		in  Intent
		err error
	)
	switch env.Type {
	case "rotate":
		var a RotateIntent
		err = unmarshalData(env.Data, &a)
		in = a
	case "click":
		var a ClickIntent
		err = unmarshalData(env.Data, &a)
		in = a
	case "held":
		var a HeldIntent
		err = unmarshalData(env.Data, &a)
		in = a
	case "bank":
		var a BankIntent
		err = unmarshalData(env.Data, &a)
		in = a
	case "effect":
		var a EffectIntent
		err = unmarshalData(env.Data, &a)
		in = a
	default:
		return nil, fmt.Errorf("unknown intent type: %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	if err := validateIntent(in); err != nil {
		return nil, err
	}
	return in, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// validateIntent rejects directions other than +1/-1.
func validateIntent(in Intent) error {
	var dir RotaryDirection
	switch e := in.(type) {
	case RotateIntent:
		dir = e.Direction
	case BankIntent:
		dir = e.Direction
	case EffectIntent:
		dir = e.Direction
	default:
		return nil
	}
	if dir != Clockwise && dir != CounterClockwise {
		return fmt.Errorf("invalid direction %d (want 1 or -1)", int(dir))
	}
	return nil
}

// MarshalIntent serializes an Intent into a JSON envelope.
func MarshalIntent(in Intent) ([]byte, error) {
	var env IntentEnvelope

	switch in.(type) {
	case RotateIntent:
		env.Type = "rotate"
	case ClickIntent:
		env.Type = "click"
	case HeldIntent:
		env.Type = "held"
	case BankIntent:
		env.Type = "bank"
	case EffectIntent:
		env.Type = "effect"
	default:
		return nil, fmt.Errorf("unsupported intent type: %T", in)
	}

	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	env.Data = data
	return json.Marshal(env)
}
