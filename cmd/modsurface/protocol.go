package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ============================================================================
// Host protocol - space delimited text frames
// ============================================================================
// Inbound (host -> surface):
//   add <effectId> <definitionUri> <x> <y>
//   param_set <effectId> <symbol> <value>
//   remove <effectId> | remove :all
//   stats | ping | sys_stats ...   (heartbeat class)
//
// Outbound (surface -> host):
//   param_set <effectId>/<symbol> <value>
// ============================================================================

// removeAll is the remove target that clears the whole registry.
const removeAll = ":all"

// HostMessage is a parsed inbound frame.
type HostMessage interface {
	hostMessageMarker()
}

// HostAdd announces a new effect instance.
type HostAdd struct {
	EffectID string
	URI      string
}

func (HostAdd) hostMessageMarker() {}

// HostParamSet reports a parameter value for an effect instance.
type HostParamSet struct {
	EffectID string
	Symbol   string
	Value    float64
}

func (HostParamSet) hostMessageMarker() {}

// HostRemove removes one instance, or all of them when EffectID is ":all".
type HostRemove struct {
	EffectID string
}

func (HostRemove) hostMessageMarker() {}

// All reports whether this remove clears the registry.
func (r HostRemove) All() bool { return r.EffectID == removeAll }

// HostHeartbeat is a stats/ping style frame. It carries no state for the core.
type HostHeartbeat struct {
	Command string
}

func (HostHeartbeat) hostMessageMarker() {}

// HostOther is any other frame. It still counts as activity for the settle timer.
type HostOther struct {
	Command string
	Args    []string
}

func (HostOther) hostMessageMarker() {}

// ParseHostMessage parses one inbound text frame.
// Unknown commands parse as HostOther; malformed known commands return an error.
func ParseHostMessage(line string) (HostMessage, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty host message")
	}
	cmd, args := fields[0], fields[1:]

	if _, ok := heartbeatCommands[cmd]; ok {
		return HostHeartbeat{Command: cmd}, nil
	}

	switch cmd {
	case "add":
		// x/y placement is ignored.
		if len(args) < 2 {
			return nil, fmt.Errorf("add: expected <effectId> <uri>, got %d args", len(args))
		}
		return HostAdd{EffectID: args[0], URI: args[1]}, nil

	case "param_set":
		if len(args) < 3 {
			return nil, fmt.Errorf("param_set: expected <effectId> <symbol> <value>, got %d args", len(args))
		}
		v, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return nil, fmt.Errorf("param_set %s %s: parse value %q: %w", args[0], args[1], args[2], err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("param_set %s %s: non-finite value %q", args[0], args[1], args[2])
		}
		return HostParamSet{EffectID: args[0], Symbol: args[1], Value: v}, nil

	case "remove":
		if len(args) < 1 {
			return nil, fmt.Errorf("remove: missing effect id")
		}
		return HostRemove{EffectID: args[0]}, nil

	default:
		return HostOther{Command: cmd, Args: args}, nil
	}
}

// FormatParamSet renders the outbound parameter update frame.
func FormatParamSet(effectID, symbol string, value float64) string {
	return fmt.Sprintf("param_set %s/%s %s", effectID, symbol, strconv.FormatFloat(value, 'f', -1, 64))
}
