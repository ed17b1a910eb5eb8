package main

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Intent payloads (duplicated from the daemon for a standalone binary).

type slotData struct {
	Slot int `json:"slot"`
}

type rotateData struct {
	Slot      int `json:"slot"`
	Direction int `json:"direction"`
}

type directionData struct {
	Direction int `json:"direction"`
}

// IntentEnvelope wraps an intent for JSON
type IntentEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func newEnvelope(typ string, data any) (IntentEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return IntentEnvelope{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return IntentEnvelope{Type: typ, Data: raw}, nil
}

// parseDirection accepts cw|ccw, next|prev, up|down and +1|-1.
func parseDirection(s string) (int, error) {
	switch strings.ToLower(s) {
	case "cw", "next", "up", "+1", "1":
		return 1, nil
	case "ccw", "prev", "down", "-1":
		return -1, nil
	default:
		return 0, fmt.Errorf("invalid direction %q (want cw|ccw, next|prev or +1|-1)", s)
	}
}

func parseSlot(s string) (int, error) {
	slot, err := strconv.Atoi(s)
	if err != nil || slot < 0 {
		return 0, fmt.Errorf("invalid slot %q", s)
	}
	return slot, nil
}

// sendIntents writes each envelope on one connection and checks every reply.
func sendIntents(socketPath string, envs ...IntentEnvelope) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	for _, env := range envs {
		if err := enc.Encode(env); err != nil {
			return fmt.Errorf("send %s: %w", env.Type, err)
		}
		var resp IPCResponse
		if err := dec.Decode(&resp); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if resp.Status != "ok" {
			return fmt.Errorf("daemon error: %s", resp.Error)
		}
	}
	return nil
}
