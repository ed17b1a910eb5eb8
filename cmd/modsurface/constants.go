package main

import "time"

// Linux input event types (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Control core timing defaults
const (
	defaultDebounceWindow  = 50 * time.Millisecond
	defaultHoldDuration    = 300 * time.Millisecond
	defaultSettleDuration  = 1000 * time.Millisecond
	defaultDisplayCoalesce = 750 * time.Millisecond

	// Number of rotation steps that span a linear or logarithmic range.
	defaultStepDivisions = 20
)

// Fast-spin defaults. A multiplier of 1 leaves step sizes unchanged.
const (
	defaultFastSpinWindowMS   = 200
	defaultFastSpinThreshold  = 3
	defaultFastSpinMultiplier = 1.0
)

// Collaborator defaults
const (
	defaultHostWsURL        = "ws://127.0.0.1:8888/websocket"
	defaultHostRestURL      = "http://127.0.0.1:8888"
	defaultHostTimeoutMS    = 2000
	defaultGPIOPollMS       = 1
	defaultI2CPollMS        = 2
	defaultI2CBus           = 1
	defaultStorePath        = "/var/lib/modsurface/state.db"
	defaultIPCSocketPath    = "/tmp/modsurface.sock"
	defaultHTTPListen       = ":8090"
	defaultConfigPath       = "/etc/modsurface/config.yml"
	defaultEnvFilePath      = "/etc/modsurface/modsurface.env"
	defaultOverviewPageSize = 5
)

// Heartbeat-class host messages never touch the startup settle timer.
var heartbeatCommands = map[string]struct{}{
	"stats":     {},
	"ping":      {},
	"sys_stats": {},
}
