package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the modsurface daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume a
// well-formed config.
type Config struct {
	// Effect host (MOD) endpoints
	Host HostConfig `yaml:"host"`

	// Control core timing and step laws
	Surface SurfaceConfig `yaml:"surface"`

	// Physical controls. One encoder per slot, in slot order.
	Encoders []EncoderConfig `yaml:"encoders"`
	Buttons  []ButtonConfig  `yaml:"buttons,omitempty"`

	// Signal source settings
	Inputs InputsConfig `yaml:"inputs"`

	Store   StoreConfig   `yaml:"store"`
	Display DisplayConfig `yaml:"display"`
	IPC     IPCConfig     `yaml:"ipc"`
	Logging LoggingConfig `yaml:"logging"`
}

type HostConfig struct {
	WsURL     string `yaml:"ws_url"`
	RestURL   string `yaml:"rest_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type SurfaceConfig struct {
	StepDivisions     int `yaml:"step_divisions"`
	DebounceMS        int `yaml:"debounce_ms"`
	HoldMS            int `yaml:"hold_ms"`
	SettleMS          int `yaml:"settle_ms"`
	DisplayCoalesceMS int `yaml:"display_coalesce_ms"`
	OverviewPageSize  int `yaml:"overview_page_size"`

	FastSpin FastSpinFileConfig `yaml:"fast_spin"`
}

// FastSpinFileConfig is the YAML form of FastSpinConfig.
type FastSpinFileConfig struct {
	WindowMS   int     `yaml:"window_ms"`
	Threshold  int     `yaml:"threshold"`
	Multiplier float64 `yaml:"multiplier"`
}

// Signal source kinds a line can come from.
const (
	sourceGPIO     = "gpio"
	sourceMCP23017 = "mcp23017"
	sourceEvdev    = "evdev"
)

// LineConfig references one digital input line.
//
//	gpio:     pin (BCM number)
//	mcp23017: address, bank (A|B), bit, optional mux_address + mux_channel (TCA9548A)
//	evdev:    device, code (EV_KEY code; switches only)
type LineConfig struct {
	Source string `yaml:"source"`

	Pin int `yaml:"pin,omitempty"`

	Address    int    `yaml:"address,omitempty"`
	Bank       string `yaml:"bank,omitempty"`
	Bit        int    `yaml:"bit,omitempty"`
	MuxAddress int    `yaml:"mux_address,omitempty"`
	MuxChannel int    `yaml:"mux_channel,omitempty"`

	Device string `yaml:"device,omitempty"`
	Code   int    `yaml:"code,omitempty"`

	// ActiveLow reports a low electrical level as true.
	ActiveLow bool `yaml:"active_low,omitempty"`
}

type EncoderConfig struct {
	CLK    LineConfig  `yaml:"clk"`
	DT     LineConfig  `yaml:"dt"`
	Switch *LineConfig `yaml:"switch,omitempty"`
	Invert bool        `yaml:"invert,omitempty"`
}

// Button actions
const (
	actionEffectNext = "effect_next"
	actionEffectPrev = "effect_prev"
	actionBankNext   = "bank_next"
	actionBankPrev   = "bank_prev"
)

var buttonActions = []string{actionEffectNext, actionEffectPrev, actionBankNext, actionBankPrev}

// ButtonConfig binds a standalone switch to surface-level actions.
type ButtonConfig struct {
	Line  LineConfig `yaml:"line"`
	Click string     `yaml:"click"`
	Held  string     `yaml:"held,omitempty"`
}

type InputsConfig struct {
	GPIO  GPIOInputConfig  `yaml:"gpio"`
	I2C   I2CInputConfig   `yaml:"i2c"`
	Evdev EvdevInputConfig `yaml:"evdev"`
}

type GPIOInputConfig struct {
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

type I2CInputConfig struct {
	Bus            int `yaml:"bus"`
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

type EvdevInputConfig struct {
	Devices []string `yaml:"devices,omitempty"`
}

type StoreConfig struct {
	// Path of the sqlite file. "" or ":memory:" keeps state in memory only.
	Path string `yaml:"path"`
}

type DisplayConfig struct {
	Console    bool   `yaml:"console"`
	HTTPListen string `yaml:"http_listen"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
//
// The default controls are one GPIO encoder (clk 22, dt 23) and an effect_next
// button on pin 24.
func DefaultConfig() Config {
	return Config{
		Host: HostConfig{
			WsURL:     defaultHostWsURL,
			RestURL:   defaultHostRestURL,
			TimeoutMS: defaultHostTimeoutMS,
		},
		Surface: SurfaceConfig{
			StepDivisions:     defaultStepDivisions,
			DebounceMS:        int(defaultDebounceWindow / time.Millisecond),
			HoldMS:            int(defaultHoldDuration / time.Millisecond),
			SettleMS:          int(defaultSettleDuration / time.Millisecond),
			DisplayCoalesceMS: int(defaultDisplayCoalesce / time.Millisecond),
			OverviewPageSize:  defaultOverviewPageSize,
			FastSpin: FastSpinFileConfig{
				WindowMS:   defaultFastSpinWindowMS,
				Threshold:  defaultFastSpinThreshold,
				Multiplier: defaultFastSpinMultiplier,
			},
		},
		Encoders: []EncoderConfig{{
			CLK: LineConfig{Source: sourceGPIO, Pin: 22},
			DT:  LineConfig{Source: sourceGPIO, Pin: 23},
		}},
		Buttons: []ButtonConfig{{
			Line:  LineConfig{Source: sourceGPIO, Pin: 24, ActiveLow: true},
			Click: actionEffectNext,
		}},
		Inputs: InputsConfig{
			GPIO: GPIOInputConfig{PollIntervalMS: defaultGPIOPollMS},
			I2C:  I2CInputConfig{Bus: defaultI2CBus, PollIntervalMS: defaultI2CPollMS},
		},
		Store: StoreConfig{
			Path: defaultStorePath,
		},
		Display: DisplayConfig{
			Console:    false,
			HTTPListen: defaultHTTPListen,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - The file must be valid YAML.
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
//   - A file that sets encoders replaces the default encoder list entirely.
//     The same holds for buttons.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags should pass pointers; each override is only applied if the pointer is non-nil.
// main.go decides which flags exist.
type FlagOverrides struct {
	HostWsURL     *string
	HostRestURL   *string
	HostTimeoutMS *int

	StepDivisions *int
	SettleMS      *int

	StorePath      *string
	DisplayConsole *bool
	HTTPListen     *string
	IPCSocketPath  *string

	LogLevel *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a "zero value").
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.HostWsURL != nil {
		cfg.Host.WsURL = *o.HostWsURL
	}
	if o.HostRestURL != nil {
		cfg.Host.RestURL = *o.HostRestURL
	}
	if o.HostTimeoutMS != nil {
		cfg.Host.TimeoutMS = *o.HostTimeoutMS
	}

	if o.StepDivisions != nil {
		cfg.Surface.StepDivisions = *o.StepDivisions
	}
	if o.SettleMS != nil {
		cfg.Surface.SettleMS = *o.SettleMS
	}

	if o.StorePath != nil {
		cfg.Store.Path = *o.StorePath
	}
	if o.DisplayConsole != nil {
		cfg.Display.Console = *o.DisplayConsole
	}
	if o.HTTPListen != nil {
		cfg.Display.HTTPListen = *o.HTTPListen
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Host
	if c.Host.WsURL == "" {
		return errors.New("host.ws_url must not be empty")
	}
	if u, err := url.Parse(c.Host.WsURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("host.ws_url %q must be a ws:// or wss:// URL", c.Host.WsURL)
	}
	if c.Host.RestURL == "" {
		return errors.New("host.rest_url must not be empty")
	}
	if u, err := url.Parse(c.Host.RestURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("host.rest_url %q must be an http:// or https:// URL", c.Host.RestURL)
	}
	if c.Host.TimeoutMS <= 0 {
		return errors.New("host.timeout_ms must be > 0")
	}

	// Surface
	s := c.Surface
	if s.StepDivisions <= 0 {
		return errors.New("surface.step_divisions must be > 0")
	}
	if s.DebounceMS <= 0 {
		return errors.New("surface.debounce_ms must be > 0")
	}
	if s.HoldMS <= 0 {
		return errors.New("surface.hold_ms must be > 0")
	}
	if s.SettleMS <= 0 {
		return errors.New("surface.settle_ms must be > 0")
	}
	if s.DisplayCoalesceMS <= 0 {
		return errors.New("surface.display_coalesce_ms must be > 0")
	}
	if s.OverviewPageSize <= 0 {
		return errors.New("surface.overview_page_size must be > 0")
	}
	if s.FastSpin.Multiplier < 1 {
		return errors.New("surface.fast_spin.multiplier must be >= 1")
	}
	if s.FastSpin.Multiplier > 1 && (s.FastSpin.WindowMS <= 0 || s.FastSpin.Threshold <= 0) {
		return errors.New("surface.fast_spin.window_ms and threshold must be > 0 when multiplier > 1")
	}

	// Inputs
	if c.Inputs.GPIO.PollIntervalMS <= 0 {
		return errors.New("inputs.gpio.poll_interval_ms must be > 0")
	}
	if c.Inputs.I2C.PollIntervalMS <= 0 {
		return errors.New("inputs.i2c.poll_interval_ms must be > 0")
	}
	if c.Inputs.I2C.Bus < 0 {
		return errors.New("inputs.i2c.bus must be >= 0")
	}
	for i, dev := range c.Inputs.Evdev.Devices {
		if dev == "" {
			return fmt.Errorf("inputs.evdev.devices[%d] is empty", i)
		}
	}

	// Controls
	if len(c.Encoders) == 0 {
		return errors.New("encoders must not be empty")
	}
	for i, enc := range c.Encoders {
		field := fmt.Sprintf("encoders[%d]", i)
		if err := c.validateLine(field+".clk", enc.CLK, false); err != nil {
			return err
		}
		if err := c.validateLine(field+".dt", enc.DT, false); err != nil {
			return err
		}
		if enc.CLK.Source != enc.DT.Source {
			return fmt.Errorf("%s: clk and dt must use the same source", field)
		}
		if enc.CLK.Source == sourceMCP23017 && enc.CLK.chip() != enc.DT.chip() {
			return fmt.Errorf("%s: clk and dt must be on the same mcp23017 chip", field)
		}
		if enc.Switch != nil {
			if err := c.validateLine(field+".switch", *enc.Switch, true); err != nil {
				return err
			}
		}
	}
	for i, btn := range c.Buttons {
		field := fmt.Sprintf("buttons[%d]", i)
		if err := c.validateLine(field+".line", btn.Line, true); err != nil {
			return err
		}
		if !slices.Contains(buttonActions, btn.Click) {
			return fmt.Errorf("%s.click must be one of %v", field, buttonActions)
		}
		if btn.Held != "" && !slices.Contains(buttonActions, btn.Held) {
			return fmt.Errorf("%s.held must be one of %v", field, buttonActions)
		}
	}

	// Display
	if c.Display.HTTPListen == "" && !c.Display.Console {
		return errors.New("display: enable console or set http_listen")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

func (c *Config) validateLine(field string, l LineConfig, isSwitch bool) error {
	switch l.Source {
	case sourceGPIO:
		if l.Pin < 0 || l.Pin > 53 {
			return fmt.Errorf("%s.pin %d out of range 0..53", field, l.Pin)
		}
	case sourceMCP23017:
		if l.Address < 0x20 || l.Address > 0x27 {
			return fmt.Errorf("%s.address 0x%02x out of range 0x20..0x27", field, l.Address)
		}
		if l.Bank != "A" && l.Bank != "B" {
			return fmt.Errorf("%s.bank must be A or B", field)
		}
		if l.Bit < 0 || l.Bit > 7 {
			return fmt.Errorf("%s.bit %d out of range 0..7", field, l.Bit)
		}
		if l.MuxAddress != 0 {
			if l.MuxAddress < 0x70 || l.MuxAddress > 0x77 {
				return fmt.Errorf("%s.mux_address 0x%02x out of range 0x70..0x77", field, l.MuxAddress)
			}
			if l.MuxChannel < 0 || l.MuxChannel > 7 {
				return fmt.Errorf("%s.mux_channel %d out of range 0..7", field, l.MuxChannel)
			}
		}
	case sourceEvdev:
		if !isSwitch {
			return fmt.Errorf("%s: evdev lines can only be switches", field)
		}
		if !slices.Contains(c.Inputs.Evdev.Devices, l.Device) {
			return fmt.Errorf("%s.device %q is not listed in inputs.evdev.devices", field, l.Device)
		}
		if l.Code <= 0 {
			return fmt.Errorf("%s.code must be > 0", field)
		}
	default:
		return fmt.Errorf("%s.source must be one of %s, %s, %s", field, sourceGPIO, sourceMCP23017, sourceEvdev)
	}
	return nil
}

// mcpChip identifies one MCP23017, including the mux channel in front of it.
type mcpChip struct {
	Address    int
	MuxAddress int
	MuxChannel int
}

func (l LineConfig) chip() mcpChip {
	c := mcpChip{Address: l.Address, MuxAddress: l.MuxAddress}
	if l.MuxAddress != 0 {
		c.MuxChannel = l.MuxChannel
	}
	return c
}

// RouterConfig converts the surface section into the control router's config.
func (c *Config) RouterConfig() RouterConfig {
	s := c.Surface
	return RouterConfig{
		SlotCount:        len(c.Encoders),
		StepDivisions:    s.StepDivisions,
		Settle:           ms(s.SettleMS),
		DisplayCoalesce:  ms(s.DisplayCoalesceMS),
		OverviewPageSize: s.OverviewPageSize,
		FastSpin: FastSpinConfig{
			Window:     ms(s.FastSpin.WindowMS),
			Threshold:  s.FastSpin.Threshold,
			Multiplier: s.FastSpin.Multiplier,
		},
	}
}

// DebounceConfig converts the surface section into switch classifier timing.
func (c *Config) DebounceConfig() DebounceConfig {
	return DebounceConfig{
		Window: ms(c.Surface.DebounceMS),
		Hold:   ms(c.Surface.HoldMS),
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ExpandPath expands a leading "~" in a path using $HOME.
// This is handy for config values like store.path.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
