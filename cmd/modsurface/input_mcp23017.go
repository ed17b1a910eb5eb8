package main

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/davecheney/i2c"
)

// MCP23017 registers (IOCON.BANK = 0, sequential addressing).
const (
	mcpIODIRA = 0x00
	mcpGPPUA  = 0x0C
	mcpGPIOA  = 0x12
)

// i2cDevice is one addressed device on a bus.
type i2cDevice interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

type i2cOpener func(addr uint8, bus int) (i2cDevice, error)

func openI2C(addr uint8, bus int) (i2cDevice, error) {
	d, err := i2c.New(addr, bus)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// mcpLine is one bit of one expander port.
type mcpLine struct {
	chip      mcpChip
	bank      string
	bit       int
	activeLow bool
}

// tca9548a is an 8-channel I2C mux. The selected channel is cached so that
// repeated reads behind the same channel skip the select write.
type tca9548a struct {
	dev     i2cDevice
	current int
}

func (m *tca9548a) selectChannel(ch int) error {
	if m.current == ch {
		return nil
	}
	if _, err := m.dev.Write([]byte{byte(1 << ch)}); err != nil {
		m.current = -1
		return fmt.Errorf("tca9548a select channel %d: %w", ch, err)
	}
	m.current = ch
	return nil
}

type mcpDevice struct {
	chip mcpChip
	dev  i2cDevice
	mux  *tca9548a
	// Last GPIOA/GPIOB snapshot.
	ports [2]byte
}

// mcp23017Scanner reads every configured expander as inputs with pull-ups.
// Each chip is read with one two-byte GPIOA+GPIOB transaction.
type mcp23017Scanner struct {
	bus    int
	lines  []mcpLine
	open   i2cOpener
	logger *slog.Logger

	chips []*mcpDevice
	byKey map[mcpChip]int
	muxes map[int]*tca9548a
}

func newMCP23017Scanner(bus int, lines []mcpLine, open i2cOpener, logger *slog.Logger) *mcp23017Scanner {
	return &mcp23017Scanner{bus: bus, lines: lines, open: open, logger: logger}
}

func (s *mcp23017Scanner) Lines() int { return len(s.lines) }

func (s *mcp23017Scanner) Open() error {
	s.byKey = make(map[mcpChip]int)
	s.muxes = make(map[int]*tca9548a)

	// Pull-up masks per chip, GPPUA and GPPUB.
	pullups := make(map[mcpChip]*[2]byte)
	for _, l := range s.lines {
		if _, ok := s.byKey[l.chip]; !ok {
			s.byKey[l.chip] = len(s.chips)
			s.chips = append(s.chips, &mcpDevice{chip: l.chip})
			pullups[l.chip] = &[2]byte{}
		}
		pullups[l.chip][portIndex(l.bank)] |= 1 << l.bit
	}

	for _, c := range s.chips {
		if c.chip.MuxAddress != 0 {
			mux, err := s.mux(c.chip.MuxAddress)
			if err != nil {
				s.Close()
				return err
			}
			c.mux = mux
			if err := mux.selectChannel(c.chip.MuxChannel); err != nil {
				s.Close()
				return err
			}
		}

		dev, err := s.open(uint8(c.chip.Address), s.bus)
		if err != nil {
			s.Close()
			return fmt.Errorf("open mcp23017 0x%02x: %w", c.chip.Address, err)
		}
		c.dev = dev

		pu := pullups[c.chip]
		if _, err := dev.Write([]byte{mcpIODIRA, 0xFF, 0xFF}); err != nil {
			s.Close()
			return fmt.Errorf("mcp23017 0x%02x: set inputs: %w", c.chip.Address, err)
		}
		if _, err := dev.Write([]byte{mcpGPPUA, pu[0], pu[1]}); err != nil {
			s.Close()
			return fmt.Errorf("mcp23017 0x%02x: set pull-ups: %w", c.chip.Address, err)
		}
		s.logger.Debug("mcp23017 configured",
			"address", fmt.Sprintf("0x%02x", c.chip.Address),
			"mux", fmt.Sprintf("0x%02x", c.chip.MuxAddress),
			"channel", c.chip.MuxChannel,
		)
	}
	return nil
}

func (s *mcp23017Scanner) mux(addr int) (*tca9548a, error) {
	if m, ok := s.muxes[addr]; ok {
		return m, nil
	}
	dev, err := s.open(uint8(addr), s.bus)
	if err != nil {
		return nil, fmt.Errorf("open tca9548a 0x%02x: %w", addr, err)
	}
	m := &tca9548a{dev: dev, current: -1}
	s.muxes[addr] = m
	return m, nil
}

func (s *mcp23017Scanner) Scan(levels []bool) error {
	var buf [2]byte
	for _, c := range s.chips {
		if c.mux != nil {
			if err := c.mux.selectChannel(c.chip.MuxChannel); err != nil {
				return err
			}
		}
		if _, err := c.dev.Write([]byte{mcpGPIOA}); err != nil {
			return fmt.Errorf("mcp23017 0x%02x: select GPIOA: %w", c.chip.Address, err)
		}
		n, err := c.dev.Read(buf[:])
		if err != nil {
			return fmt.Errorf("mcp23017 0x%02x: read ports: %w", c.chip.Address, err)
		}
		if n != len(buf) {
			return fmt.Errorf("mcp23017 0x%02x: short read (%d bytes)", c.chip.Address, n)
		}
		c.ports = buf
	}

	for i, l := range s.lines {
		c := s.chips[s.byKey[l.chip]]
		high := c.ports[portIndex(l.bank)]&(1<<l.bit) != 0
		levels[i] = high != l.activeLow
	}
	return nil
}

func (s *mcp23017Scanner) Close() error {
	var errs []error
	for _, c := range s.chips {
		if c.dev != nil {
			errs = append(errs, c.dev.Close())
			c.dev = nil
		}
	}
	addrs := make([]int, 0, len(s.muxes))
	for a := range s.muxes {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)
	for _, a := range addrs {
		errs = append(errs, s.muxes[a].dev.Close())
	}
	s.chips, s.muxes = nil, nil
	return errors.Join(errs...)
}

func portIndex(bank string) int {
	if bank == "B" {
		return 1
	}
	return 0
}
