package main

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// gpioLine is one BCM pin.
type gpioLine struct {
	pin       int
	activeLow bool
}

// gpioPins abstracts the memory-mapped GPIO block so the scanner can be tested
// off a Pi.
type gpioPins interface {
	Open() error
	Close() error
	SetupInput(pin int)
	High(pin int) bool
}

// rpioPins drives the BCM GPIO block through /dev/gpiomem.
type rpioPins struct{}

func (rpioPins) Open() error  { return rpio.Open() }
func (rpioPins) Close() error { return rpio.Close() }

func (rpioPins) SetupInput(pin int) {
	p := rpio.Pin(pin)
	p.Input()
	p.PullUp()
}

func (rpioPins) High(pin int) bool { return rpio.Pin(pin).Read() == rpio.High }

// gpioScanner reads BCM pins with internal pull-ups enabled.
type gpioScanner struct {
	lines []gpioLine
	pins  gpioPins
}

func newGPIOScanner(lines []gpioLine) *gpioScanner {
	return &gpioScanner{lines: lines, pins: rpioPins{}}
}

func (s *gpioScanner) Open() error {
	if err := s.pins.Open(); err != nil {
		return fmt.Errorf("open gpio: %w", err)
	}
	for _, l := range s.lines {
		s.pins.SetupInput(l.pin)
	}
	return nil
}

func (s *gpioScanner) Lines() int { return len(s.lines) }

func (s *gpioScanner) Scan(levels []bool) error {
	for i, l := range s.lines {
		levels[i] = s.pins.High(l.pin) != l.activeLow
	}
	return nil
}

func (s *gpioScanner) Close() error { return s.pins.Close() }
