//go:build !linux

package main

import (
	"context"
	"errors"
	"log/slog"
)

type evdevKey struct {
	device string
	code   uint16
}

type evdevBinding struct {
	ref       SwitchRef
	activeLow bool
}

// evdevSource is only available on Linux.
type evdevSource struct{}

func newEvdevSource([]string, map[evdevKey]evdevBinding, *slog.Logger) *evdevSource {
	return &evdevSource{}
}

func (s *evdevSource) Name() string { return sourceEvdev }

func (s *evdevSource) Run(context.Context, chan<- Sample) error {
	return errors.New("evdev input requires linux")
}
