//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

type evdevKey struct {
	device string
	code   uint16
}

type evdevBinding struct {
	ref       SwitchRef
	activeLow bool
}

// evdevSource reads EV_KEY events from gpio-keys style input devices.
type evdevSource struct {
	devices  []string
	bindings map[evdevKey]evdevBinding
	logger   *slog.Logger

	// epoll_wait timeout, so ctx cancellation is noticed.
	waitMS int
}

func newEvdevSource(devices []string, bindings map[evdevKey]evdevBinding, logger *slog.Logger) *evdevSource {
	return &evdevSource{devices: devices, bindings: bindings, logger: logger, waitMS: 100}
}

func (s *evdevSource) Name() string { return sourceEvdev }

func (s *evdevSource) Run(ctx context.Context, out chan<- Sample) error {
	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, dev := range s.devices {
		f, err := os.Open(dev)
		if err != nil {
			return fmt.Errorf("open input device %s: %w", dev, err)
		}
		files = append(files, f)
	}
	s.logger.Info("signal source started", "source", sourceEvdev, "devices", len(files), "switches", len(s.bindings))
	return s.readLoop(ctx, files, out)
}

// sample maps one event to a switch sample. Repeats and unbound codes are dropped.
func (s *evdevSource) sample(device string, ev inputEvent) (SwitchSample, bool) {
	if ev.Type != EV_KEY || ev.Value == evValueRepeat {
		return SwitchSample{}, false
	}
	b, ok := s.bindings[evdevKey{device: device, code: ev.Code}]
	if !ok {
		return SwitchSample{}, false
	}
	pressed := ev.Value == evValuePress
	return SwitchSample{Switch: b.ref, Pressed: pressed != b.activeLow, At: time.Now()}, true
}

// readLoop multiplexes all device files with epoll. Any device error or hangup
// ends the loop with an error.
func (s *evdevSource) readLoop(ctx context.Context, files []*os.File, out chan<- Sample) error {
	if len(files) == 0 {
		return errors.New("no input devices provided")
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	// Map file descriptors to files for later identification
	fdToFile := make(map[int]*os.File)

	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			return fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, binary.Size(inputEvent{}))
	reader := bytes.NewReader(buf)

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := unix.EpollWait(epfd, epollEvents, s.waitMS)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			if epollEvents[i].Events&unix.EPOLLIN == 0 && epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				return fmt.Errorf("device error/hangup: %s (fd=%d)", f.Name(), fd)
			}

			if _, err := io.ReadFull(f, buf); err != nil {
				return fmt.Errorf("read from %s: %w", f.Name(), err)
			}

			reader.Reset(buf)
			var ev inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
				// Skip malformed events
				continue
			}

			smp, ok := s.sample(f.Name(), ev)
			if !ok {
				continue
			}
			select {
			case out <- smp:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
