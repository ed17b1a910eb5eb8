//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInputEvent(t *testing.T, w *os.File, ev inputEvent) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, ev))
	_, err := w.Write(buf.Bytes())
	require.NoError(t, err)
}

func TestEvdevSource_Sample(t *testing.T) {
	ref := SwitchRef{Kind: StandaloneButton, Index: 1}
	src := newEvdevSource(nil, map[evdevKey]evdevBinding{
		{device: "/dev/input/event1", code: 28}:  {ref: ref},
		{device: "/dev/input/event1", code: 103}: {ref: SwitchRef{}, activeLow: true},
	}, discardLogger())

	s, ok := src.sample("/dev/input/event1", inputEvent{Type: EV_KEY, Code: 28, Value: evValuePress})
	require.True(t, ok)
	assert.Equal(t, ref, s.Switch)
	assert.True(t, s.Pressed)

	s, ok = src.sample("/dev/input/event1", inputEvent{Type: EV_KEY, Code: 28, Value: evValueRelease})
	require.True(t, ok)
	assert.False(t, s.Pressed)

	s, ok = src.sample("/dev/input/event1", inputEvent{Type: EV_KEY, Code: 103, Value: evValueRelease})
	require.True(t, ok)
	assert.True(t, s.Pressed, "active-low binding inverts")

	_, ok = src.sample("/dev/input/event1", inputEvent{Type: EV_KEY, Code: 28, Value: evValueRepeat})
	assert.False(t, ok, "autorepeat ignored")
	_, ok = src.sample("/dev/input/event1", inputEvent{Type: EV_SYN})
	assert.False(t, ok)
	_, ok = src.sample("/dev/input/event2", inputEvent{Type: EV_KEY, Code: 28, Value: evValuePress})
	assert.False(t, ok, "other device")
}

func TestEvdevSource_ReadLoop(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	ref := SwitchRef{Kind: EncoderSwitch, Index: 0}
	src := newEvdevSource(nil, map[evdevKey]evdevBinding{
		{device: r.Name(), code: 28}: {ref: ref},
	}, discardLogger())
	src.waitMS = 10

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Sample, 4)
	done := make(chan error, 1)
	go func() { done <- src.readLoop(ctx, []*os.File{r}, out) }()

	writeInputEvent(t, w, inputEvent{Type: EV_KEY, Code: 30, Value: evValuePress})
	writeInputEvent(t, w, inputEvent{Type: EV_KEY, Code: 28, Value: evValuePress})
	writeInputEvent(t, w, inputEvent{Type: EV_SYN})

	select {
	case s := <-out:
		sw := s.(SwitchSample)
		assert.Equal(t, ref, sw.Switch)
		assert.True(t, sw.Pressed)
	case <-time.After(time.Second):
		t.Fatal("no sample")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("readLoop did not stop")
	}
	assert.Empty(t, out)
}

func TestEvdevSource_NoDevices(t *testing.T) {
	src := newEvdevSource(nil, nil, discardLogger())
	assert.Error(t, src.readLoop(context.Background(), nil, make(chan Sample)))
}
