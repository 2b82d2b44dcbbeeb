package loopback

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var opusMono = mediaformat.NewAudioFormat(mediaformat.CodecMap["CodecOpus48000Mono"])

func collect(p engine.Pipeline) <-chan engine.Event {
	events := make(chan engine.Event, 16)
	p.AddListener(func(ev engine.Event) { events <- ev })
	return events
}

func next(t *testing.T, events <-chan engine.Event) engine.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for pipeline event")
		return engine.Event{}
	}
}

func TestProcessorLifecycle(t *testing.T) {
	e := New()
	capture := NewCapture("mic", opusMono)
	require.NoError(t, capture.Connect())

	p, err := e.NewProcessor(capture, opusMono)
	require.NoError(t, err)
	events := collect(p)

	_, err = p.SetFormat(opusMono)
	assert.ErrorIs(t, err, engine.ErrWrongState, "format is only settable once configured")

	require.NoError(t, p.Configure())
	ev := next(t, events)
	assert.Equal(t, engine.EventConfigureComplete, ev.Kind)
	assert.Same(t, p, ev.Source.(*Pipeline))
	assert.Equal(t, engine.Configured, p.State())

	require.NoError(t, p.SetContentDescriptor(engine.ContentTypeRawRTP))
	negotiated, err := p.SetFormat(opusMono)
	require.NoError(t, err)
	assert.True(t, negotiated.Equal(opusMono))

	assert.ErrorIs(t, p.Start(), engine.ErrWrongState, "start requires realize")
	require.NoError(t, p.Realize())
	assert.Equal(t, engine.EventRealizeComplete, next(t, events).Kind)

	require.NoError(t, capture.Start())
	require.NoError(t, p.Start())
	assert.Equal(t, engine.EventStarted, next(t, events).Kind)

	require.True(t, capture.Push(frame.PCMFrame{0.5, -0.5}))
	select {
	case packet := <-p.Output():
		assert.Equal(t, uint8(2), packet.Version)
		require.Len(t, packet.Payload, 4)
		assert.Equal(t, uint16(16383), binary.BigEndian.Uint16(packet.Payload))
	case <-time.After(time.Second):
		require.FailNow(t, "no packet produced")
	}

	require.NoError(t, p.Stop())
	assert.Equal(t, engine.EventStopped, next(t, events).Kind)
	assert.Equal(t, engine.Prefetched, p.State())

	p.Close()
	ev = next(t, events)
	assert.Equal(t, engine.EventClosed, ev.Kind)
	assert.True(t, ev.Expected)
	assert.Equal(t, engine.Closed, p.State())
	p.Close()
}

func TestCloseUnexpectedly(t *testing.T) {
	e := New()
	p, err := e.NewProcessor(NewCapture("mic", opusMono), opusMono)
	require.NoError(t, err)
	events := collect(p)

	p.(*Pipeline).CloseUnexpectedly()
	ev := next(t, events)
	assert.Equal(t, engine.EventClosed, ev.Kind)
	assert.False(t, ev.Expected)
}

func TestStalledConfigure(t *testing.T) {
	e := New()
	e.Stall(true)
	p, err := e.NewProcessor(NewCapture("mic", opusMono), opusMono)
	require.NoError(t, err)
	events := collect(p)

	require.NoError(t, p.Configure())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, engine.Configuring, p.State())

	p.(*Pipeline).CompleteConfigure()
	assert.Equal(t, engine.EventConfigureComplete, next(t, events).Kind)
}

func TestNegotiator(t *testing.T) {
	e := New(WithNegotiator(func(f mediaformat.Format) (mediaformat.Format, error) {
		if f.Codec.MimeType != opusMono.Codec.MimeType {
			return mediaformat.Format{}, engine.ErrNotSupported
		}
		return opusMono, nil
	}))
	p, err := e.NewProcessor(NewCapture("mic", opusMono), mediaformat.Format{})
	require.NoError(t, err)
	events := collect(p)
	require.NoError(t, p.Configure())
	next(t, events)

	_, err = p.SetFormat(mediaformat.NewAudioFormat(mediaformat.CodecMap["CodecPCMU8000Mono"]))
	assert.ErrorIs(t, err, engine.ErrNotSupported)

	negotiated, err := p.SetFormat(mediaformat.Format{MediaType: mediaformat.Audio, Codec: opusMono.Codec})
	require.NoError(t, err)
	assert.True(t, negotiated.Equal(opusMono))
	f, ok := p.Format()
	assert.True(t, ok)
	assert.True(t, f.Equal(opusMono))
}

type recordingSink struct {
	started, stopped int
	frames           chan frame.PCMFrame
}

func (r *recordingSink) Name() string { return "recording" }
func (r *recordingSink) Start() error { r.started++; return nil }
func (r *recordingSink) Stop() error  { r.stopped++; return nil }
func (r *recordingSink) Close()       {}
func (r *recordingSink) SetStream(stream <-chan frame.PCMFrame) {
	go func() {
		for f := range stream {
			r.frames <- f
		}
	}()
}
func (r *recordingSink) GetDeviceProperties() audiodevice.DeviceProperties {
	return opusMono.Properties
}

func TestPlayerFeedsRenderer(t *testing.T) {
	e := New()
	remote := NewCapture("remote", opusMono)
	require.NoError(t, remote.Connect())
	require.NoError(t, remote.Start())

	p, err := e.NewPlayer(remote)
	require.NoError(t, err)
	events := collect(p)
	assert.True(t, p.(*Pipeline).IsPlayer())
	assert.Len(t, e.Players(), 1)
	assert.Empty(t, e.Processors())

	require.NoError(t, p.Configure())
	next(t, events)

	sink := &recordingSink{frames: make(chan frame.PCMFrame, 1)}
	require.Len(t, p.Tracks(), 1)
	require.NoError(t, p.Tracks()[0].SetRenderer(sink))
	require.NoError(t, p.SetContentDescriptor(""))
	require.NoError(t, p.Realize())
	next(t, events)
	require.NoError(t, p.Start())
	assert.Equal(t, 1, sink.started)

	remote.Push(frame.PCMFrame{0.25})
	select {
	case f := <-sink.frames:
		assert.Equal(t, frame.PCMFrame{0.25}, f)
	case <-time.After(time.Second):
		require.FailNow(t, "renderer never received a frame")
	}

	p.Close()
	assert.Equal(t, 1, sink.stopped)
}

func TestCaptureRejectsDoubleConnect(t *testing.T) {
	c := NewCapture("mic", opusMono)
	require.NoError(t, c.Connect())
	assert.ErrorIs(t, c.Connect(), ErrAlreadyConnected)
	c.Disconnect()
	require.NoError(t, c.Connect())
	assert.Equal(t, 2, c.Connects())
	assert.Equal(t, 1, c.Disconnects())
}
