package mixer

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
)

// One mix of a Mixer, usable as a capture handle.
//
// Mixed frames are fanned out, so every GetStream call gets its own stream.
// Muting only records the state, the mix keeps flowing.
type Output struct {
	id      string
	mixer   *Mixer
	exclude []string

	source chan frame.PCMFrame
	fanOut *device.FanOutDevice

	muted atomic.Bool

	mu        sync.Mutex
	connected bool
	started   bool
	closed    bool
}

func newOutput(id string, m *Mixer, exclude []string) *Output {
	out := &Output{
		id:      id,
		mixer:   m,
		exclude: slices.Clone(exclude),
		source:  make(chan frame.PCMFrame, 4),
		fanOut:  device.NewFanOutDevice(m.Properties()),
	}
	out.fanOut.SetStream(out.source)
	return out
}

func (o *Output) ID() string                       { return o.id }
func (o *Output) MediaType() mediaformat.MediaType { return mediaformat.Audio }
func (o *Output) Format() mediaformat.Format       { return o.mixer.Format() }

func (o *Output) Connect() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return engine.ErrWrongState
	}
	o.connected = true
	return nil
}

func (o *Output) Disconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected = false
	o.started = false
}

func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.connected {
		return engine.ErrWrongState
	}
	o.started = true
	return nil
}

func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = false
	return nil
}

func (o *Output) Connected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected
}

func (o *Output) GetStream() <-chan frame.PCMFrame {
	return o.fanOut.GetStream()
}

func (o *Output) SetMute(mute bool) { o.muted.Store(mute) }
func (o *Output) IsMute() bool      { return o.muted.Load() }

// Stop mixing into this output and close its streams.
func (o *Output) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.connected = false
	o.started = false
	close(o.source)
	o.mu.Unlock()

	o.mixer.removeOutput(o)
}

func (o *Output) excludes(owner string) bool {
	return slices.Contains(o.exclude, owner)
}

func (o *Output) push(f frame.PCMFrame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	select {
	case o.source <- f:
	default:
		o.mixer.logger.Debug("dropping mixed frame, output is full", "output", o.id)
	}
}
