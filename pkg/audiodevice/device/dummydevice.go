package device

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------------
// SilenceCaptureDevice

// A capture handle producing digital silence at a fixed frame rate while started.
//
// Backs the silence media device, so calls without a microphone still send a stream.
type SilenceCaptureDevice struct {
	logger        *slog.Logger
	id            string
	format        mediaformat.Format
	frameDuration time.Duration

	mu         sync.Mutex
	connected  bool
	stop       chan struct{}
	done       chan struct{}
	sinkStream chan frame.PCMFrame

	shutdownOnce sync.Once
}

func NewSilenceCaptureDevice(f mediaformat.Format, frameDuration time.Duration) *SilenceCaptureDevice {
	id := uuid.NewString()
	return &SilenceCaptureDevice{
		logger:        slog.Default().With("silence device uuid", id),
		id:            id,
		format:        f,
		frameDuration: frameDuration,
		sinkStream:    make(chan frame.PCMFrame, 1),
	}
}

func (d *SilenceCaptureDevice) ID() string                       { return d.id }
func (d *SilenceCaptureDevice) MediaType() mediaformat.MediaType { return mediaformat.Audio }
func (d *SilenceCaptureDevice) Format() mediaformat.Format       { return d.format }

func (d *SilenceCaptureDevice) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *SilenceCaptureDevice) Disconnect() {
	d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
}

func (d *SilenceCaptureDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return engine.ErrWrongState
	}
	if d.stop != nil {
		return nil
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.generate(d.stop, d.done)
	return nil
}

func (d *SilenceCaptureDevice) Stop() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (d *SilenceCaptureDevice) generate(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	samples := d.format.Properties.SamplesPerFrame(d.frameDuration)
	ticker := time.NewTicker(d.frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case d.sinkStream <- make(frame.PCMFrame, samples):
			default:
				d.logger.Debug("silence frame dropped, no reader")
			}
		}
	}
}

// AudioSourceDevice interface

func (d *SilenceCaptureDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *SilenceCaptureDevice) Close() {
	d.Stop()
	d.shutdownOnce.Do(func() {
		close(d.sinkStream)
	})
}

func (d *SilenceCaptureDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.format.Properties
}

// --------------------------------------------------------------------------------
// DummyAudioSinkDevice

// A renderer that consumes all frames without any further actions.
type DummyAudioSinkDevice struct {
	properties audiodevice.DeviceProperties

	mu       sync.Mutex
	started  bool
	received int
}

func NewDummyAudioSinkDevice(properties audiodevice.DeviceProperties) *DummyAudioSinkDevice {
	return &DummyAudioSinkDevice{
		properties: properties,
	}
}

func (d *DummyAudioSinkDevice) Name() string { return "dummy" }

func (d *DummyAudioSinkDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *DummyAudioSinkDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

func (d *DummyAudioSinkDevice) Close() {
	d.Stop()
}

func (d *DummyAudioSinkDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Number of frames consumed so far.
func (d *DummyAudioSinkDevice) Received() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received
}

func (d *DummyAudioSinkDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	go func() {
		for range sourceStream {
			d.mu.Lock()
			d.received++
			d.mu.Unlock()
		}
	}()
}

func (d *DummyAudioSinkDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
