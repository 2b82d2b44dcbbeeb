package device

import (
	"context"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
)

// A sink that rejects every frame for this long is removed and its stream closed.
const sinkTimeout = 5 * time.Second

// --------------------------------------------------------------------------------
// Fan Out Device (One to Many)

// A FanOutDevice is both an AudioSourceDevice and an AudioSinkDevice.
//
// Each call to GetStream creates a new output stream, and every frame
// arriving on the source stream is copied to all of them. Sinks that cannot
// accept a frame miss it, sinks that miss frames for sinkTimeout are removed.
type FanOutDevice struct {
	deviceProperties audiodevice.DeviceProperties

	// Cancels every sink at once.
	masterContext               context.Context
	masterContextCancelFunction context.CancelFunc

	sinksMutex sync.RWMutex
	sinks      []*fanOutSink
	closed     bool
}

type fanOutSink struct {
	lastAccepted time.Time
	stream       chan frame.PCMFrame
}

// The given device properties are for book-keeping only.
func NewFanOutDevice(properties audiodevice.DeviceProperties) *FanOutDevice {
	masterContext, masterContextCancelFunction := context.WithCancel(context.Background())
	return &FanOutDevice{
		deviceProperties:            properties,
		masterContext:               masterContext,
		masterContextCancelFunction: masterContextCancelFunction,
	}
}

func (d *FanOutDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.deviceProperties
}

// Set the stream to copy data from. Once sourceStream is closed, all sink streams are closed.
func (d *FanOutDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	go func() {
		for {
			select {
			case <-d.masterContext.Done():
				return
			case data, ok := <-sourceStream:
				if !ok {
					d.Close()
					return
				}
				d.broadcast(data)
			}
		}
	}()
}

func (d *FanOutDevice) broadcast(data frame.PCMFrame) {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()

	now := time.Now()
	kept := d.sinks[:0]
	for _, sink := range d.sinks {
		select {
		case sink.stream <- data:
			sink.lastAccepted = now
		default:
			if now.Sub(sink.lastAccepted) > sinkTimeout {
				close(sink.stream)
				continue
			}
		}
		kept = append(kept, sink)
	}
	clear(d.sinks[len(kept):])
	d.sinks = kept
}

// Get a new stream that every source frame is copied to. A closed device returns a closed stream.
func (d *FanOutDevice) GetStream() <-chan frame.PCMFrame {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()

	newSink := &fanOutSink{
		lastAccepted: time.Now(),
		stream:       make(chan frame.PCMFrame, 2),
	}
	if d.closed {
		close(newSink.stream)
		return newSink.stream
	}
	d.sinks = append(d.sinks, newSink)
	return newSink.stream
}

func (d *FanOutDevice) NumSinks() int {
	d.sinksMutex.RLock()
	defer d.sinksMutex.RUnlock()
	return len(d.sinks)
}

func (d *FanOutDevice) Close() {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.masterContextCancelFunction()
	for _, sink := range d.sinks {
		close(sink.stream)
	}
	d.sinks = nil
}
