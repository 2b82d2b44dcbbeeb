package audiodevice

import (
	"fmt"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
)

type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

func (p DeviceProperties) IsZero() bool {
	return p.SampleRate == 0 && p.NumChannels == 0
}

// Number of interleaved samples in one frame of the given duration.
func (p DeviceProperties) SamplesPerFrame(frameDuration time.Duration) int {
	return int(int64(p.SampleRate)*int64(frameDuration)/int64(time.Second)) * p.NumChannels
}

func (p DeviceProperties) String() string {
	return fmt.Sprintf("%dHz/%dch", p.SampleRate, p.NumChannels)
}

// Interface for audio source devices, e.g. microphones or mixer outputs.
//
// Raw audio data (as PCMFrames) arrives on the channel returned by GetStream.
type AudioSourceDevice interface {
	GetStream() <-chan frame.PCMFrame

	// Once closed, the device transmits no more frames and its stream is closed.
	Close()

	GetDeviceProperties() DeviceProperties
}

// Interface for audio sink devices, e.g. speakers or recorders.
type AudioSinkDevice interface {
	// Raw audio data (as PCMFrames) will arrive on the given channel.
	//
	// Sinks clean up once sourceStream is closed, so closing a source
	// cascades down the chain of devices reading from it.
	SetStream(sourceStream <-chan frame.PCMFrame)

	GetDeviceProperties() DeviceProperties
}
