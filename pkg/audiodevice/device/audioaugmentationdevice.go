package device

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
)

// Middle-man processing device to handle audio augmentations,
// such as volume and mute. This device is both a sink and a source.
type AudioAugmentationDevice struct {
	deviceProperties audiodevice.DeviceProperties

	// The stream that data *leaves on*
	sinkStream chan frame.PCMFrame

	augmentationFunctions []audioAugmentationFunction

	// float32 bits, so the volume can change while frames are flowing
	volumeAdjustMagnitude atomic.Uint32
	muted                 atomic.Bool

	shutdownOnce sync.Once
}

// Create a new AudioAugmentationDevice. Processing begins once SetStream is called.
func NewAudioAugmentationDevice(deviceProperties audiodevice.DeviceProperties) *AudioAugmentationDevice {
	device := &AudioAugmentationDevice{
		deviceProperties: deviceProperties,
		sinkStream:       make(chan frame.PCMFrame, 1),
	}
	device.volumeAdjustMagnitude.Store(math.Float32bits(1.0))
	device.augmentationFunctions = []audioAugmentationFunction{
		device.volumeAdjust,
		device.mute,
	}
	return device
}

func (d *AudioAugmentationDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *AudioAugmentationDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.sinkStream)
	})
}

func (d *AudioAugmentationDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.deviceProperties
}

// Frames are augmented in place. The device closes when sourceStream is closed.
func (d *AudioAugmentationDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	go func() {
		for pcmFrame := range sourceStream {
			for _, f := range d.augmentationFunctions {
				pcmFrame = f(pcmFrame)
			}
			d.sinkStream <- pcmFrame
		}
		d.Close()
	}()
}

// Must be non-negative. 1.0 is natural scaling, large values clip.
func (d *AudioAugmentationDevice) SetVolumeAdjustMagnitude(volumeAdjustMagnitude float32) {
	if volumeAdjustMagnitude < 0.0 {
		volumeAdjustMagnitude = 0.0
	}
	d.volumeAdjustMagnitude.Store(math.Float32bits(volumeAdjustMagnitude))
}

func (d *AudioAugmentationDevice) GetVolumeAdjustMagnitude() float32 {
	return math.Float32frombits(d.volumeAdjustMagnitude.Load())
}

func (d *AudioAugmentationDevice) SetMute(mute bool) {
	d.muted.Store(mute)
}

func (d *AudioAugmentationDevice) IsMute() bool {
	return d.muted.Load()
}

type audioAugmentationFunction func(sourceFrame frame.PCMFrame) frame.PCMFrame

func (d *AudioAugmentationDevice) volumeAdjust(sourceFrame frame.PCMFrame) frame.PCMFrame {
	magnitude := d.GetVolumeAdjustMagnitude()
	if magnitude == 1.0 {
		return sourceFrame
	}
	for i := range sourceFrame {
		sourceFrame[i] *= magnitude
	}
	return sourceFrame
}

func (d *AudioAugmentationDevice) mute(sourceFrame frame.PCMFrame) frame.PCMFrame {
	if !d.muted.Load() {
		return sourceFrame
	}
	clear(sourceFrame)
	return sourceFrame
}

// --------------------------------------------------------------------------------
// MutableCaptureDevice

// Wraps a capture handle that cannot mute itself. PCM captures are routed
// through an AudioAugmentationDevice, other media only records the mute state.
type MutableCaptureDevice struct {
	engine.CaptureHandle

	augmentation *AudioAugmentationDevice
	streamOnce   sync.Once
	muted        atomic.Bool
}

func NewMutableCaptureDevice(h engine.CaptureHandle) *MutableCaptureDevice {
	d := &MutableCaptureDevice{CaptureHandle: h}
	if _, ok := h.(engine.PCMSource); ok {
		d.augmentation = NewAudioAugmentationDevice(h.Format().Properties)
	}
	return d
}

func (d *MutableCaptureDevice) SetMute(mute bool) {
	d.muted.Store(mute)
	if d.augmentation != nil {
		d.augmentation.SetMute(mute)
	}
}

func (d *MutableCaptureDevice) IsMute() bool {
	return d.muted.Load()
}

func (d *MutableCaptureDevice) GetStream() <-chan frame.PCMFrame {
	if d.augmentation == nil {
		return nil
	}
	d.streamOnce.Do(func() {
		d.augmentation.SetStream(d.CaptureHandle.(engine.PCMSource).GetStream())
	})
	return d.augmentation.GetStream()
}

func (d *MutableCaptureDevice) HintFormat(f mediaformat.Format) error {
	if hinter, ok := d.CaptureHandle.(engine.FormatHinter); ok {
		return hinter.HintFormat(f)
	}
	return nil
}

func (d *MutableCaptureDevice) Unwrap() engine.CaptureHandle {
	return d.CaptureHandle
}
