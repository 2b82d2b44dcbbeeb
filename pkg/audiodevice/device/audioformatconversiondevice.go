package device

import (
	"log/slog"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/oov/audio/resampler"
)

const (
	// Reused conversion buffer size. 48000Hz stereo at 120ms is 11520 samples.
	bufferSize int = 16384

	resampleQuality = 10
)

// Middle-man processing device to handle format mismatches
// between the source data format to the sink data format.
//
// e.g. if the source format is mono, but the sink format specifies stereo,
// this device will handle the conversion.
//
// This device is both a sink and a source!
type AudioFormatConversionDevice struct {
	// Frames arrive on sourceChannel (set by SetStream) and leave on
	// sinkChannel (returned by GetStream).
	sourceChannel    <-chan frame.PCMFrame
	sourceProperties audiodevice.DeviceProperties

	sinkChannel    chan frame.PCMFrame
	sinkProperties audiodevice.DeviceProperties

	formatConversionFunctions []audioFormatConversionFunction

	shutdownOnce sync.Once
}

// Create a new AudioFormatConversionDevice converting from sourceProperties
// to sinkProperties. Conversion begins once SetStream is called.
func NewAudioFormatConversionDevice(
	sourceProperties audiodevice.DeviceProperties,
	sinkProperties audiodevice.DeviceProperties,
) *AudioFormatConversionDevice {
	formatConversionFunctions := make([]audioFormatConversionFunction, 0)

	if sourceProperties.NumChannels == 1 && sinkProperties.NumChannels == 2 {
		slog.Debug("adding mono to stereo")
		formatConversionFunctions = append(formatConversionFunctions, monoToStereo())
	}
	if sourceProperties.NumChannels == 2 && sinkProperties.NumChannels == 1 {
		slog.Debug("adding stereo to mono")
		formatConversionFunctions = append(formatConversionFunctions, stereoToMono())
	}
	if sourceProperties.SampleRate != sinkProperties.SampleRate {
		slog.Debug("adding resampler")
		formatConversionFunctions = append(formatConversionFunctions, newResampleFunction(sourceProperties, sinkProperties))
	}

	return &AudioFormatConversionDevice{
		sourceProperties:          sourceProperties,
		sinkProperties:            sinkProperties,
		sinkChannel:               make(chan frame.PCMFrame, 1),
		formatConversionFunctions: formatConversionFunctions,
	}
}

// --------------------------------------------------------------------------------
// AudioSourceDevice Interface

func (d *AudioFormatConversionDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkChannel
}

func (d *AudioFormatConversionDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.sinkChannel)
	})
}

// Properties of the converted (leaving) frames. See GetSourceDeviceProperties.
func (d *AudioFormatConversionDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.sinkProperties
}

// --------------------------------------------------------------------------------
// AudioSinkDevice Interface

// The device closes when sourceChannel is closed.
func (d *AudioFormatConversionDevice) SetStream(sourceChannel <-chan frame.PCMFrame) {
	d.sourceChannel = sourceChannel
	go func() {
		for pcmFrame := range d.sourceChannel {
			for _, f := range d.formatConversionFunctions {
				pcmFrame = f(pcmFrame)
			}
			// Conversion buffers are reused, so hand out a copy.
			d.sinkChannel <- append(frame.PCMFrame(nil), pcmFrame...)
		}
		d.Close()
	}()
}

func (d *AudioFormatConversionDevice) GetSourceDeviceProperties() audiodevice.DeviceProperties {
	return d.sourceProperties
}

// --------------------------------------------------------------------------------

type audioFormatConversionFunction func(sourceFrame frame.PCMFrame) frame.PCMFrame

func monoToStereo() audioFormatConversionFunction {
	buf := make(frame.PCMFrame, bufferSize)
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		for i, v := range sourceFrame {
			buf[2*i] = v
			buf[2*i+1] = v
		}
		return buf[:2*len(sourceFrame)]
	}
}

func stereoToMono() audioFormatConversionFunction {
	buf := make(frame.PCMFrame, bufferSize)
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		if len(sourceFrame)%2 == 1 {
			sourceFrame = sourceFrame[:len(sourceFrame)-1]
		}

		for i := range len(sourceFrame) / 2 {
			buf[i] = (sourceFrame[2*i] + sourceFrame[2*i+1]) / 2
		}
		return buf[:len(sourceFrame)/2]
	}
}

func newResampleFunction(sourceProperties audiodevice.DeviceProperties, sinkProperties audiodevice.DeviceProperties) audioFormatConversionFunction {
	if sinkProperties.NumChannels == 1 {
		r := resampler.New(1, sourceProperties.SampleRate, sinkProperties.SampleRate, resampleQuality)
		buf := make(frame.PCMFrame, bufferSize)
		return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
			_, written := r.ProcessFloat32(0, sourceFrame, buf)
			return buf[:written]
		}
	} else {
		r := resampler.New(2, sourceProperties.SampleRate, sinkProperties.SampleRate, resampleQuality)
		leftSourceBuf := make(frame.PCMFrame, bufferSize/2)
		rightSourceBuf := make(frame.PCMFrame, bufferSize/2)
		leftSinkBuf := make(frame.PCMFrame, bufferSize/2)
		rightSinkBuf := make(frame.PCMFrame, bufferSize/2)
		buf := make(frame.PCMFrame, bufferSize)
		return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
			if len(sourceFrame)%2 == 1 {
				sourceFrame = sourceFrame[:len(sourceFrame)-1]
			}

			for i := range len(sourceFrame) / 2 {
				leftSourceBuf[i] = sourceFrame[2*i]
				rightSourceBuf[i] = sourceFrame[2*i+1]
			}

			_, written := r.ProcessFloat32(0, leftSourceBuf[:len(sourceFrame)/2], leftSinkBuf)
			r.ProcessFloat32(1, rightSourceBuf[:len(sourceFrame)/2], rightSinkBuf)

			for i := range written {
				buf[2*i] = leftSinkBuf[i]
				buf[2*i+1] = rightSinkBuf[i]
			}
			return buf[:2*written]
		}
	}
}

// --------------------------------------------------------------------------------
// ConvertingCaptureDevice

// Wraps a PCM capture handle whose native properties may differ from the
// format a session asks for. HintFormat, called before the handle is
// connected, decides the properties the stream is converted to.
type ConvertingCaptureDevice struct {
	engine.CaptureHandle

	mu         sync.Mutex
	target     audiodevice.DeviceProperties
	conversion *AudioFormatConversionDevice
}

func NewConvertingCaptureDevice(h engine.CaptureHandle) *ConvertingCaptureDevice {
	return &ConvertingCaptureDevice{CaptureHandle: h, target: h.Format().Properties}
}

func (d *ConvertingCaptureDevice) HintFormat(f mediaformat.Format) error {
	if f.MediaType != mediaformat.Audio || f.Properties.IsZero() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conversion != nil {
		return engine.ErrWrongState
	}
	d.target = f.Properties
	return nil
}

func (d *ConvertingCaptureDevice) Format() mediaformat.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.CaptureHandle.Format()
	f.Properties = d.target
	return f
}

func (d *ConvertingCaptureDevice) GetStream() <-chan frame.PCMFrame {
	src, ok := d.CaptureHandle.(engine.PCMSource)
	if !ok {
		return nil
	}
	native := d.CaptureHandle.Format().Properties

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.target == native {
		return src.GetStream()
	}
	if d.conversion == nil {
		d.conversion = NewAudioFormatConversionDevice(native, d.target)
		d.conversion.SetStream(src.GetStream())
	}
	return d.conversion.GetStream()
}
