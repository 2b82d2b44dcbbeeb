package device

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine/loopback"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	mono48k   = audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 1}
	stereo48k = audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 2}
)

func receive(t *testing.T, stream <-chan frame.PCMFrame) frame.PCMFrame {
	t.Helper()
	select {
	case f, ok := <-stream:
		require.True(t, ok, "stream closed")
		return f
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for a frame")
		return nil
	}
}

func TestMutableCaptureDevice(t *testing.T) {
	capture := loopback.NewCapture("mic", mediaformat.Format{MediaType: mediaformat.Audio, Properties: mono48k})
	d := NewMutableCaptureDevice(capture)
	var _ engine.Muter = d

	require.NoError(t, d.Connect())
	require.NoError(t, d.Start())
	stream := d.GetStream()

	capture.Push(frame.PCMFrame{0.5, 0.5})
	assert.Equal(t, frame.PCMFrame{0.5, 0.5}, receive(t, stream))

	d.SetMute(true)
	assert.True(t, d.IsMute())
	capture.Push(frame.PCMFrame{0.5, 0.5})
	assert.Equal(t, frame.PCMFrame{0, 0}, receive(t, stream), "muted frames are silent")

	d.SetMute(false)
	capture.Push(frame.PCMFrame{0.25})
	assert.Equal(t, frame.PCMFrame{0.25}, receive(t, stream))
	assert.Same(t, capture, d.Unwrap())
}

func TestAugmentationVolume(t *testing.T) {
	d := NewAudioAugmentationDevice(mono48k)
	source := make(chan frame.PCMFrame, 1)
	d.SetStream(source)

	d.SetVolumeAdjustMagnitude(-1)
	assert.Equal(t, float32(0), d.GetVolumeAdjustMagnitude(), "negative volume clamps to zero")
	d.SetVolumeAdjustMagnitude(0.5)

	source <- frame.PCMFrame{1, -1}
	assert.Equal(t, frame.PCMFrame{0.5, -0.5}, receive(t, d.GetStream()))

	close(source)
	_, ok := <-d.GetStream()
	assert.False(t, ok, "closing the source closes the device")
}

func TestConvertingCaptureDevice(t *testing.T) {
	capture := loopback.NewCapture("mic", mediaformat.Format{MediaType: mediaformat.Audio, Properties: mono48k})
	d := NewConvertingCaptureDevice(capture)

	require.NoError(t, d.HintFormat(mediaformat.NewAudioFormat(mediaformat.CodecMap["CodecOpus48000Stereo"])))
	assert.Equal(t, stereo48k, d.Format().Properties)

	require.NoError(t, d.Connect())
	require.NoError(t, d.Start())
	stream := d.GetStream()
	capture.Push(frame.PCMFrame{0.1, 0.2})
	assert.Equal(t, frame.PCMFrame{0.1, 0.1, 0.2, 0.2}, receive(t, stream))

	assert.ErrorIs(t, d.HintFormat(mediaformat.NewAudioFormat(mediaformat.CodecMap["CodecOpus48000Mono"])),
		engine.ErrWrongState, "format is fixed once streaming")
}

func TestConvertingCaptureDevicePassThrough(t *testing.T) {
	capture := loopback.NewCapture("mic", mediaformat.Format{MediaType: mediaformat.Audio, Properties: mono48k})
	d := NewConvertingCaptureDevice(capture)
	require.NoError(t, d.HintFormat(mediaformat.Format{MediaType: mediaformat.Video}))
	assert.Equal(t, capture.GetStream(), d.GetStream(), "matching formats need no conversion")
}

func TestFanOutDevice(t *testing.T) {
	d := NewFanOutDevice(mono48k)
	source := make(chan frame.PCMFrame)
	d.SetStream(source)

	a := d.GetStream()
	b := d.GetStream()
	assert.Equal(t, 2, d.NumSinks())

	source <- frame.PCMFrame{0.5}
	assert.Equal(t, frame.PCMFrame{0.5}, receive(t, a))
	assert.Equal(t, frame.PCMFrame{0.5}, receive(t, b))

	close(source)
	assert.Eventually(t, func() bool {
		_, ok := <-a
		return !ok
	}, time.Second, 10*time.Millisecond)
	_, ok := <-d.GetStream()
	assert.False(t, ok, "closed device hands out closed streams")
}

func TestSilenceCaptureDevice(t *testing.T) {
	d := NewSilenceCaptureDevice(mediaformat.Format{MediaType: mediaformat.Audio, Properties: mono48k}, 10*time.Millisecond)
	assert.ErrorIs(t, d.Start(), engine.ErrWrongState, "must connect first")

	require.NoError(t, d.Connect())
	require.NoError(t, d.Start())
	f := receive(t, d.GetStream())
	assert.Len(t, f, 480)
	assert.Equal(t, frame.LevelSilence, frame.AudioLevel(f))

	d.Disconnect()
	d.Close()
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")

	out, err := NewFileAudioOutputDevice(path, 8000, 1)
	require.NoError(t, err)
	source := make(chan frame.PCMFrame)
	out.SetStream(source)
	for range 5 {
		f := make(frame.PCMFrame, 80)
		for i := range f {
			f[i] = 0.5
		}
		source <- f
	}
	close(source)
	out.WaitForClose()

	in, err := NewFileAudioInputDevice(path, 10*time.Millisecond, false)
	require.NoError(t, err)
	assert.Equal(t, audiodevice.DeviceProperties{SampleRate: 8000, NumChannels: 1}, in.GetDeviceProperties())

	require.NoError(t, in.Connect())
	require.NoError(t, in.Start())
	f := receive(t, in.GetStream())
	require.Len(t, f, 80)
	assert.InDelta(t, 0.5, f[0], 0.001)
	in.Close()
}

func TestDummySinkCounts(t *testing.T) {
	d := NewDummyAudioSinkDevice(mono48k)
	require.NoError(t, d.Start())
	assert.True(t, d.Started())

	source := make(chan frame.PCMFrame)
	d.SetStream(source)
	source <- frame.PCMFrame{0}
	source <- frame.PCMFrame{0}
	close(source)
	assert.Eventually(t, func() bool { return d.Received() == 2 }, time.Second, 5*time.Millisecond)

	d.Close()
	assert.False(t, d.Started())
}
