package session

import (
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/direction"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine/loopback"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediadevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vga  = mediaformat.Dimension{Width: 640, Height: 480}
	qvga = mediaformat.Dimension{Width: 320, Height: 240}
)

func newVideoSession(t *testing.T) (*VideoSession, *loopback.Engine) {
	t.Helper()
	eng := loopback.New()
	capture := loopback.NewCapture("camera", mediaformat.NewVideoFormat(mediaformat.CodecMap["CodecVP8"], vga, 30))
	dev := mediadevice.NewCaptureDevice("camera", mediaformat.Video, eng,
		func() (engine.CaptureHandle, error) { return capture, nil }, nil,
	).WithSupportedSizes(vga, qvga)

	v, err := NewVideoSession(NewBuilder(dev))
	require.NoError(t, err)
	t.Cleanup(func() { v.Close(direction.SendRecv) })
	return v, eng
}

func TestVideoSessionRejectsAudioDevice(t *testing.T) {
	f := newFixture(t)
	_, err := NewVideoSession(NewBuilder(f.device))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSetOutputSize(t *testing.T) {
	v, eng := newVideoSession(t)
	assert.Equal(t, []mediaformat.Dimension{vga, qvga}, v.SupportedSizes())

	assert.ErrorIs(t, v.SetOutputSize(mediaformat.Dimension{Width: 1, Height: 1}), ErrInvalidArgument)

	require.NoError(t, v.Start(direction.SendOnly))
	require.Len(t, eng.Processors(), 1)
	first := eng.Processors()[0]
	f, _ := first.Format()
	assert.Equal(t, vga, f.Size)

	require.NoError(t, v.SetOutputSize(qvga))
	assert.Equal(t, qvga, v.OutputSize())
	assert.Equal(t, engine.Closed, first.State(), "realized pipeline is recreated for a new size")
	require.Len(t, eng.Processors(), 2)
	second := eng.Processors()[1]
	assert.Equal(t, engine.Started, second.State())
	f, _ = second.Format()
	assert.Equal(t, qvga, f.Size)

	require.NoError(t, v.SetOutputSize(qvga))
	assert.Len(t, eng.Processors(), 2, "same size keeps the pipeline")
}

func TestSetOutputSizeBeforePipeline(t *testing.T) {
	v, eng := newVideoSession(t)
	require.NoError(t, v.SetOutputSize(qvga))
	assert.Empty(t, eng.Processors())

	f, ok := v.Format()
	require.True(t, ok)
	assert.Equal(t, qvga, f.Size)
}
