package mixer

import (
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mono = mediaformat.NewAudioFormat(mediaformat.CodecMap["CodecOpus48000Mono"])

func constant(value float32, n int) frame.PCMFrame {
	f := make(frame.PCMFrame, n)
	for i := range f {
		f[i] = value
	}
	return f
}

func receive(t *testing.T, stream <-chan frame.PCMFrame) frame.PCMFrame {
	t.Helper()
	select {
	case f, ok := <-stream:
		require.True(t, ok, "stream closed")
		return f
	case <-time.After(time.Second):
		require.FailNow(t, "no frame received")
		return nil
	}
}

func TestAdditiveMix(t *testing.T) {
	tests := []struct {
		name   string
		inputs []frame.PCMFrame
		want   frame.PCMFrame
	}{
		{"none", nil, frame.PCMFrame{0, 0}},
		{"sum", []frame.PCMFrame{{0.25, -0.25}, {0.5, 0.5}}, frame.PCMFrame{0.75, 0.25}},
		{"clipped", []frame.PCMFrame{{0.75, -0.75}, {0.75, -0.75}}, frame.PCMFrame{1, -1}},
		{"short input", []frame.PCMFrame{{0.5}}, frame.PCMFrame{0.5, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make(frame.PCMFrame, 2)
			AdditiveMix(dst, tt.inputs)
			assert.Equal(t, tt.want, dst)
		})
	}
}

func TestOutputsExcludeOwnInputs(t *testing.T) {
	m := NewMixer(mono, 10*time.Millisecond)
	local := make(chan frame.PCMFrame, 1)
	fromA := make(chan frame.PCMFrame, 1)
	fromB := make(chan frame.PCMFrame, 1)
	require.True(t, m.AddInput(InputInfo{ID: "local", Owner: CaptureOwner, Kind: InputCapture}, local))
	require.True(t, m.AddInput(InputInfo{ID: "a", Owner: "a", Kind: InputRemote, SSRC: 1}, fromA))
	require.True(t, m.AddInput(InputInfo{ID: "b", Owner: "b", Kind: InputRemote, SSRC: 2}, fromB))
	assert.False(t, m.AddInput(InputInfo{ID: "a"}, fromA))

	outA := m.NewOutput("out-a", "a")
	outB := m.NewOutput("out-b", "b")
	playback := m.NewOutput("playback", CaptureOwner)
	streamA, streamB, streamPlayback := outA.GetStream(), outB.GetStream(), playback.GetStream()

	local <- constant(0.125, 480)
	fromA <- constant(0.25, 480)
	fromB <- constant(0.5, 480)
	m.MixOnce()

	assert.InDelta(t, 0.625, receive(t, streamA)[0], 1e-6)
	assert.InDelta(t, 0.375, receive(t, streamB)[0], 1e-6)
	assert.InDelta(t, 0.75, receive(t, streamPlayback)[0], 1e-6)
}

func TestMutedInputIsReadButNotMixed(t *testing.T) {
	m := NewMixer(mono, 10*time.Millisecond)
	var hooked []string
	m.SetReadHook(func(in InputInfo, f frame.PCMFrame) { hooked = append(hooked, in.ID) })

	src := make(chan frame.PCMFrame, 1)
	m.AddInput(InputInfo{ID: "a", Owner: "a"}, src)
	require.True(t, m.SetInputMute("a", true))
	assert.False(t, m.SetInputMute("missing", true))

	out := m.NewOutput("out")
	stream := out.GetStream()
	src <- constant(0.5, 480)
	m.MixOnce()

	mixed := receive(t, stream)
	assert.Len(t, mixed, 480, "silence of one frame duration")
	assert.Zero(t, mixed[0])
	assert.Equal(t, []string{"a"}, hooked)
}

func TestClosedInputIsRemoved(t *testing.T) {
	m := NewMixer(mono, 10*time.Millisecond)
	src := make(chan frame.PCMFrame)
	m.AddInput(InputInfo{ID: "a"}, src)
	close(src)

	m.MixOnce()
	assert.Empty(t, m.Inputs())
	assert.False(t, m.RemoveInput("a"))
}

func TestClosedOutput(t *testing.T) {
	m := NewMixer(mono, 10*time.Millisecond)
	out := m.NewOutput("out")
	stream := out.GetStream()
	require.Equal(t, 1, m.NumOutputs())

	out.Close()
	out.Close()
	assert.Zero(t, m.NumOutputs())
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-stream:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, out.Connect())
	m.MixOnce()
}

func TestOutputAsCaptureHandle(t *testing.T) {
	m := NewMixer(mono, 10*time.Millisecond)
	out := m.NewOutput("out")
	defer out.Close()

	assert.Error(t, out.Start(), "not connected")
	require.NoError(t, out.Connect())
	require.NoError(t, out.Start())
	assert.True(t, out.Format().Equal(mono))
	assert.Equal(t, mediaformat.Audio, out.MediaType())

	out.SetMute(true)
	assert.True(t, out.IsMute())
	out.Disconnect()
	assert.False(t, out.Connected())
}
