package mediaformat

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAudioFormat(t *testing.T) {
	f := NewAudioFormat(CodecMap["CodecOpus48000Stereo"])
	assert.Equal(t, Audio, f.MediaType)
	assert.Equal(t, 48000, f.Properties.SampleRate)
	assert.Equal(t, 2, f.Properties.NumChannels)
}

func TestEqualComparesFeedback(t *testing.T) {
	a := NewVideoFormat(CodecMap["CodecVP8"], Dimension{640, 480}, 30)
	b := a
	assert.True(t, a.Equal(b))

	b.Codec.RTCPFeedback = []webrtc.RTCPFeedback{{Type: "nack"}}
	assert.False(t, a.Equal(b))
}

func TestMatchesWildcards(t *testing.T) {
	full := NewAudioFormat(CodecMap["CodecOpus48000Mono"])

	assert.True(t, Format{}.Matches(full), "zero format matches anything")
	assert.True(t, Format{MediaType: Audio}.Matches(full))
	assert.False(t, Format{MediaType: Video}.Matches(full))
	assert.True(t, Format{Codec: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}}.Matches(full))
	assert.False(t, NewAudioFormat(CodecMap["CodecOpus48000Stereo"]).Matches(full))
}

func TestWithSize(t *testing.T) {
	f := NewVideoFormat(CodecMap["CodecVP8"], Dimension{640, 480}, 30)
	assert.Equal(t, Dimension{1280, 720}, f.WithSize(Dimension{1280, 720}).Size)
	assert.Equal(t, Dimension{640, 480}, f.WithSize(Dimension{}).Size)
}

func TestCodecsFromNames(t *testing.T) {
	codecs, err := CodecsFromNames([]string{"CodecOpus48000Mono", "CodecVP8"})
	require.NoError(t, err)
	require.Len(t, codecs, 2)

	audio := FormatsFor(Audio, codecs, Dimension{})
	require.Len(t, audio, 1)
	assert.Equal(t, webrtc.MimeTypeOpus, audio[0].Codec.MimeType)

	video := FormatsFor(Video, codecs, Dimension{352, 288})
	require.Len(t, video, 1)
	assert.Equal(t, Dimension{352, 288}, video[0].Size)

	_, err = CodecsFromNames([]string{"CodecNope"})
	assert.Error(t, err)
	_, err = CodecsFromNames(nil)
	assert.Error(t, err)
}
