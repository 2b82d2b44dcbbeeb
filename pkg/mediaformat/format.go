package mediaformat

import (
	"fmt"
	"slices"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice"
	"github.com/pion/webrtc/v4"
)

type MediaType int

const (
	Unknown MediaType = iota
	Audio
	Video
)

func (t MediaType) String() string {
	switch t {
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return "unknown"
	}
}

// Pixel dimensions of a video frame. The zero Dimension means "unspecified".
type Dimension struct {
	Width  int
	Height int
}

func (d Dimension) IsZero() bool {
	return d.Width == 0 && d.Height == 0
}

func (d Dimension) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// A media format as negotiated between a session and its pipeline.
//
// Properties only apply to audio, Size and FrameRate only to video.
type Format struct {
	MediaType  MediaType
	Codec      webrtc.RTPCodecCapability
	Properties audiodevice.DeviceProperties
	Size       Dimension
	FrameRate  float64
}

func NewAudioFormat(codec webrtc.RTPCodecCapability) Format {
	return Format{
		MediaType: Audio,
		Codec:     codec,
		Properties: audiodevice.DeviceProperties{
			SampleRate:  int(codec.ClockRate),
			NumChannels: int(codec.Channels),
		},
	}
}

func NewVideoFormat(codec webrtc.RTPCodecCapability, size Dimension, frameRate float64) Format {
	return Format{
		MediaType: Video,
		Codec:     codec,
		Size:      size,
		FrameRate: frameRate,
	}
}

func (f Format) IsZero() bool {
	return f.Equal(Format{})
}

// Equal reports whether every field of f and other is identical.
func (f Format) Equal(other Format) bool {
	return f.MediaType == other.MediaType &&
		codecEqual(f.Codec, other.Codec) &&
		f.Properties == other.Properties &&
		f.Size == other.Size &&
		f.FrameRate == other.FrameRate
}

// Matches reports whether other satisfies f, treating zero-valued fields of f as wildcards.
func (f Format) Matches(other Format) bool {
	if f.MediaType != Unknown && f.MediaType != other.MediaType {
		return false
	}
	if f.Codec.MimeType != "" && !codecMatches(f.Codec, other.Codec) {
		return false
	}
	if f.Properties.SampleRate != 0 && f.Properties.SampleRate != other.Properties.SampleRate {
		return false
	}
	if f.Properties.NumChannels != 0 && f.Properties.NumChannels != other.Properties.NumChannels {
		return false
	}
	if !f.Size.IsZero() && f.Size != other.Size {
		return false
	}
	if f.FrameRate != 0 && f.FrameRate != other.FrameRate {
		return false
	}
	return true
}

// WithSize returns a copy of f with its video size replaced, unless size is zero.
func (f Format) WithSize(size Dimension) Format {
	if !size.IsZero() {
		f.Size = size
	}
	return f
}

func (f Format) String() string {
	switch f.MediaType {
	case Audio:
		return fmt.Sprintf("%s %s %s", f.MediaType, f.Codec.MimeType, f.Properties)
	case Video:
		return fmt.Sprintf("%s %s %s@%g", f.MediaType, f.Codec.MimeType, f.Size, f.FrameRate)
	default:
		return fmt.Sprintf("%s %s", f.MediaType, f.Codec.MimeType)
	}
}

// RTPCodecCapability holds a slice, so it is not comparable with ==.
func codecEqual(a, b webrtc.RTPCodecCapability) bool {
	return a.MimeType == b.MimeType &&
		a.ClockRate == b.ClockRate &&
		a.Channels == b.Channels &&
		a.SDPFmtpLine == b.SDPFmtpLine &&
		slices.Equal(a.RTCPFeedback, b.RTCPFeedback)
}

func codecMatches(want, got webrtc.RTPCodecCapability) bool {
	if want.MimeType != got.MimeType {
		return false
	}
	if want.ClockRate != 0 && want.ClockRate != got.ClockRate {
		return false
	}
	if want.Channels != 0 && want.Channels != got.Channels {
		return false
	}
	return true
}
