package mediaformat

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	// Mapping from string representation (e.g. for use in config files) to codec specification
	CodecMap map[string]webrtc.RTPCodecCapability = map[string]webrtc.RTPCodecCapability{
		"CodecOpus48000Stereo": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"CodecOpus48000Mono": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  1,
		},
		"CodecOpus16000Mono": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 16000,
			Channels:  1,
		},
		"CodecPCMU8000Mono": {
			MimeType:  webrtc.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
		"CodecPCMA8000Mono": {
			MimeType:  webrtc.MimeTypePCMA,
			ClockRate: 8000,
			Channels:  1,
		},
		"CodecVP8": {
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		"CodecH264": {
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
	}
)

// Load and return a list of codecs using the given strings.
// Strings must be associated to a codec in CodecMap, otherwise an error is returned.
func CodecsFromNames(codecStrings []string) ([]webrtc.RTPCodecCapability, error) {
	if len(codecStrings) == 0 {
		return nil, errors.New("no codecs authorized")
	}

	codecs := make([]webrtc.RTPCodecCapability, len(codecStrings))
	var ok bool
	for i, s := range codecStrings {
		codecs[i], ok = CodecMap[s]
		if !ok {
			return nil, fmt.Errorf("no codec with associated string %s", s)
		}
	}

	return codecs, nil
}

// Formats for the given codecs, keeping only those of mediaType.
// Video formats are given the default size.
func FormatsFor(mediaType MediaType, codecs []webrtc.RTPCodecCapability, defaultSize Dimension) []Format {
	formats := make([]Format, 0, len(codecs))
	for _, c := range codecs {
		switch {
		case mediaType == Audio && c.Channels != 0:
			formats = append(formats, NewAudioFormat(c))
		case mediaType == Video && c.Channels == 0:
			formats = append(formats, NewVideoFormat(c, defaultSize, 0))
		}
	}
	return formats
}
