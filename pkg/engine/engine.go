// Package engine defines the contract between device sessions and the media
// engine that drives capture, processing and playback pipelines.
//
// Pipelines progress asynchronously. State changes are reported to
// listeners as Events from engine-owned goroutines, never from the caller
// of Configure, Realize or Close.
package engine

import (
	"errors"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/pion/rtp"
)

// Content type a processor emits when producing packets for an RTP sender.
const ContentTypeRawRTP = "raw/rtp"

var (
	ErrTimeout      = errors.New("pipeline did not reach the requested state in time")
	ErrWrongState   = errors.New("operation not permitted in the current pipeline state")
	ErrNotSupported = errors.New("format not supported")
)

// A source of media, typically a capture device or a remote stream.
type DataSource interface {
	ID() string
	MediaType() mediaformat.MediaType
	Connect() error
	Disconnect()
	Start() error
	Stop() error
}

// A handle on an opened capture device.
type CaptureHandle interface {
	DataSource
	Format() mediaformat.Format
}

// A data source that pushes PCM frames. Pushable sources are shared between
// consumers, so their disconnection is suppressed while still in use.
type PCMSource interface {
	GetStream() <-chan frame.PCMFrame
}

// Capture handles implementing Muter can silence themselves.
type Muter interface {
	SetMute(mute bool)
	IsMute() bool
}

// Capture handles implementing FormatHinter are told the session's
// requested format before they are connected.
type FormatHinter interface {
	HintFormat(f mediaformat.Format) error
}

type Codec interface {
	Name() string
}

// Output of a playback track, e.g. a speaker or a video window.
type Renderer interface {
	Name() string
	Start() error
	Stop() error
	Close()
}

type Track interface {
	Enabled() bool
	Format() mediaformat.Format
	SetRenderer(r Renderer) error
	SetCodecChain(codecs ...Codec) error
}

type Listener func(Event)

// A processor (capture to packets) or player (data source to renderer).
type Pipeline interface {
	ID() string
	State() State

	// Configure, Realize and Close are asynchronous, completion is
	// reported as events.
	Configure() error
	Realize() error
	Start() error
	Stop() error
	Close()

	// An empty content descriptor makes the pipeline render rather than emit packets.
	SetContentDescriptor(contentType string) error

	// Only permitted once Configured. Returns the format the pipeline will actually produce.
	SetFormat(f mediaformat.Format) (mediaformat.Format, error)
	Format() (mediaformat.Format, bool)

	Tracks() []Track
	AddListener(l Listener)

	// Packets produced by a started processor.
	Output() <-chan *rtp.Packet
}

// A stream received from a remote peer.
type ReceiveStream interface {
	SSRC() int64
	DataSource() DataSource
	CSRCs() []uint32
}

type Engine interface {
	NewProcessor(src DataSource, f mediaformat.Format) (Pipeline, error)
	NewPlayer(src DataSource) (Pipeline, error)
}
