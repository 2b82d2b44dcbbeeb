package session

import (
	"errors"
	"fmt"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/direction"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediadevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
)

// Strategies customise a session. Nil fields use the defaults.
//
// Every strategy runs on the session's goroutine and must not call back
// into the session synchronously.
type Strategies struct {
	// Opens the capture handle. Defaults to the device's CaptureCapable.
	CaptureFactory func(d mediadevice.MediaDevice) (engine.CaptureHandle, error)

	// Content descriptor of a configured processor. Defaults to engine.ContentTypeRawRTP.
	ContentDescriptor func(f mediaformat.Format, ok bool) string

	// Creates a player for a playback data source. Defaults to the device's PipelineCapable.
	PlayerFactory func(d mediadevice.MediaDevice, src engine.DataSource) (engine.Pipeline, error)

	// Called once a processor is realized, e.g. to install codec chains on
	// its tracks. An error is logged and the processor is used as is.
	RealizeHook func(p engine.Pipeline) error

	// Whether a playback entry gets a player of its own. rs is nil for
	// plain data sources. Defaults to true.
	PlaybackFilter func(rs engine.ReceiveStream) bool

	StartedDirectionHook func(old, new direction.Direction)

	// Called after a playback entry is added or removed.
	PlaybackHook func(change PlaybackChange)
}

type PlaybackChange struct {
	Entry PlaybackEntry
	Added bool
}

func (s Strategies) withDefaults(pipelines mediadevice.PipelineCapable) Strategies {
	if s.CaptureFactory == nil {
		s.CaptureFactory = defaultCaptureFactory
	}
	if s.ContentDescriptor == nil {
		s.ContentDescriptor = func(mediaformat.Format, bool) string { return engine.ContentTypeRawRTP }
	}
	if s.PlayerFactory == nil {
		s.PlayerFactory = func(_ mediadevice.MediaDevice, src engine.DataSource) (engine.Pipeline, error) {
			return pipelines.CreatePlayer(src)
		}
	}
	if s.PlaybackFilter == nil {
		s.PlaybackFilter = func(engine.ReceiveStream) bool { return true }
	}
	return s
}

func defaultCaptureFactory(d mediadevice.MediaDevice) (engine.CaptureHandle, error) {
	cc, ok := d.(mediadevice.CaptureCapable)
	if !ok {
		return nil, mediadevice.ErrNoCapture
	}
	return cc.CreateCaptureHandle()
}

// A codec identified by name only.
type NamedCodec string

func (c NamedCodec) Name() string { return string(c) }

// CodecChainHook returns a RealizeHook installing codecs(track) on every
// enabled track. Tracks rejecting their chain keep the engine's own.
func CodecChainHook(codecs func(t engine.Track) []engine.Codec) func(engine.Pipeline) error {
	return func(p engine.Pipeline) error {
		var errs []error
		for i, t := range p.Tracks() {
			if !t.Enabled() {
				continue
			}
			if chain := codecs(t); len(chain) > 0 {
				if err := t.SetCodecChain(chain...); err != nil {
					errs = append(errs, fmt.Errorf("track %d: %w", i, err))
				}
			}
		}
		return errors.Join(errs...)
	}
}
