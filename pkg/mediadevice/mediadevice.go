// Package mediadevice describes the devices a session can be opened on.
//
// A MediaDevice advertises what it can do through the optional capability
// interfaces CaptureCapable, PipelineCapable and RenderCapable.
package mediadevice

import (
	"errors"
	"fmt"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/direction"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
)

var ErrNoCapture = errors.New("device cannot capture")

type Kind int

const (
	KindCapture Kind = iota + 1
	KindSilence
	KindMixer
)

func (k Kind) String() string {
	switch k {
	case KindCapture:
		return "capture"
	case KindSilence:
		return "silence"
	case KindMixer:
		return "mixer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type MediaDevice interface {
	ID() string
	Kind() Kind
	MediaType() mediaformat.MediaType
	Direction() direction.Direction
}

type CaptureCapable interface {
	CreateCaptureHandle() (engine.CaptureHandle, error)
}

type PipelineCapable interface {
	CreatePipeline(src engine.DataSource, f mediaformat.Format) (engine.Pipeline, error)
	CreatePlayer(src engine.DataSource) (engine.Pipeline, error)
}

type RenderCapable interface {
	CreateRenderer() (engine.Renderer, error)
}

// Video devices implementing SizeCapable list the output sizes they support.
type SizeCapable interface {
	SupportedSizes() []mediaformat.Dimension
}

// --------------------------------------------------------------------------------

type CaptureFactory func() (engine.CaptureHandle, error)
type RendererFactory func() (engine.Renderer, error)

// A MediaDevice backed by an engine, with optional capture and render factories.
type Device struct {
	id        string
	kind      Kind
	mediaType mediaformat.MediaType
	engine    engine.Engine
	capture   CaptureFactory
	renderer  RendererFactory
	sizes     []mediaformat.Dimension
}

// A device capturing from capture and rendering through renderer. Either may be nil.
func NewCaptureDevice(
	id string,
	mediaType mediaformat.MediaType,
	eng engine.Engine,
	capture CaptureFactory,
	renderer RendererFactory,
) *Device {
	return &Device{
		id:        id,
		kind:      KindCapture,
		mediaType: mediaType,
		engine:    eng,
		capture:   capture,
		renderer:  renderer,
	}
}

// A device producing silent audio in format f, rendering to a renderer that discards.
func NewSilenceDevice(id string, eng engine.Engine, f mediaformat.Format, frameDuration time.Duration) *Device {
	return &Device{
		id:        id,
		kind:      KindSilence,
		mediaType: mediaformat.Audio,
		engine:    eng,
		capture: func() (engine.CaptureHandle, error) {
			return device.NewSilenceCaptureDevice(f, frameDuration), nil
		},
		renderer: func() (engine.Renderer, error) {
			return device.NewDummyAudioSinkDevice(f.Properties), nil
		},
	}
}

// WithSupportedSizes sets the output sizes of a video device.
func (d *Device) WithSupportedSizes(sizes ...mediaformat.Dimension) *Device {
	d.sizes = append([]mediaformat.Dimension(nil), sizes...)
	return d
}

func (d *Device) ID() string                       { return d.id }
func (d *Device) Kind() Kind                       { return d.kind }
func (d *Device) MediaType() mediaformat.MediaType { return d.mediaType }

func (d *Device) Direction() direction.Direction {
	dir := direction.Inactive
	if d.capture != nil {
		dir = dir.Or(direction.SendOnly)
	}
	if d.renderer != nil {
		dir = dir.Or(direction.RecvOnly)
	}
	return dir
}

func (d *Device) CreateCaptureHandle() (engine.CaptureHandle, error) {
	if d.capture == nil {
		return nil, ErrNoCapture
	}
	return d.capture()
}

func (d *Device) CreatePipeline(src engine.DataSource, f mediaformat.Format) (engine.Pipeline, error) {
	return d.engine.NewProcessor(src, f)
}

func (d *Device) CreatePlayer(src engine.DataSource) (engine.Pipeline, error) {
	return d.engine.NewPlayer(src)
}

func (d *Device) CreateRenderer() (engine.Renderer, error) {
	if d.renderer == nil {
		return nil, fmt.Errorf("device %s cannot render", d.id)
	}
	return d.renderer()
}

func (d *Device) SupportedSizes() []mediaformat.Dimension {
	return append([]mediaformat.Dimension(nil), d.sizes...)
}
