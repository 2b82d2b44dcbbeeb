package session

import (
	"fmt"
	"slices"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediadevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
)

// A Session on a video device, with output size negotiation.
type VideoSession struct {
	*Session
	sizes []mediaformat.Dimension
}

// Build a video session. Supported sizes come from the device, or sizes if
// the device does not list its own.
func NewVideoSession(b *Builder, sizes ...mediaformat.Dimension) (*VideoSession, error) {
	if b.device != nil && b.device.MediaType() != mediaformat.Video {
		return nil, fmt.Errorf("%w: %s device for video session", ErrInvalidArgument, b.device.MediaType())
	}
	s, err := b.Build()
	if err != nil {
		return nil, err
	}
	if sc, ok := s.device.(mediadevice.SizeCapable); ok && len(sc.SupportedSizes()) > 0 {
		sizes = sc.SupportedSizes()
	}
	return &VideoSession{Session: s, sizes: slices.Clone(sizes)}, nil
}

func (v *VideoSession) SupportedSizes() []mediaformat.Dimension {
	return slices.Clone(v.sizes)
}

// Ask the processor for frames of size. The zero Dimension restores the
// capture's own size. A processor already past configuration is recreated.
func (v *VideoSession) SetOutputSize(size mediaformat.Dimension) error {
	if !size.IsZero() && len(v.sizes) > 0 && !slices.Contains(v.sizes, size) {
		return fmt.Errorf("%w: unsupported output size %s", ErrInvalidArgument, size)
	}
	return v.do(func() { v.setOutputSize(size) })
}

func (v *VideoSession) OutputSize() mediaformat.Dimension {
	var size mediaformat.Dimension
	v.do(func() { size = v.outputSize })
	return size
}
