package loopback

import (
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
)

type Track struct {
	mu       sync.Mutex
	enabled  bool
	format   mediaformat.Format
	renderer engine.Renderer
	codecs   []engine.Codec
	codecErr error
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *Track) Format() mediaformat.Format {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format
}

func (t *Track) setFormat(f mediaformat.Format) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.format = f
}

func (t *Track) SetRenderer(r engine.Renderer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.renderer = r
	return nil
}

func (t *Track) Renderer() engine.Renderer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.renderer
}

func (t *Track) SetCodecChain(codecs ...engine.Codec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.codecErr != nil {
		return t.codecErr
	}
	t.codecs = append([]engine.Codec(nil), codecs...)
	return nil
}

func (t *Track) CodecChain() []engine.Codec {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]engine.Codec(nil), t.codecs...)
}

// Make SetCodecChain fail with err. A nil err accepts codec chains again.
func (t *Track) RejectCodecChains(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codecErr = err
}
