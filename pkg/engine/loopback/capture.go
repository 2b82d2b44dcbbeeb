package loopback

import (
	"errors"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
)

var ErrAlreadyConnected = errors.New("capture already connected")

// A capture handle fed by the caller through Push.
//
// Connecting twice without an intervening Disconnect is an error, so tests
// can assert a capture is never double-connected.
type Capture struct {
	id     string
	format mediaformat.Format
	stream chan frame.PCMFrame

	mu          sync.Mutex
	connected   bool
	started     bool
	connects    int
	disconnects int
	connectErr  error
	hinted      []mediaformat.Format
}

func NewCapture(id string, f mediaformat.Format) *Capture {
	return &Capture{
		id:     id,
		format: f,
		stream: make(chan frame.PCMFrame, 16),
	}
}

func (c *Capture) ID() string                       { return c.id }
func (c *Capture) MediaType() mediaformat.MediaType { return c.format.MediaType }
func (c *Capture) Format() mediaformat.Format       { return c.format }
func (c *Capture) GetStream() <-chan frame.PCMFrame { return c.stream }

func (c *Capture) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	if c.connected {
		return ErrAlreadyConnected
	}
	c.connected = true
	c.connects++
	return nil
}

func (c *Capture) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	c.connected = false
	c.started = false
	c.disconnects++
}

func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return engine.ErrWrongState
	}
	c.started = true
	return nil
}

func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	return nil
}

func (c *Capture) HintFormat(f mediaformat.Format) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hinted = append(c.hinted, f)
	return nil
}

// Push a frame if the capture is started. Returns false if it was dropped.
func (c *Capture) Push(f frame.PCMFrame) bool {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return false
	}
	select {
	case c.stream <- f:
		return true
	default:
		return false
	}
}

// Make subsequent Connect calls fail with err. A nil err clears the failure.
func (c *Capture) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *Capture) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Capture) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Capture) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *Capture) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func (c *Capture) Hinted() []mediaformat.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mediaformat.Format(nil), c.hinted...)
}

// --------------------------------------------------------------------------------

type ReceiveStream struct {
	ssrc  int64
	src   engine.DataSource
	csrcs []uint32
}

func NewReceiveStream(ssrc int64, src engine.DataSource, csrcs ...uint32) *ReceiveStream {
	return &ReceiveStream{ssrc: ssrc, src: src, csrcs: csrcs}
}

func (r *ReceiveStream) SSRC() int64                   { return r.ssrc }
func (r *ReceiveStream) DataSource() engine.DataSource { return r.src }
func (r *ReceiveStream) CSRCs() []uint32               { return r.csrcs }
