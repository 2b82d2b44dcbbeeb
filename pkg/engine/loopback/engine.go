// Package loopback is an in-process media engine. Processors packetize the
// PCM pushed by their capture source as L16 RTP, players feed their source
// to the renderers injected into their tracks.
package loopback

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/google/uuid"
	"github.com/pion/rtp"
)

// Decides the format a pipeline produces when asked for requested.
type Negotiator func(requested mediaformat.Format) (mediaformat.Format, error)

type Engine struct {
	logger     *slog.Logger
	eventDelay time.Duration
	negotiate  Negotiator
	outputSize int

	// When set, new pipelines stay Configuring until CompleteConfigure is called.
	stall atomic.Bool

	mu        sync.Mutex
	pipelines []*Pipeline
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Delay between a Configure/Realize call and its completion event.
func WithEventDelay(d time.Duration) Option {
	return func(e *Engine) { e.eventDelay = d }
}

func WithNegotiator(n Negotiator) Option {
	return func(e *Engine) { e.negotiate = n }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		negotiate:  func(f mediaformat.Format) (mediaformat.Format, error) { return f, nil },
		outputSize: 64,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Stall makes subsequently configured pipelines wait for CompleteConfigure.
func (e *Engine) Stall(stall bool) {
	e.stall.Store(stall)
}

func (e *Engine) NewProcessor(src engine.DataSource, f mediaformat.Format) (engine.Pipeline, error) {
	if src == nil {
		return nil, fmt.Errorf("processor needs a data source")
	}
	return e.newPipeline(src, f, false), nil
}

func (e *Engine) NewPlayer(src engine.DataSource) (engine.Pipeline, error) {
	if src == nil {
		return nil, fmt.Errorf("player needs a data source")
	}
	var f mediaformat.Format
	if h, ok := engine.Underlying(src).(engine.CaptureHandle); ok {
		f = h.Format()
	}
	return e.newPipeline(src, f, true), nil
}

// Every pipeline created so far, oldest first.
func (e *Engine) Pipelines() []*Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Pipeline(nil), e.pipelines...)
}

func (e *Engine) Processors() []*Pipeline {
	return e.filter(false)
}

func (e *Engine) Players() []*Pipeline {
	return e.filter(true)
}

func (e *Engine) filter(players bool) []*Pipeline {
	var out []*Pipeline
	for _, p := range e.Pipelines() {
		if p.player == players {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) newPipeline(src engine.DataSource, f mediaformat.Format, player bool) *Pipeline {
	id := uuid.NewString()
	kind := "processor"
	if player {
		kind = "player"
	}
	p := &Pipeline{
		id:     id,
		engine: e,
		src:    src,
		player: player,
		logger: e.logger.With("pipeline uuid", id, "kind", kind),
		format: f,
		output: make(chan *rtp.Packet, e.outputSize),
		events: make(chan engine.Event, 32),
	}
	p.tracks = []*Track{{enabled: true, format: f}}
	go p.dispatch()

	e.mu.Lock()
	e.pipelines = append(e.pipelines, p)
	e.mu.Unlock()
	return p
}
