package loopback

import (
	"encoding/binary"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/pion/rtp"
)

// Dynamic payload type used for L16 output.
const payloadTypeL16 = 96

type Pipeline struct {
	id     string
	engine *Engine
	src    engine.DataSource
	player bool
	logger *slog.Logger

	mu          sync.Mutex
	state       engine.State
	listeners   []engine.Listener
	format      mediaformat.Format
	contentType string
	tracks      []*Track
	fed         bool
	stopStream  chan struct{}
	streamWG    sync.WaitGroup
	output      chan *rtp.Packet

	// Guards sends on events against the final close.
	emitMu       sync.Mutex
	eventsClosed bool
	events       chan engine.Event
}

func (p *Pipeline) ID() string {
	return p.id
}

func (p *Pipeline) IsPlayer() bool {
	return p.player
}

func (p *Pipeline) DataSource() engine.DataSource {
	return p.src
}

func (p *Pipeline) State() engine.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) AddListener(l engine.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Pipeline) ContentDescriptor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contentType
}

func (p *Pipeline) Output() <-chan *rtp.Packet {
	return p.output
}

func (p *Pipeline) Tracks() []engine.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	tracks := make([]engine.Track, len(p.tracks))
	for i, t := range p.tracks {
		tracks[i] = t
	}
	return tracks
}

// --------------------------------------------------------------------------------
// State progression

func (p *Pipeline) Configure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != engine.Unrealized {
		return engine.ErrWrongState
	}
	p.state = engine.Configuring
	if p.engine.stall.Load() {
		return nil
	}
	p.after(p.CompleteConfigure)
	return nil
}

// CompleteConfigure finishes a pending Configure. Only needed when the engine is stalled.
func (p *Pipeline) CompleteConfigure() {
	p.mu.Lock()
	if p.state != engine.Configuring {
		p.mu.Unlock()
		return
	}
	p.state = engine.Configured
	p.mu.Unlock()
	p.emit(engine.Event{Kind: engine.EventConfigureComplete})
}

func (p *Pipeline) Realize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case engine.Realizing, engine.Realized, engine.Prefetched, engine.Started:
		return nil
	case engine.Configured:
	default:
		return engine.ErrWrongState
	}
	p.state = engine.Realizing
	p.after(func() {
		p.mu.Lock()
		if p.state != engine.Realizing {
			p.mu.Unlock()
			return
		}
		p.state = engine.Realized
		p.mu.Unlock()
		p.emit(engine.Event{Kind: engine.EventRealizeComplete})
	})
	return nil
}

func (p *Pipeline) Start() error {
	p.mu.Lock()
	switch p.state {
	case engine.Started:
		p.mu.Unlock()
		return nil
	case engine.Realized, engine.Prefetched:
	default:
		p.mu.Unlock()
		return engine.ErrWrongState
	}
	p.state = engine.Started
	p.stopStream = make(chan struct{})
	if p.player {
		p.startRenderers()
	} else if src, ok := engine.Underlying(p.src).(engine.PCMSource); ok {
		p.streamWG.Add(1)
		go p.packetize(src.GetStream(), p.stopStream, p.format.Properties.NumChannels)
	}
	p.mu.Unlock()

	p.emit(engine.Event{Kind: engine.EventStarted})
	return nil
}

func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state != engine.Started {
		p.mu.Unlock()
		return nil
	}
	p.state = engine.Prefetched
	p.stopStreaming()
	p.mu.Unlock()

	p.streamWG.Wait()
	p.emit(engine.Event{Kind: engine.EventStopped})
	return nil
}

func (p *Pipeline) Close() {
	p.close(true)
}

// CloseUnexpectedly closes the pipeline as if the engine had failed underneath it.
func (p *Pipeline) CloseUnexpectedly() {
	p.close(false)
}

// Fail reports an engine error without changing state.
func (p *Pipeline) Fail(err error) {
	p.emit(engine.Event{Kind: engine.EventError, Err: err})
}

func (p *Pipeline) close(expected bool) {
	p.mu.Lock()
	if p.state == engine.Closed {
		p.mu.Unlock()
		return
	}
	p.state = engine.Closed
	p.stopStreaming()
	p.mu.Unlock()

	p.streamWG.Wait()
	close(p.output)

	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.events <- engine.Event{Kind: engine.EventClosed, Source: p, Expected: expected}
	p.eventsClosed = true
	close(p.events)
}

// --------------------------------------------------------------------------------
// Format and content

func (p *Pipeline) SetContentDescriptor(contentType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.AtLeast(engine.Configured) {
		return engine.ErrWrongState
	}
	p.contentType = contentType
	return nil
}

func (p *Pipeline) SetFormat(f mediaformat.Format) (mediaformat.Format, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != engine.Configured {
		return mediaformat.Format{}, engine.ErrWrongState
	}
	negotiated, err := p.engine.negotiate(f)
	if err != nil {
		return mediaformat.Format{}, err
	}
	p.format = negotiated
	for _, t := range p.tracks {
		t.setFormat(negotiated)
	}
	return negotiated, nil
}

func (p *Pipeline) Format() (mediaformat.Format, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format, !p.format.IsZero()
}

// --------------------------------------------------------------------------------

// Call with p.mu held.
func (p *Pipeline) stopStreaming() {
	if p.stopStream != nil {
		close(p.stopStream)
		p.stopStream = nil
	}
	if p.player {
		for _, t := range p.tracks {
			if r := t.Renderer(); r != nil {
				if err := r.Stop(); err != nil {
					p.logger.Warn("failed to stop renderer", "renderer", r.Name(), "err", err)
				}
			}
		}
	}
}

// Call with p.mu held.
func (p *Pipeline) startRenderers() {
	pcm, pushes := engine.Underlying(p.src).(engine.PCMSource)
	for _, t := range p.tracks {
		r := t.Renderer()
		if r == nil || !t.Enabled() {
			continue
		}
		if err := r.Start(); err != nil {
			p.logger.Warn("failed to start renderer", "renderer", r.Name(), "err", err)
			continue
		}
		// A sink can only be handed its stream once.
		if sink, ok := r.(audiodevice.AudioSinkDevice); ok && pushes && !p.fed {
			sink.SetStream(pcm.GetStream())
			p.fed = true
		}
	}
}

func (p *Pipeline) packetize(stream <-chan frame.PCMFrame, stop <-chan struct{}, channels int) {
	defer p.streamWG.Done()

	if channels == 0 {
		channels = 1
	}
	sequence := uint16(rand.UintN(math.MaxUint16))
	ssrc := rand.Uint32()
	var timestamp uint32

	for {
		select {
		case <-stop:
			return
		case f, ok := <-stream:
			if !ok {
				return
			}
			packet := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    payloadTypeL16,
					SequenceNumber: sequence,
					Timestamp:      timestamp,
					SSRC:           ssrc,
				},
				Payload: encodeL16(f),
			}
			select {
			case p.output <- packet:
			default:
				p.logger.Debug("dropping packet, output is full")
			}
			sequence++
			timestamp += uint32(len(f) / channels)
		}
	}
}

func encodeL16(f frame.PCMFrame) []byte {
	payload := make([]byte, 2*len(f))
	for i, sample := range f {
		s := max(-1, min(1, sample))
		binary.BigEndian.PutUint16(payload[2*i:], uint16(int16(s*math.MaxInt16)))
	}
	return payload
}

func (p *Pipeline) after(fn func()) {
	if p.engine.eventDelay <= 0 {
		go fn()
		return
	}
	time.AfterFunc(p.engine.eventDelay, fn)
}

func (p *Pipeline) emit(ev engine.Event) {
	ev.Source = p
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if p.eventsClosed {
		return
	}
	p.events <- ev
}

// Delivers events in order on an engine-owned goroutine.
func (p *Pipeline) dispatch() {
	for ev := range p.events {
		p.mu.Lock()
		listeners := append([]engine.Listener(nil), p.listeners...)
		p.mu.Unlock()
		for _, l := range listeners {
			l(ev)
		}
	}
}
