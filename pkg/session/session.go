// Package session implements media device sessions: the capture handle,
// processing pipeline and playback players opened on one media device for
// one stream.
//
// Each Session is an actor. Public methods are executed one at a time on the
// session's goroutine, and pipeline events reported by the engine are queued
// to the same goroutine, so capture and pipeline state is never shared.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/direction"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediadevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pion/rtp"
)

const DefaultPipelineTimeout = 5 * time.Second

type Builder struct {
	device     mediadevice.MediaDevice
	logger     *slog.Logger
	metrics    *metrics.Metrics
	strategies Strategies
	timeout    time.Duration
}

func NewBuilder(device mediadevice.MediaDevice) *Builder {
	return &Builder{device: device, timeout: DefaultPipelineTimeout}
}

// If logger is nil, slog.Default() is used.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

func (b *Builder) WithStrategies(s Strategies) *Builder {
	b.strategies = s
	return b
}

// Bound on waiting for a new pipeline to configure or realize.
func (b *Builder) WithPipelineTimeout(d time.Duration) *Builder {
	if d > 0 {
		b.timeout = d
	}
	return b
}

func (b *Builder) Build() (*Session, error) {
	if b.device == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidArgument)
	}
	pipelines, ok := b.device.(mediadevice.PipelineCapable)
	if !ok {
		return nil, fmt.Errorf("%w: device %s cannot create pipelines", ErrInvalidArgument, b.device.ID())
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()

	s := &Session{
		id:         id,
		logger:     logger.With("session uuid", id, "media type", b.device.MediaType()),
		metrics:    b.metrics,
		device:     b.device,
		pipelines:  pipelines,
		mediaType:  b.device.MediaType(),
		strategies: b.strategies.withDefaults(pipelines),
		timeout:    b.timeout,
		commands:   make(chan func()),
		events:     make(chan engine.Event, 64),
		stopped:    make(chan struct{}),
		abandoned:  make(map[engine.Pipeline]struct{}),
	}
	s.machine = newStateMachine(s.stateEntered)

	go s.run()
	return s, nil
}

type Session struct {
	id         uuid.UUID
	logger     *slog.Logger
	metrics    *metrics.Metrics
	device     mediadevice.MediaDevice
	pipelines  mediadevice.PipelineCapable
	mediaType  mediaformat.MediaType
	strategies Strategies
	timeout    time.Duration

	commands chan func()
	events   chan engine.Event
	stopped  chan struct{}

	machine *fsm.FSM

	// ----------------------------------------
	// Owned by the session goroutine.

	closed           bool
	startedDirection direction.Direction
	mute             bool

	format            mediaformat.Format
	hasFormat         bool
	outputSize        mediaformat.Dimension
	outputSizeChanged bool

	capture          engine.CaptureHandle
	captureConnected bool

	processor         engine.Pipeline
	processorPhase    engine.State
	prematurelyClosed bool
	// Pipelines given up on while configuring, closed once they report in.
	abandoned map[engine.Pipeline]struct{}

	// ----------------------------------------
	// Written by the session goroutine, read from anywhere.

	playbackMu sync.RWMutex
	playbacks  []*playback
}

func (s *Session) ID() uuid.UUID                    { return s.id }
func (s *Session) Device() mediadevice.MediaDevice  { return s.device }
func (s *Session) MediaType() mediaformat.MediaType { return s.mediaType }
func (s *Session) Logger() *slog.Logger             { return s.logger }

func (s *Session) State() State {
	return State(s.machine.Current())
}

// Closed once the session has fully closed.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

// --------------------------------------------------------------------------------
// Actor

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case cmd := <-s.commands:
			cmd()
		case ev := <-s.events:
			s.handleEvent(ev)
		}
		if s.closed {
			s.logger.Debug("session goroutine exiting")
			return
		}
	}
}

// Run fn on the session goroutine and wait for it to finish.
func (s *Session) do(fn func()) error {
	reply := make(chan struct{})
	cmd := func() {
		defer close(reply)
		fn()
	}
	select {
	case s.commands <- cmd:
	case <-s.stopped:
		return ErrSessionClosed
	}
	select {
	case <-reply:
		return nil
	case <-s.stopped:
		select {
		case <-reply:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// Queue a pipeline event for the session goroutine. Used as the engine listener.
func (s *Session) post(ev engine.Event) {
	select {
	case s.events <- ev:
	case <-s.stopped:
	}
}

// Inject queues a synthetic pipeline event, as if reported by the engine.
func (s *Session) Inject(ev engine.Event) {
	s.post(ev)
}

func (s *Session) transition(event string) {
	if err := s.machine.Event(context.Background(), event); err != nil {
		s.logger.Debug("state machine ignored event", "event", event, "state", s.machine.Current(), "err", err)
	}
}

func (s *Session) stateEntered(from, to string) {
	s.logger.Debug("session state changed", "from", from, "to", to)
	s.metrics.StateTransition(s.mediaType.String(), from, to)
}

// Process pipeline events until cond holds, the pipeline is dropped or the timeout passes.
//
// Only pipeline events are processed here. Commands stay queued, since
// the command waiting is the one in progress.
func (s *Session) awaitPhase(p engine.Pipeline, target engine.State) error {
	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()
	for {
		if s.processor != p || s.prematurelyClosed {
			return fmt.Errorf("pipeline %s closed while waiting for %s", p.ID(), target)
		}
		if s.processorPhase.AtLeast(target) {
			return nil
		}
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-deadline.C:
			return fmt.Errorf("waiting for %s: %w", target, engine.ErrTimeout)
		}
	}
}

func (s *Session) handleEvent(ev engine.Event) {
	if ev.Source == nil {
		s.logger.Debug("ignoring event without source", "event", ev.Kind)
		return
	}
	if s.processor != nil && ev.Source == s.processor {
		s.processorEvent(ev)
		return
	}
	if pb := s.playbackByPlayer(ev.Source); pb != nil {
		s.playerEvent(pb, ev)
		return
	}
	if _, ok := s.abandoned[ev.Source]; ok {
		s.abandonedEvent(ev)
		return
	}
	s.logger.Debug("ignoring event from stale pipeline", "event", ev.Kind, "pipeline", ev.Source.ID())
}

// --------------------------------------------------------------------------------
// Public operations

// The capture handle of the session, opened on first use. Nil if the device cannot capture.
func (s *Session) CaptureDevice() engine.CaptureHandle {
	var cd engine.CaptureHandle
	s.do(func() { cd = s.captureDevice() })
	return cd
}

// The capture handle, connected. Nil if it could not be opened or connected.
func (s *Session) ConnectedCaptureDevice() engine.CaptureHandle {
	var cd engine.CaptureHandle
	s.do(func() { cd = s.connectedCaptureDevice() })
	return cd
}

// The format the session's processor produces. Before a processor exists,
// the requested format. False when neither is known.
func (s *Session) Format() (mediaformat.Format, bool) {
	var (
		f  mediaformat.Format
		ok bool
	)
	s.do(func() { f, ok = s.currentFormat() })
	return f, ok
}

func (s *Session) SetFormat(f mediaformat.Format) error {
	if f.MediaType != s.mediaType {
		return fmt.Errorf("%w: %s format for %s session", ErrInvalidArgument, f.MediaType, s.mediaType)
	}
	return s.do(func() { s.setFormat(f) })
}

// Start the session in dir, in addition to any direction already started.
func (s *Session) Start(dir direction.Direction) error {
	return s.do(func() {
		old := s.startedDirection
		s.setStartedDirection(old, old.Or(dir))
	})
}

// Stop the session in dir. Other started directions are unaffected.
func (s *Session) Stop(dir direction.Direction) error {
	return s.do(func() {
		old := s.startedDirection
		s.setStartedDirection(old, old.AndNot(dir))
	})
}

func (s *Session) StartedDirection() direction.Direction {
	var dir direction.Direction
	s.do(func() { dir = s.startedDirection })
	return dir
}

// Close stops the session in dir and releases the handles serving it.
//
// Capture is stopped and disconnected before any playback is torn down.
// Closing in direction.SendRecv ends the session.
func (s *Session) Close(dir direction.Direction) error {
	return s.do(func() { s.close(dir) })
}

func (s *Session) SetMute(mute bool) error {
	return s.do(func() {
		s.mute = mute
		if s.capture != nil {
			s.capture.(engine.Muter).SetMute(mute)
		}
	})
}

func (s *Session) IsMute() bool {
	var mute bool
	s.do(func() { mute = s.mute })
	return mute
}

// Packets from the processor, once one exists.
func (s *Session) Output() (<-chan *rtp.Packet, bool) {
	var (
		out <-chan *rtp.Packet
		ok  bool
	)
	s.do(func() {
		if s.processor != nil && !s.prematurelyClosed {
			out, ok = s.processor.Output(), true
		}
	})
	return out, ok
}

// The processor, if one exists and has not closed underneath the session.
func (s *Session) Processor() engine.Pipeline {
	var p engine.Pipeline
	s.do(func() {
		if !s.prematurelyClosed {
			p = s.processor
		}
	})
	return p
}

func (s *Session) setStartedDirection(old, new direction.Direction) {
	if old == new {
		return
	}
	s.startedDirection = new
	s.logger.Debug("started direction changed", "from", old, "to", new)

	switch {
	case new.AllowsSending() && !old.AllowsSending():
		s.startSending()
	case !new.AllowsSending() && old.AllowsSending():
		s.stopSending()
	}
	switch {
	case new.AllowsReceiving() && !old.AllowsReceiving():
		s.startPlayback()
	case !new.AllowsReceiving() && old.AllowsReceiving():
		s.stopPlayback()
	}

	if hook := s.strategies.StartedDirectionHook; hook != nil {
		hook(old, new)
	}
}

func (s *Session) close(dir direction.Direction) {
	dir = dir.And(direction.SendRecv)
	if dir == direction.Inactive {
		return
	}
	s.logger.Debug("closing session", "direction", dir)

	// The capture is released before any player is stopped.
	if dir.AllowsSending() {
		s.stopSending()
		p := s.processor
		premature := s.prematurelyClosed
		s.processor = nil
		s.processorPhase = engine.Unrealized
		s.prematurelyClosed = false

		s.disconnectCapture()
		if p != nil && !premature {
			p.Close()
		}
		s.capture = nil
	}

	old := s.startedDirection
	s.setStartedDirection(old, old.AndNot(dir))

	if dir.AllowsReceiving() {
		s.removeAllPlaybacks()
	}

	if dir == direction.SendRecv {
		for p := range s.abandoned {
			p.Close()
		}
		clear(s.abandoned)
		s.transition(eventClose)
		s.closed = true
	}
}
