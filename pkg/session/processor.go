package session

import (
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
)

// --------------------------------------------------------------------------------
// Capture

func (s *Session) captureDevice() engine.CaptureHandle {
	if s.capture != nil {
		return s.capture
	}

	cd, err := s.strategies.CaptureFactory(s.device)
	if err != nil || cd == nil {
		s.logger.Error("failed to open capture device", "device", s.device.ID(), "err", err)
		s.metrics.HandleFailure("capture")
		return nil
	}
	if _, ok := cd.(engine.Muter); !ok {
		cd = device.NewMutableCaptureDevice(cd)
	}
	cd.(engine.Muter).SetMute(s.mute)

	s.logger.Debug("opened capture device", "capture", cd.ID())
	s.capture = cd
	return cd
}

func (s *Session) connectedCaptureDevice() engine.CaptureHandle {
	cd := s.captureDevice()
	if cd == nil || s.captureConnected {
		return cd
	}

	// Hints only take effect before connecting.
	if hinter, ok := cd.(engine.FormatHinter); ok {
		if f, ok := s.requestedFormat(); ok {
			if err := hinter.HintFormat(f); err != nil {
				s.logger.Debug("capture device ignored format hint", "format", f, "err", err)
			}
		}
	}

	if err := cd.Connect(); err != nil {
		s.logger.Error("failed to connect capture device", "capture", cd.ID(), "err", err)
		s.metrics.HandleFailure("connect")
		return nil
	}
	s.captureConnected = true
	s.transition(eventConnect)
	return cd
}

func (s *Session) disconnectCapture() {
	if s.capture == nil || !s.captureConnected {
		return
	}
	if err := s.capture.Stop(); err != nil {
		s.logger.Warn("failed to stop capture device", "err", err)
	}
	s.capture.Disconnect()
	s.captureConnected = false
	s.transition(eventDisconnect)
}

// --------------------------------------------------------------------------------
// Format

// The format asked of the processor. Without an explicit format, the
// capture's own format carries a requested output size.
func (s *Session) requestedFormat() (mediaformat.Format, bool) {
	if s.hasFormat {
		return s.format.WithSize(s.outputSize), true
	}
	if !s.outputSize.IsZero() && s.capture != nil {
		return s.capture.Format().WithSize(s.outputSize), true
	}
	return mediaformat.Format{}, false
}

func (s *Session) currentFormat() (mediaformat.Format, bool) {
	p := s.processorOrCreate()
	if p != nil && s.processorPhase.AtLeast(engine.Configured) {
		if f, ok := p.Format(); ok {
			return f, true
		}
	}
	return s.requestedFormat()
}

func (s *Session) setFormat(f mediaformat.Format) {
	s.format = f
	s.hasFormat = true

	p := s.processor
	if p == nil {
		return
	}
	if s.prematurelyClosed {
		s.discardProcessor("premature-close")
		s.restartIfSending()
		return
	}

	switch {
	case s.processorPhase == engine.Configured && p.State() == engine.Configured:
		s.pushFormat(p)
	case s.processorPhase.AtLeast(engine.Realized) || p.State().AtLeast(engine.Realizing):
		requested, _ := s.requestedFormat()
		negotiated, ok := p.Format()
		if !ok || !requested.Matches(negotiated) || s.outputSizeChanged {
			s.logger.Info("discarding pipeline for new format", "requested", requested, "negotiated", negotiated)
			s.discardProcessor("format")
			s.restartIfSending()
		}
	default:
		// Still configuring, the format is pushed once configured.
	}
}

func (s *Session) setOutputSize(size mediaformat.Dimension) {
	if s.outputSize == size {
		return
	}
	s.outputSize = size
	s.outputSizeChanged = true

	p := s.processor
	if p == nil {
		return
	}
	if s.processorPhase == engine.Configured && p.State() == engine.Configured {
		s.pushFormat(p)
		return
	}
	if s.processorPhase.AtLeast(engine.Realized) || s.prematurelyClosed {
		s.discardProcessor("output-size")
		s.restartIfSending()
	}
}

func (s *Session) pushFormat(p engine.Pipeline) {
	requested, ok := s.requestedFormat()
	if !ok {
		return
	}
	negotiated, err := p.SetFormat(requested)
	if err != nil {
		s.logger.Warn("pipeline rejected format", "format", requested, "err", err)
		return
	}
	s.outputSizeChanged = false
	if !negotiated.Equal(requested) {
		s.logger.Debug("pipeline negotiated a different format", "requested", requested, "negotiated", negotiated)
	}
}

// --------------------------------------------------------------------------------
// Processor

func (s *Session) processorOrCreate() engine.Pipeline {
	if s.processor != nil {
		if !s.prematurelyClosed {
			return s.processor
		}
		s.discardProcessor("premature-close")
	}

	cd := s.connectedCaptureDevice()
	if cd == nil {
		return nil
	}
	f, ok := s.requestedFormat()
	if !ok {
		f = cd.Format()
	}

	p, err := s.pipelines.CreatePipeline(cd, f)
	if err != nil {
		s.logger.Error("failed to create pipeline", "format", f, "err", err)
		s.metrics.HandleFailure("pipeline")
		return nil
	}
	p.AddListener(s.post)
	s.processor = p
	s.processorPhase = engine.Unrealized

	if err := p.Configure(); err != nil {
		s.logger.Error("failed to configure pipeline", "pipeline", p.ID(), "err", err)
		s.metrics.HandleFailure("pipeline")
		s.processor = nil
		p.Close()
		return nil
	}
	if err := s.awaitPhase(p, engine.Configured); err != nil {
		s.logger.Error("pipeline did not configure", "pipeline", p.ID(), "err", err)
		s.metrics.HandleFailure("pipeline")
		if s.processor == p {
			if s.prematurelyClosed {
				s.discardProcessor("premature-close")
			} else {
				s.processor = nil
				s.abandoned[p] = struct{}{}
			}
		}
		return nil
	}

	s.logger.Debug("created pipeline", "pipeline", p.ID(), "format", f)
	s.metrics.PipelineCreated(s.mediaType.String())
	return p
}

func (s *Session) ensureRealized(p engine.Pipeline) error {
	if s.processorPhase.AtLeast(engine.Realized) {
		return nil
	}
	if err := p.Realize(); err != nil {
		return err
	}
	return s.awaitPhase(p, engine.Realized)
}

// Stop, disconnect and close the processor. The capture handle is kept for reconnection.
func (s *Session) discardProcessor(reason string) {
	p := s.processor
	if p == nil {
		return
	}
	premature := s.prematurelyClosed
	s.processor = nil
	s.processorPhase = engine.Unrealized
	s.prematurelyClosed = false
	s.outputSizeChanged = false

	if !premature {
		if err := p.Stop(); err != nil {
			s.logger.Warn("failed to stop pipeline", "pipeline", p.ID(), "err", err)
		}
	}
	s.disconnectCapture()
	if !premature {
		p.Close()
	}

	s.logger.Debug("discarded pipeline", "pipeline", p.ID(), "reason", reason)
	s.metrics.PipelineDiscarded(s.mediaType.String(), reason)
}

func (s *Session) startSending() {
	p := s.processorOrCreate()
	if p == nil {
		return
	}
	if p.State() == engine.Started {
		return
	}
	if err := s.ensureRealized(p); err != nil {
		s.logger.Error("pipeline did not realize", "pipeline", p.ID(), "err", err)
		s.metrics.HandleFailure("pipeline")
		return
	}
	if err := s.capture.Start(); err != nil {
		s.logger.Warn("failed to start capture device", "err", err)
	}
	if err := p.Start(); err != nil {
		s.logger.Error("failed to start pipeline", "pipeline", p.ID(), "err", err)
		s.metrics.HandleFailure("pipeline")
		return
	}
	s.transition(eventStart)
}

// Stops, but keeps, a started processor.
func (s *Session) stopSending() {
	p := s.processor
	if p == nil || s.prematurelyClosed || p.State() != engine.Started {
		return
	}
	if err := p.Stop(); err != nil {
		s.logger.Warn("failed to stop pipeline", "pipeline", p.ID(), "err", err)
	}
	if err := s.capture.Stop(); err != nil {
		s.logger.Warn("failed to stop capture device", "err", err)
	}
	s.transition(eventStop)
}

func (s *Session) restartIfSending() {
	if s.startedDirection.AllowsSending() {
		s.startSending()
	}
}

func (s *Session) processorEvent(ev engine.Event) {
	p := s.processor
	switch ev.Kind {
	case engine.EventConfigureComplete:
		s.processorPhase = engine.Configured
		f, ok := s.requestedFormat()
		contentType := s.strategies.ContentDescriptor(f, ok)
		if err := p.SetContentDescriptor(contentType); err != nil {
			s.logger.Warn("failed to set content descriptor", "contentType", contentType, "err", err)
		}
		if ok {
			s.pushFormat(p)
		}
		s.transition(eventConfigure)

	case engine.EventRealizeComplete:
		s.processorPhase = engine.Realized
		if hook := s.strategies.RealizeHook; hook != nil {
			if err := hook(p); err != nil {
				s.logger.Warn("realize hook failed", "pipeline", p.ID(), "err", err)
			}
		}
		s.transition(eventRealize)

	case engine.EventClosed:
		// The session drops its reference before closing a pipeline itself.
		s.logger.Warn("pipeline closed prematurely", "pipeline", p.ID(), "expected", ev.Expected)
		s.prematurelyClosed = true

	case engine.EventError:
		s.logger.Error("pipeline error", "pipeline", p.ID(), "err", ev.Err)
		s.metrics.HandleFailure("pipeline")
	}
}

func (s *Session) abandonedEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventConfigureComplete, engine.EventRealizeComplete:
		s.logger.Debug("closing abandoned pipeline", "pipeline", ev.Source.ID())
		ev.Source.Close()
	case engine.EventClosed:
		delete(s.abandoned, ev.Source)
	}
}
