package session

import (
	"slices"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediadevice"
)

// A snapshot of one playback entry.
//
// Source is nil for receive streams that carry no data source. Player is
// only set while the entry is being played.
type PlaybackEntry struct {
	Source        engine.DataSource
	ReceiveStream engine.ReceiveStream
	Player        engine.Pipeline
}

type playback struct {
	source    engine.DataSource
	stream    engine.ReceiveStream
	player    engine.Pipeline
	renderers []engine.Renderer
}

// Call with playbackMu held.
func (pb *playback) entry() PlaybackEntry {
	return PlaybackEntry{Source: pb.source, ReceiveStream: pb.stream, Player: pb.player}
}

func (s *Session) PlaybackEntries() []PlaybackEntry {
	s.playbackMu.RLock()
	defer s.playbackMu.RUnlock()
	entries := make([]PlaybackEntry, len(s.playbacks))
	for i, pb := range s.playbacks {
		entries[i] = pb.entry()
	}
	return entries
}

func (s *Session) PlaybackDataSources() []engine.DataSource {
	s.playbackMu.RLock()
	defer s.playbackMu.RUnlock()
	var sources []engine.DataSource
	for _, pb := range s.playbacks {
		if pb.source != nil {
			sources = append(sources, pb.source)
		}
	}
	return sources
}

// Play src locally. Returns false if src is nil or already played.
func (s *Session) AddPlaybackDataSource(src engine.DataSource) bool {
	if src == nil {
		return false
	}
	added := false
	s.do(func() {
		if s.playbackBySource(src) != nil {
			return
		}
		pb := &playback{source: src}
		s.appendPlayback(pb)
		added = true
		if s.startedDirection.AllowsReceiving() && s.wantsPlayer(pb) {
			s.createPlayer(pb)
		}
	})
	return added
}

func (s *Session) RemovePlaybackDataSource(src engine.DataSource) bool {
	if src == nil {
		return false
	}
	removed := false
	s.do(func() {
		if pb := s.playbackBySource(src); pb != nil {
			s.removePlayback(pb)
			removed = true
		}
	})
	return removed
}

// Track a stream received from a remote peer. Pushable data sources are
// shared, so the entry only ever really disconnects them on removal.
func (s *Session) AddReceiveStream(rs engine.ReceiveStream) bool {
	if rs == nil {
		return false
	}
	added := false
	s.do(func() {
		if s.playbackByStream(rs) != nil {
			return
		}
		src := rs.DataSource()
		if src != nil && engine.IsPushable(src) {
			src = engine.SuppressDisconnect(src)
		}
		pb := &playback{source: src, stream: rs}
		s.appendPlayback(pb)
		added = true
		if s.startedDirection.AllowsReceiving() && s.wantsPlayer(pb) {
			s.createPlayer(pb)
		}
	})
	return added
}

// Stop playing rs and forget it.
func (s *Session) RemoveReceiveStream(rs engine.ReceiveStream) bool {
	if rs == nil {
		return false
	}
	removed := false
	s.do(func() {
		if pb := s.playbackByStream(rs); pb != nil {
			s.removePlayback(pb)
			removed = true
		}
	})
	return removed
}

func (s *Session) ReceiveStreams() []engine.ReceiveStream {
	s.playbackMu.RLock()
	defer s.playbackMu.RUnlock()
	var streams []engine.ReceiveStream
	for _, pb := range s.playbacks {
		if pb.stream != nil {
			streams = append(streams, pb.stream)
		}
	}
	return streams
}

// --------------------------------------------------------------------------------

func (s *Session) playbackBySource(src engine.DataSource) *playback {
	want := engine.Underlying(src)
	s.playbackMu.RLock()
	defer s.playbackMu.RUnlock()
	for _, pb := range s.playbacks {
		if pb.source != nil && engine.Underlying(pb.source) == want {
			return pb
		}
	}
	return nil
}

func (s *Session) playbackByStream(rs engine.ReceiveStream) *playback {
	s.playbackMu.RLock()
	defer s.playbackMu.RUnlock()
	for _, pb := range s.playbacks {
		if pb.stream != nil && pb.stream.SSRC() == rs.SSRC() {
			return pb
		}
	}
	return nil
}

func (s *Session) playbackByPlayer(p engine.Pipeline) *playback {
	s.playbackMu.RLock()
	defer s.playbackMu.RUnlock()
	for _, pb := range s.playbacks {
		if pb.player != nil && pb.player == p {
			return pb
		}
	}
	return nil
}

func (s *Session) appendPlayback(pb *playback) {
	s.playbackMu.Lock()
	s.playbacks = append(s.playbacks, pb)
	entry := pb.entry()
	s.playbackMu.Unlock()

	s.notifyPlayback(entry, true)
}

func (s *Session) removePlayback(pb *playback) {
	s.disposePlayer(pb)
	if suppressed, ok := pb.source.(*engine.SuppressedSource); ok {
		suppressed.ReallyDisconnect()
	}

	s.playbackMu.Lock()
	s.playbacks = slices.DeleteFunc(s.playbacks, func(other *playback) bool { return other == pb })
	entry := pb.entry()
	s.playbackMu.Unlock()

	s.notifyPlayback(entry, false)
}

func (s *Session) removeAllPlaybacks() {
	s.playbackMu.RLock()
	all := slices.Clone(s.playbacks)
	s.playbackMu.RUnlock()

	for _, pb := range all {
		s.removePlayback(pb)
	}
}

// Hooks run without the playback lock, so they may read the entries.
func (s *Session) notifyPlayback(entry PlaybackEntry, added bool) {
	if hook := s.strategies.PlaybackHook; hook != nil {
		hook(PlaybackChange{Entry: entry, Added: added})
	}
}

func (s *Session) wantsPlayer(pb *playback) bool {
	if pb.source == nil {
		return false
	}
	return s.strategies.PlaybackFilter(pb.stream)
}

// --------------------------------------------------------------------------------
// Players

func (s *Session) startPlayback() {
	s.playbackMu.RLock()
	all := slices.Clone(s.playbacks)
	s.playbackMu.RUnlock()

	for _, pb := range all {
		if pb.player == nil && s.wantsPlayer(pb) {
			s.createPlayer(pb)
		}
	}
}

func (s *Session) stopPlayback() {
	s.playbackMu.RLock()
	all := slices.Clone(s.playbacks)
	s.playbackMu.RUnlock()

	for _, pb := range all {
		s.disposePlayer(pb)
	}
}

func (s *Session) createPlayer(pb *playback) {
	if pb.source == nil {
		return
	}
	if err := pb.source.Connect(); err != nil {
		s.logger.Warn("failed to connect playback data source", "source", pb.source.ID(), "err", err)
		s.metrics.HandleFailure("player")
		return
	}

	p, err := s.strategies.PlayerFactory(s.device, pb.source)
	if err != nil {
		s.logger.Error("failed to create player", "source", pb.source.ID(), "err", err)
		s.metrics.HandleFailure("player")
		return
	}
	p.AddListener(s.post)

	s.playbackMu.Lock()
	pb.player = p
	s.playbackMu.Unlock()

	if err := p.Configure(); err != nil {
		s.logger.Error("failed to configure player", "player", p.ID(), "err", err)
		s.metrics.HandleFailure("player")
		s.disposePlayer(pb)
	}
}

func (s *Session) disposePlayer(pb *playback) {
	s.playbackMu.Lock()
	p := pb.player
	pb.player = nil
	s.playbackMu.Unlock()
	if p == nil {
		return
	}

	if err := p.Stop(); err != nil {
		s.logger.Warn("failed to stop player", "player", p.ID(), "err", err)
	}
	p.Close()
	for _, r := range pb.renderers {
		r.Close()
	}
	pb.renderers = nil
	pb.source.Disconnect()
}

func (s *Session) playerEvent(pb *playback, ev engine.Event) {
	p := pb.player
	switch ev.Kind {
	case engine.EventConfigureComplete:
		s.injectRenderers(pb, p)
		if err := p.SetContentDescriptor(""); err != nil {
			s.logger.Debug("player rejected content descriptor", "player", p.ID(), "err", err)
		}
		if err := p.Realize(); err != nil {
			s.logger.Warn("failed to realize player", "player", p.ID(), "err", err)
		}

	case engine.EventRealizeComplete:
		if err := p.Start(); err != nil {
			s.logger.Warn("failed to start player", "player", p.ID(), "err", err)
		}

	case engine.EventClosed:
		s.logger.Warn("player closed prematurely", "player", p.ID(), "expected", ev.Expected)
		s.playbackMu.Lock()
		pb.player = nil
		s.playbackMu.Unlock()
		for _, r := range pb.renderers {
			r.Close()
		}
		pb.renderers = nil

	case engine.EventError:
		s.logger.Error("player error", "player", p.ID(), "err", ev.Err)
		s.metrics.HandleFailure("player")
	}
}

func (s *Session) injectRenderers(pb *playback, p engine.Pipeline) {
	rc, ok := s.device.(mediadevice.RenderCapable)
	if !ok {
		return
	}
	for _, t := range p.Tracks() {
		if !t.Enabled() {
			continue
		}
		r, err := rc.CreateRenderer()
		if err != nil {
			s.logger.Warn("failed to create renderer", "err", err)
			s.metrics.HandleFailure("renderer")
			continue
		}
		if err := t.SetRenderer(r); err != nil {
			s.logger.Warn("track rejected renderer", "renderer", r.Name(), "err", err)
			r.Close()
			continue
		}
		pb.renderers = append(pb.renderers, r)
	}
}
