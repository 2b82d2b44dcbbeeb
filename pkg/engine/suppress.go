package engine

import (
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
)

// A DataSource delegate that ignores Disconnect.
//
// Pushable receive-stream sources are shared with the rest of the media
// stack, so a player tearing down must not disconnect them. The owner of the
// playback entry calls ReallyDisconnect when the entry is removed.
type SuppressedSource struct {
	DataSource

	mu        sync.Mutex
	connected bool
}

func SuppressDisconnect(src DataSource) *SuppressedSource {
	if s, ok := src.(*SuppressedSource); ok {
		return s
	}
	return &SuppressedSource{DataSource: src}
}

// Connect connects the underlying source at most once.
func (s *SuppressedSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if err := s.DataSource.Connect(); err != nil {
		return err
	}
	s.connected = true
	return nil
}

func (s *SuppressedSource) Disconnect() {}

func (s *SuppressedSource) ReallyDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	s.DataSource.Disconnect()
}

func (s *SuppressedSource) Unwrap() DataSource {
	return s.DataSource
}

// Forwards the underlying stream, or nil when the source does not push PCM.
func (s *SuppressedSource) GetStream() <-chan frame.PCMFrame {
	if p, ok := s.DataSource.(PCMSource); ok {
		return p.GetStream()
	}
	return nil
}

// Unwrap a possibly suppressed source, for identity comparisons.
func Underlying(src DataSource) DataSource {
	if s, ok := src.(*SuppressedSource); ok {
		return s.DataSource
	}
	return src
}

// IsPushable reports whether src pushes PCM frames to its consumers.
func IsPushable(src DataSource) bool {
	_, ok := Underlying(src).(PCMSource)
	return ok
}
