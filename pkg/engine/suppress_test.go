package engine

import (
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	connects, disconnects int
	stream                chan frame.PCMFrame
}

func (c *countingSource) ID() string                       { return "counting" }
func (c *countingSource) MediaType() mediaformat.MediaType { return mediaformat.Audio }
func (c *countingSource) Connect() error                   { c.connects++; return nil }
func (c *countingSource) Disconnect()                      { c.disconnects++ }
func (c *countingSource) Start() error                     { return nil }
func (c *countingSource) Stop() error                      { return nil }
func (c *countingSource) GetStream() <-chan frame.PCMFrame { return c.stream }

func TestSuppressDisconnect(t *testing.T) {
	src := &countingSource{stream: make(chan frame.PCMFrame)}
	s := SuppressDisconnect(src)

	require.NoError(t, s.Connect())
	require.NoError(t, s.Connect())
	assert.Equal(t, 1, src.connects, "connect is not repeated while connected")

	s.Disconnect()
	assert.Equal(t, 0, src.disconnects, "disconnect is suppressed")

	s.ReallyDisconnect()
	s.ReallyDisconnect()
	assert.Equal(t, 1, src.disconnects)

	assert.Same(t, src, Underlying(s))
	assert.Same(t, s, SuppressDisconnect(s), "wrapping is not nested")
	assert.True(t, IsPushable(s))
	assert.Equal(t, (<-chan frame.PCMFrame)(src.stream), s.GetStream())
}
