package direction

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

var all = []Direction{Inactive, SendOnly, RecvOnly, SendRecv}

func TestLattice(t *testing.T) {
	assert.Equal(t, SendRecv, SendOnly.Or(RecvOnly))
	assert.Equal(t, RecvOnly, SendRecv.AndNot(SendOnly))
	assert.Equal(t, Inactive, SendOnly.AndNot(SendRecv))
	assert.Equal(t, SendOnly, SendRecv.And(SendOnly))
	assert.Equal(t, Inactive, SendOnly.And(RecvOnly))

	assert.True(t, SendRecv.AllowsSending())
	assert.True(t, SendRecv.AllowsReceiving())
	assert.False(t, RecvOnly.AllowsSending())
	assert.False(t, Inactive.AllowsReceiving())
}

func TestLatticeIdempotent(t *testing.T) {
	for _, d := range all {
		for _, x := range all {
			once := d.Or(x)
			assert.Equal(t, once, once.Or(x), "%v or %v twice", d, x)

			removed := d.AndNot(x)
			assert.Equal(t, removed, removed.AndNot(x), "%v andnot %v twice", d, x)
		}
	}
}

func TestReverse(t *testing.T) {
	assert.Equal(t, RecvOnly, SendOnly.Reverse())
	assert.Equal(t, SendOnly, RecvOnly.Reverse())
	assert.Equal(t, SendRecv, SendRecv.Reverse())
	assert.Equal(t, Inactive, Inactive.Reverse())
}

func TestSDPRoundTrip(t *testing.T) {
	for _, d := range all {
		assert.Equal(t, d, FromSDP(d.SDP()))
		assert.Equal(t, d, Parse(d.String()))
		assert.Equal(t, d, FromTransceiver(d.Transceiver()))
	}
	assert.Equal(t, SendOnly, FromSDP(sdp.DirectionSendOnly))
	assert.Equal(t, Inactive, Parse("sideways"))
	assert.Equal(t, Inactive, FromTransceiver(webrtc.RTPTransceiverDirectionUnknown))
}
