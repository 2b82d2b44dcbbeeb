// Package direction implements the media direction lattice shared by
// sessions, streams and devices.
package direction

import (
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// A media direction, as a set of the "send" and "receive" capabilities.
//
// Or and AndNot are the lattice join and difference, so starting or stopping
// a session in a direction it is already (not) started in is a no-op.
type Direction uint8

const (
	sendBit Direction = 1 << iota
	receiveBit
)

const (
	Inactive Direction = 0
	SendOnly           = sendBit
	RecvOnly           = receiveBit
	SendRecv           = sendBit | receiveBit
)

func (d Direction) Or(other Direction) Direction {
	return (d | other) & SendRecv
}

func (d Direction) AndNot(other Direction) Direction {
	return d &^ other & SendRecv
}

func (d Direction) And(other Direction) Direction {
	return d & other & SendRecv
}

func (d Direction) AllowsSending() bool {
	return d&sendBit != 0
}

func (d Direction) AllowsReceiving() bool {
	return d&receiveBit != 0
}

// Reverse swaps the send and receive capabilities, i.e. the direction as seen by the remote peer.
func (d Direction) Reverse() Direction {
	var r Direction
	if d.AllowsSending() {
		r |= receiveBit
	}
	if d.AllowsReceiving() {
		r |= sendBit
	}
	return r
}

func (d Direction) String() string {
	switch d & SendRecv {
	case SendOnly:
		return "sendonly"
	case RecvOnly:
		return "recvonly"
	case SendRecv:
		return "sendrecv"
	default:
		return "inactive"
	}
}

// --------------------------------------------------------------------------------
// SDP and WebRTC conversions

// Parse a direction from its SDP attribute name. Unknown names are inactive.
func Parse(s string) Direction {
	d, err := sdp.NewDirection(s)
	if err != nil {
		return Inactive
	}
	return FromSDP(d)
}

func FromSDP(d sdp.Direction) Direction {
	switch d {
	case sdp.DirectionSendOnly:
		return SendOnly
	case sdp.DirectionRecvOnly:
		return RecvOnly
	case sdp.DirectionSendRecv:
		return SendRecv
	default:
		return Inactive
	}
}

func (d Direction) SDP() sdp.Direction {
	switch d & SendRecv {
	case SendOnly:
		return sdp.DirectionSendOnly
	case RecvOnly:
		return sdp.DirectionRecvOnly
	case SendRecv:
		return sdp.DirectionSendRecv
	default:
		return sdp.DirectionInactive
	}
}

func FromTransceiver(d webrtc.RTPTransceiverDirection) Direction {
	switch d {
	case webrtc.RTPTransceiverDirectionSendonly:
		return SendOnly
	case webrtc.RTPTransceiverDirectionRecvonly:
		return RecvOnly
	case webrtc.RTPTransceiverDirectionSendrecv:
		return SendRecv
	default:
		return Inactive
	}
}

func (d Direction) Transceiver() webrtc.RTPTransceiverDirection {
	switch d & SendRecv {
	case SendOnly:
		return webrtc.RTPTransceiverDirectionSendonly
	case RecvOnly:
		return webrtc.RTPTransceiverDirectionRecvonly
	case SendRecv:
		return webrtc.RTPTransceiverDirectionSendrecv
	default:
		return webrtc.RTPTransceiverDirectionInactive
	}
}
