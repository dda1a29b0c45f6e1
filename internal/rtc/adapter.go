// Package rtc abstracts the underlying WebRTC library (pion/webrtc)
// behind the narrow surface the signaling and room-mesh core actually
// needs, so that core logic can be exercised with an in-package fake
// instead of a real ICE/DTLS stack.
package rtc

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// InboundPacket is one RTP packet received on an inbound track, tagged
// with the kind the mid it arrived on resolved to.
type InboundPacket struct {
	Kind   TrackKind
	Packet *rtp.Packet
}

// InboundTrack is the receiving side of one of a Participant's two
// media legs (audio or video). OnRTP registers the forwarding
// callback; it must be registered exactly once per track, before any
// packet can be observed.
type InboundTrack interface {
	Kind() TrackKind
	// SSRC is the remote sender's SSRC on this inbound leg, the value
	// a PictureLossIndication keyframe request must target.
	SSRC() webrtc.SSRC
	// OnRTP starts a read pump invoking handler for every RTP packet
	// received, until the track is closed or the underlying peer
	// connection goes away. The handler runs on a library-managed
	// goroutine, never the Loop.
	OnRTP(handler func(*rtp.Packet))
	Close()
}

// OutboundTrack is one leg of a subscriber's pair of tracks carrying a
// single remote publisher's media into that subscriber's peer
// connection.
type OutboundTrack interface {
	Kind() TrackKind
	SSRC() webrtc.SSRC
	// WriteRTP sends packet as-is; callers must have already rewritten
	// the SSRC to match SSRC(). Returns an error if the track has been
	// closed; the forwarding callback skips that track and carries on.
	WriteRTP(packet *rtp.Packet) error
	Close()
}

// PeerConnection is the full surface the signaling core drives: SDP
// negotiation, ICE candidates, outbound track creation, and the
// callbacks the peer-connection library delivers back (local
// description, local candidate, state change, inbound track).
type PeerConnection interface {
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// AddOutboundTrack creates and attaches a new outbound track of
	// kind carrying ssrc, to be forwarded to via WriteRTP by whatever
	// Participant owns it.
	AddOutboundTrack(kind TrackKind, ssrc webrtc.SSRC, streamLabel string) (OutboundTrack, error)

	// RequestKeyFrame asks the remote sender of the inbound track
	// identified by ssrc to emit a new keyframe (PictureLossIndication).
	RequestKeyFrame(ssrc webrtc.SSRC) error

	OnLocalCandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// OnLocalDescription fires every time SetLocalDescription succeeds,
	// whether driven by the client's own offer/answer exchange or by a
	// Room-initiated mesh renegotiation; the caller is responsible for
	// delivering sdp to the owning Client's WebSocket.
	OnLocalDescription(func(sdp webrtc.SessionDescription))
	// OnInboundTrack fires once per inbound track (audio and video), in
	// whichever order the remote offers them.
	OnInboundTrack(func(InboundTrack))

	Close() error
}
