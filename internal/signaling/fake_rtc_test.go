package signaling

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/relaymesh/sfu/internal/rtc"
)

// fakePeerConnection is an in-package test double standing in for a
// real pion/webrtc peer connection, in the style of the room package's
// fake_rtc_test.go, letting Router signaling logic be exercised without
// a real ICE/DTLS stack.
type fakePeerConnection struct {
	mu sync.Mutex

	closed              bool
	candidatesAdded     []webrtc.ICECandidateInit
	remoteDescriptions  []webrtc.SessionDescription
	localDescsDelivered []webrtc.SessionDescription

	stateHandler     func(webrtc.PeerConnectionState)
	trackHandler     func(rtc.InboundTrack)
	localDescHandler func(webrtc.SessionDescription)
}

func newFakePeerConnection() *fakePeerConnection {
	return &fakePeerConnection{}
}

func (c *fakePeerConnection) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	c.remoteDescriptions = append(c.remoteDescriptions, sdp)
	c.mu.Unlock()
	return nil
}

func (c *fakePeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (c *fakePeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (c *fakePeerConnection) SetLocalDescription(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	c.localDescsDelivered = append(c.localDescsDelivered, sdp)
	handler := c.localDescHandler
	c.mu.Unlock()
	if handler != nil {
		handler(sdp)
	}
	return nil
}

func (c *fakePeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	c.candidatesAdded = append(c.candidatesAdded, candidate)
	c.mu.Unlock()
	return nil
}

func (c *fakePeerConnection) AddOutboundTrack(kind rtc.TrackKind, ssrc webrtc.SSRC, streamLabel string) (rtc.OutboundTrack, error) {
	return &fakeOutboundTrack{kind: kind, ssrc: ssrc}, nil
}

func (c *fakePeerConnection) RequestKeyFrame(webrtc.SSRC) error { return nil }

func (c *fakePeerConnection) OnLocalCandidate(func(webrtc.ICECandidateInit)) {}

func (c *fakePeerConnection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.stateHandler = handler
	c.mu.Unlock()
}

func (c *fakePeerConnection) OnInboundTrack(handler func(rtc.InboundTrack)) {
	c.mu.Lock()
	c.trackHandler = handler
	c.mu.Unlock()
}

func (c *fakePeerConnection) OnLocalDescription(handler func(webrtc.SessionDescription)) {
	c.mu.Lock()
	c.localDescHandler = handler
	c.mu.Unlock()
}

func (c *fakePeerConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakePeerConnection) CandidatesAdded() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(c.candidatesAdded))
	copy(out, c.candidatesAdded)
	return out
}

func (c *fakePeerConnection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakePeerConnection) LocalDescriptionsDelivered() []webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]webrtc.SessionDescription, len(c.localDescsDelivered))
	copy(out, c.localDescsDelivered)
	return out
}

// TriggerConnected invokes the registered connection-state-change
// handler with Connected, as pion would once ICE/DTLS finishes.
func (c *fakePeerConnection) TriggerConnected() {
	c.mu.Lock()
	handler := c.stateHandler
	c.mu.Unlock()
	if handler != nil {
		handler(webrtc.PeerConnectionStateConnected)
	}
}

// DeliverInboundTrack invokes the registered inbound-track handler, as
// pion would when the remote SDP negotiates a new track.
func (c *fakePeerConnection) DeliverInboundTrack(track rtc.InboundTrack) {
	c.mu.Lock()
	handler := c.trackHandler
	c.mu.Unlock()
	if handler != nil {
		handler(track)
	}
}

// fakeInboundTrack is a minimal rtc.InboundTrack test double; it never
// delivers RTP packets, since router-level tests only need to drive
// the track-attach handshake, not the forwarding datapath.
type fakeInboundTrack struct {
	kind rtc.TrackKind
	ssrc webrtc.SSRC
}

func (t *fakeInboundTrack) Kind() rtc.TrackKind       { return t.kind }
func (t *fakeInboundTrack) SSRC() webrtc.SSRC         { return t.ssrc }
func (t *fakeInboundTrack) OnRTP(func(*rtp.Packet))   {}
func (t *fakeInboundTrack) Close()                    {}

type fakeOutboundTrack struct {
	kind rtc.TrackKind
	ssrc webrtc.SSRC
}

func (t *fakeOutboundTrack) Kind() rtc.TrackKind        { return t.kind }
func (t *fakeOutboundTrack) SSRC() webrtc.SSRC          { return t.ssrc }
func (t *fakeOutboundTrack) WriteRTP(*rtp.Packet) error { return nil }
func (t *fakeOutboundTrack) Close()                     {}
