package room

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/relaymesh/sfu/internal/rtc"
)

// fakePeerConnection is an in-package test double standing in for a
// real pion/webrtc peer connection, in the style of the retrieved
// rillnet mock_webrtc.go, letting Room/Participant mesh logic be
// exercised without a real ICE/DTLS stack.
type fakePeerConnection struct {
	mu sync.Mutex

	offersCreated       int
	localDescsSet       int
	closed              bool
	outboundTracks      []*fakeOutboundTrack
	keyframeRequests    []webrtc.SSRC
	localDescsDelivered []webrtc.SessionDescription
	localDescHandler    func(webrtc.SessionDescription)
}

func newFakePeerConnection() *fakePeerConnection {
	return &fakePeerConnection{}
}

func (c *fakePeerConnection) SetRemoteDescription(webrtc.SessionDescription) error { return nil }

func (c *fakePeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	c.offersCreated++
	c.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (c *fakePeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (c *fakePeerConnection) SetLocalDescription(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	c.localDescsSet++
	c.localDescsDelivered = append(c.localDescsDelivered, sdp)
	handler := c.localDescHandler
	c.mu.Unlock()
	if handler != nil {
		handler(sdp)
	}
	return nil
}

func (c *fakePeerConnection) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (c *fakePeerConnection) AddOutboundTrack(kind rtc.TrackKind, ssrc webrtc.SSRC, streamLabel string) (rtc.OutboundTrack, error) {
	track := &fakeOutboundTrack{kind: kind, ssrc: ssrc, label: streamLabel}
	c.mu.Lock()
	c.outboundTracks = append(c.outboundTracks, track)
	c.mu.Unlock()
	return track, nil
}

func (c *fakePeerConnection) RequestKeyFrame(ssrc webrtc.SSRC) error {
	c.mu.Lock()
	c.keyframeRequests = append(c.keyframeRequests, ssrc)
	c.mu.Unlock()
	return nil
}

func (c *fakePeerConnection) OnLocalCandidate(func(webrtc.ICECandidateInit))          {}
func (c *fakePeerConnection) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}
func (c *fakePeerConnection) OnInboundTrack(func(rtc.InboundTrack))                   {}

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

func (c *fakePeerConnection) OffersCreated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offersCreated
}

// LocalDescriptionsDelivered returns every SessionDescription passed to
// SetLocalDescription, in order; each one is also handed to the
// registered OnLocalDescription handler when one is set.
func (c *fakePeerConnection) LocalDescriptionsDelivered() []webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]webrtc.SessionDescription, len(c.localDescsDelivered))
	copy(out, c.localDescsDelivered)
	return out
}

// fakeOutboundTrack records every packet written to it.
type fakeOutboundTrack struct {
	kind  rtc.TrackKind
	ssrc  webrtc.SSRC
	label string

	mu      sync.Mutex
	closed  bool
	written []*rtp.Packet
}

func (t *fakeOutboundTrack) Kind() rtc.TrackKind   { return t.kind }
func (t *fakeOutboundTrack) SSRC() webrtc.SSRC     { return t.ssrc }

func (t *fakeOutboundTrack) WriteRTP(packet *rtp.Packet) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("track closed")
	}
	cp := *packet
	t.written = append(t.written, &cp)
	return nil
}

func (t *fakeOutboundTrack) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *fakeOutboundTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeOutboundTrack) Written() []*rtp.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*rtp.Packet, len(t.written))
	copy(out, t.written)
	return out
}

// fakeInboundTrack lets a test inject RTP packets as if pion had
// delivered them on a media goroutine.
type fakeInboundTrack struct {
	kind rtc.TrackKind
	ssrc webrtc.SSRC

	mu      sync.Mutex
	handler func(*rtp.Packet)
	closed  bool
}

func (t *fakeInboundTrack) Kind() rtc.TrackKind   { return t.kind }
func (t *fakeInboundTrack) SSRC() webrtc.SSRC     { return t.ssrc }

func (t *fakeInboundTrack) OnRTP(handler func(*rtp.Packet)) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

func (t *fakeInboundTrack) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Inject delivers packet to the registered handler, as pion would on a
// media goroutine. No-op if the track has been closed or no handler is
// registered yet.
func (t *fakeInboundTrack) Inject(packet *rtp.Packet) {
	t.mu.Lock()
	handler := t.handler
	closed := t.closed
	t.mu.Unlock()
	if closed || handler == nil {
		return
	}
	handler(packet)
}
