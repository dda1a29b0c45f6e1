package rtc

import (
	"fmt"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// pionConnection adapts *webrtc.PeerConnection to the PeerConnection
// interface. All methods that mutate SDP/ICE state are expected to be
// called from the Loop thread; the callbacks registered here are
// invoked by pion on its own goroutines, except the OnLocalDescription
// handler, which SetLocalDescription calls synchronously on the
// caller's goroutine. Handlers must themselves re-enter the Loop (the
// caller's responsibility, not this adapter's).
type pionConnection struct {
	pc *webrtc.PeerConnection

	localDescriptionHandler func(webrtc.SessionDescription)
}

// NewPeerConnection creates a peer connection against api/config and
// wraps it in the PeerConnection interface.
func NewPeerConnection(api *webrtc.API, config webrtc.Configuration) (PeerConnection, error) {
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	return &pionConnection{pc: pc}, nil
}

func (c *pionConnection) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sdp)
}

func (c *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(sdp webrtc.SessionDescription) error {
	if err := c.pc.SetLocalDescription(sdp); err != nil {
		return err
	}
	if c.localDescriptionHandler != nil {
		c.localDescriptionHandler(sdp)
	}
	return nil
}

func (c *pionConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConnection) AddOutboundTrack(kind TrackKind, ssrc webrtc.SSRC, streamLabel string) (OutboundTrack, error) {
	capability := CapabilityFor(kind)
	track, err := webrtc.NewTrackLocalStaticRTP(capability, trackID(kind, ssrc), streamLabel)
	if err != nil {
		return nil, fmt.Errorf("creating outbound %s track: %w", kind, err)
	}

	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("attaching outbound %s track: %w", kind, err)
	}

	out := &pionOutboundTrack{
		kind:   kind,
		ssrc:   ssrc,
		track:  track,
		sender: sender,
		pc:     c.pc,
	}
	go out.drainRTCP()
	return out, nil
}

func (c *pionConnection) RequestKeyFrame(ssrc webrtc.SSRC) error {
	return c.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
	})
}

func (c *pionConnection) OnLocalCandidate(handler func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		handler(candidate.ToJSON())
	})
}

func (c *pionConnection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(handler)
}

func (c *pionConnection) OnLocalDescription(handler func(webrtc.SessionDescription)) {
	c.localDescriptionHandler = handler
}

func (c *pionConnection) OnInboundTrack(handler func(InboundTrack)) {
	c.pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind, ok := KindFromMid(c.midForReceiver(receiver))
		if !ok {
			// Fall back to the track's own media kind when mid
			// resolution fails; the codec capability still lets us
			// classify audio vs video correctly.
			if remote.Kind() == webrtc.RTPCodecTypeVideo {
				kind = TrackKindVideo
			} else {
				kind = TrackKindAudio
			}
		}

		inbound := &pionInboundTrack{
			kind:     kind,
			remote:   remote,
			receiver: receiver,
			stopped:  atomic.Bool{},
		}
		handler(inbound)
	})
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}

// midForReceiver finds the SDP mid of the transceiver that owns
// receiver, used to distinguish the audio leg ("0") from the video
// leg ("1") when dispatching the inbound-track callback.
func (c *pionConnection) midForReceiver(receiver *webrtc.RTPReceiver) string {
	for _, transceiver := range c.pc.GetTransceivers() {
		if transceiver.Receiver() == receiver {
			return transceiver.Mid()
		}
	}
	return ""
}

func trackID(kind TrackKind, ssrc webrtc.SSRC) string {
	return fmt.Sprintf("%s-%d", kind, ssrc)
}

// pionOutboundTrack wraps webrtc.TrackLocalStaticRTP with the
// open/closed bookkeeping pion itself does not expose.
type pionOutboundTrack struct {
	kind   TrackKind
	ssrc   webrtc.SSRC
	track  *webrtc.TrackLocalStaticRTP
	sender *webrtc.RTPSender
	pc     *webrtc.PeerConnection
	closed atomic.Bool
}

func (t *pionOutboundTrack) Kind() TrackKind     { return t.kind }
func (t *pionOutboundTrack) SSRC() webrtc.SSRC   { return t.ssrc }

func (t *pionOutboundTrack) WriteRTP(packet *rtp.Packet) error {
	if t.closed.Load() {
		return fmt.Errorf("outbound %s track %d is closed", t.kind, t.ssrc)
	}
	return t.track.WriteRTP(packet)
}

func (t *pionOutboundTrack) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	_ = t.pc.RemoveTrack(t.sender)
}

// drainRTCP reads (and discards) RTCP feedback arriving on this
// sender's reverse channel. pion requires this loop to run or the
// sender's buffer fills and feedback processing stalls.
func (t *pionOutboundTrack) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.sender.Read(buf); err != nil {
			return
		}
	}
}

// pionInboundTrack wraps webrtc.TrackRemote/RTPReceiver.
type pionInboundTrack struct {
	kind     TrackKind
	remote   *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	stopped  atomic.Bool
}

func (t *pionInboundTrack) Kind() TrackKind   { return t.kind }
func (t *pionInboundTrack) SSRC() webrtc.SSRC { return t.remote.SSRC() }

func (t *pionInboundTrack) OnRTP(handler func(*rtp.Packet)) {
	go t.readRTCP()
	go func() {
		for {
			if t.stopped.Load() {
				return
			}
			packet, _, err := t.remote.ReadRTP()
			if err != nil {
				return
			}
			handler(packet)
		}
	}()
}

func (t *pionInboundTrack) Close() {
	t.stopped.Store(true)
}

// readRTCP drains sender reports off the receiver so pion's
// interceptor chain can process them and keep generating receiver
// reports.
func (t *pionInboundTrack) readRTCP() {
	for {
		if t.stopped.Load() {
			return
		}
		if _, _, err := t.receiver.ReadRTCP(); err != nil {
			return
		}
	}
}
