package room

import (
	"sync"

	"github.com/pion/rtp"
	"go.uber.org/zap"

	"github.com/relaymesh/sfu/internal/metrics"
	"github.com/relaymesh/sfu/internal/rtc"
)

// ParticipantState models the one-way Pending -> Publishing -> Removed
// lifecycle. No state other than Publishing forwards media.
type ParticipantState int

const (
	StatePending ParticipantState = iota
	StatePublishing
	StateRemoved
)

// TrackPair is a participant's two inbound tracks, or a subscriber's two
// outbound tracks carrying one remote publisher's media; index 0 is
// always audio, index 1 always video (mid "0"/"1").
type TrackPair[T any] [2]T

// Participant owns one peer connection, one inbound audio and one
// inbound video track, and the subscriber map connecting this
// publisher's media to every other participant's peer connection.
//
// subMap is guarded by a reader-writer lock: Loop-thread writers
// (AddRemoteTracks/RemoveRemoteTracks/CloseRemoteTracks) take the
// writer side, the per-packet forwarding callback takes the reader
// side. A writer never holds the lock across any call that could
// re-enter (no network I/O, no signaling calls) under lock.
type Participant struct {
	ClientId ClientId

	conn rtc.PeerConnection

	mu    sync.Mutex
	state ParticipantState

	inbound TrackPair[rtc.InboundTrack]

	subMu  sync.RWMutex
	subMap map[ClientId]TrackPair[rtc.OutboundTrack]

	metrics *metrics.Collector
	logger  *zap.SugaredLogger
}

// NewParticipant constructs a Participant in the Pending state. It is
// promoted to Publishing by SetTracks once both inbound tracks arrive.
func NewParticipant(id ClientId, conn rtc.PeerConnection, collector *metrics.Collector, logger *zap.SugaredLogger) *Participant {
	return &Participant{
		ClientId: id,
		conn:     conn,
		state:    StatePending,
		subMap:   make(map[ClientId]TrackPair[rtc.OutboundTrack]),
		metrics:  collector,
		logger:   logger,
	}
}

// Connection returns the peer connection this Participant drives
// signaling through. Safe to call from the Loop thread only.
func (p *Participant) Connection() rtc.PeerConnection {
	return p.conn
}

// VideoInboundTrack returns the publishing participant's inbound video
// track, or nil if SetTracks has not been called yet.
func (p *Participant) VideoInboundTrack() rtc.InboundTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inbound[rtc.TrackKindVideo]
}

// State reports the current lifecycle state.
func (p *Participant) State() ParticipantState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetTracks attaches the publishing participant's two inbound tracks
// and installs the forwarding callback on each, transitioning the
// Participant to Publishing. Must be called exactly once, after both
// tracks have arrived. A subscriber map entry is created only after
// both inbound tracks are present.
func (p *Participant) SetTracks(audio, video rtc.InboundTrack) {
	p.mu.Lock()
	p.inbound = TrackPair[rtc.InboundTrack]{audio, video}
	p.state = StatePublishing
	p.mu.Unlock()

	audio.OnRTP(p.forward(rtc.TrackKindAudio))
	video.OnRTP(p.forward(rtc.TrackKindVideo))
}

// forward returns the per-packet callback registered on an inbound
// track of the given kind. It runs on a pion-managed media goroutine,
// never on the Loop.
func (p *Participant) forward(kind rtc.TrackKind) func(*rtp.Packet) {
	return func(packet *rtp.Packet) {
		p.subMu.RLock()
		defer p.subMu.RUnlock()

		for _, pair := range p.subMap {
			out := pair[kind]
			if out == nil {
				continue
			}
			packet.Header.SSRC = uint32(out.SSRC())
			if err := out.WriteRTP(packet); err != nil {
				continue
			}
			p.metrics.PacketForwarded()
		}
	}
}

// AddRemoteTracks registers the outbound (subscriberId -> tracks) entry
// under the writer lock.
func (p *Participant) AddRemoteTracks(subscriberId ClientId, pair TrackPair[rtc.OutboundTrack]) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.subMap[subscriberId] = pair
}

// RemoveRemoteTracks closes both tracks registered for subscriberId,
// then erases the entry. A no-op if the entry does not exist.
func (p *Participant) RemoveRemoteTracks(subscriberId ClientId) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	pair, ok := p.subMap[subscriberId]
	if !ok {
		return
	}
	closeTracks(pair)
	delete(p.subMap, subscriberId)
}

// CloseRemoteTracks closes every outbound track this Participant owns
// on other peers' connections and clears the map.
func (p *Participant) CloseRemoteTracks() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	for id, pair := range p.subMap {
		closeTracks(pair)
		delete(p.subMap, id)
	}
}

// HasSubscriber reports whether subscriberId currently has an open
// subscriber-map entry. Exposed for tests verifying mesh symmetry.
func (p *Participant) HasSubscriber(subscriberId ClientId) bool {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	_, ok := p.subMap[subscriberId]
	return ok
}

// SubscriberIds returns a snapshot of the current subscriber set.
func (p *Participant) SubscriberIds() []ClientId {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	ids := make([]ClientId, 0, len(p.subMap))
	for id := range p.subMap {
		ids = append(ids, id)
	}
	return ids
}

// OutboundSSRCs returns the (audio, video) SSRCs registered for
// subscriberId, or zero values and false if no such entry exists.
func (p *Participant) OutboundSSRCs(subscriberId ClientId) (audio, video uint32, ok bool) {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	pair, found := p.subMap[subscriberId]
	if !found {
		return 0, 0, false
	}
	return uint32(pair[0].SSRC()), uint32(pair[1].SSRC()), true
}

// CloseInboundTracks closes this Participant's own inbound tracks and
// marks it Removed. Called once, by RemoveParticipant.
func (p *Participant) CloseInboundTracks() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inbound[0] != nil {
		p.inbound[0].Close()
	}
	if p.inbound[1] != nil {
		p.inbound[1].Close()
	}
	p.state = StateRemoved
}

func closeTracks(pair TrackPair[rtc.OutboundTrack]) {
	for _, t := range pair {
		if t != nil {
			t.Close()
		}
	}
}
