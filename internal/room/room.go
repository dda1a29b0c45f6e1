package room

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/relaymesh/sfu/internal/metrics"
	"github.com/relaymesh/sfu/internal/rtc"
)

// ssrcBase is the nonzero starting value for a Room's monotonic
// SSRC/stream-label counter.
const ssrcBase = 150

// Room owns a set of Participants keyed by ClientId and mediates
// add/remove with full-mesh wiring. All methods are intended to run on
// the Loop thread; Room itself performs no internal locking because
// the Loop gives it a total order.
type Room struct {
	Id RoomId

	participants map[ClientId]*Participant
	counter      uint64

	metrics *metrics.Collector
	logger  *zap.SugaredLogger
}

// New creates an empty Room. Rooms are created lazily by the Router on
// first join and are expected to be discarded by the caller once
// GetParticipants is empty.
func New(id RoomId, collector *metrics.Collector, logger *zap.SugaredLogger) *Room {
	return &Room{
		Id:           id,
		participants: make(map[ClientId]*Participant),
		counter:      ssrcBase,
		metrics:      collector,
		logger:       logger,
	}
}

// nextSSRC allocates the next unique SSRC/stream-label value in this
// Room, post-incrementing so the first call returns ssrcBase itself.
func (r *Room) nextSSRC() uint32 {
	value := r.counter
	r.counter++
	r.metrics.SSRCAllocated()
	return uint32(value)
}

// HasParticipant reports whether clientId currently has a Participant
// in this Room.
func (r *Room) HasParticipant(clientId ClientId) bool {
	_, ok := r.participants[clientId]
	return ok
}

// GetParticipant looks up a single Participant by ClientId.
func (r *Room) GetParticipant(clientId ClientId) (*Participant, bool) {
	p, ok := r.participants[clientId]
	return p, ok
}

// GetParticipants returns a snapshot slice of every Participant
// currently in the Room.
func (r *Room) GetParticipants() []*Participant {
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// Size reports the current participant count, used by the Router to
// decide whether the Room should be torn down.
func (r *Room) Size() int {
	return len(r.participants)
}

// AddParticipant inserts participant under newClientId. For each
// pre-existing participant that is already publishing (both inbound
// tracks attached), it allocates a fresh pair of outbound tracks on the
// new participant's peer connection carrying that existing
// participant's media, and registers them in the existing participant's
// subscriber map; a participant still waiting for its tracks is wired
// to the new one by its own HandleTracksForParticipant call. Renegotiation of the existing
// participants happens in HandleTracksForParticipant, once the new
// participant's own inbound tracks are known; here only the new
// participant is driven to produce its initial offer.
func (r *Room) AddParticipant(newClientId ClientId, participant *Participant) error {
	for otherId, other := range r.participants {
		if other.State() != StatePublishing {
			continue
		}
		pair, err := r.addSubscriberTracks(participant, otherId)
		if err != nil {
			return fmt.Errorf("wiring existing participant %d onto new participant %d: %w", otherId, newClientId, err)
		}
		other.AddRemoteTracks(newClientId, pair)
	}

	r.participants[newClientId] = participant
	r.metrics.ParticipantAdded()

	offer, err := participant.Connection().CreateOffer()
	if err != nil {
		return fmt.Errorf("creating initial offer for participant %d: %w", newClientId, err)
	}
	if err := participant.Connection().SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting initial local description for participant %d: %w", newClientId, err)
	}
	return nil
}

// HandleTracksForParticipant attaches the publishing participant's
// inbound audio/video tracks (installing the forwarding callback) and
// wires that publisher's media out to every other participant: for
// each other participant, it allocates outbound tracks on the OTHER
// participant's connection, registers them in the PUBLISHER's
// subscriber map, and drives the other participant to renegotiate.
// Finally it requests a keyframe on every participant's inbound video
// track so new subscribers get a decodable frame promptly.
func (r *Room) HandleTracksForParticipant(clientId ClientId, audio, video rtc.InboundTrack) error {
	participant, ok := r.participants[clientId]
	if !ok {
		return fmt.Errorf("no participant %d in room %d", clientId, r.Id)
	}

	participant.SetTracks(audio, video)

	for otherId, other := range r.participants {
		if otherId == clientId {
			continue
		}

		pair, err := r.addSubscriberTracks(other, clientId)
		if err != nil {
			return fmt.Errorf("wiring publisher %d onto subscriber %d: %w", clientId, otherId, err)
		}
		participant.AddRemoteTracks(otherId, pair)

		offer, err := other.Connection().CreateOffer()
		if err != nil {
			return fmt.Errorf("creating renegotiation offer for %d: %w", otherId, err)
		}
		if err := other.Connection().SetLocalDescription(offer); err != nil {
			return fmt.Errorf("setting renegotiation local description for %d: %w", otherId, err)
		}
	}

	r.requestKeyFrames()
	return nil
}

// addSubscriberTracks allocates two fresh SSRCs/stream labels and adds
// the corresponding outbound audio+video tracks onto target's peer
// connection. streamLabelSeed namespaces the stream label by the
// ClientId whose media the tracks ultimately carry, purely for
// debuggability.
func (r *Room) addSubscriberTracks(target *Participant, streamLabelSeed ClientId) (TrackPair[rtc.OutboundTrack], error) {
	var pair TrackPair[rtc.OutboundTrack]

	audioSSRC := r.nextSSRC()
	audioLabel := fmt.Sprintf("room-%d-peer-%d-%d", r.Id, streamLabelSeed, audioSSRC)
	audioTrack, err := target.Connection().AddOutboundTrack(rtc.TrackKindAudio, webrtc.SSRC(audioSSRC), audioLabel)
	if err != nil {
		return pair, fmt.Errorf("adding outbound audio track: %w", err)
	}

	videoSSRC := r.nextSSRC()
	videoLabel := fmt.Sprintf("room-%d-peer-%d-%d", r.Id, streamLabelSeed, videoSSRC)
	videoTrack, err := target.Connection().AddOutboundTrack(rtc.TrackKindVideo, webrtc.SSRC(videoSSRC), videoLabel)
	if err != nil {
		return pair, fmt.Errorf("adding outbound video track: %w", err)
	}

	pair[rtc.TrackKindAudio] = audioTrack
	pair[rtc.TrackKindVideo] = videoTrack
	return pair, nil
}

// requestKeyFrames asks every participant's inbound video track to
// emit a new keyframe, so freshly wired subscribers see a decodable
// frame promptly rather than waiting for the next periodic keyframe.
func (r *Room) requestKeyFrames() {
	for _, p := range r.participants {
		videoTrack := p.VideoInboundTrack()
		if videoTrack == nil {
			continue
		}
		if err := p.Connection().RequestKeyFrame(videoTrack.SSRC()); err != nil {
			r.logger.Debugw("keyframe request failed", "client_id", p.ClientId, "error", err)
		}
	}
}

// RemoveParticipant removes clientId from the Room if present: closes
// every outbound track in its subscriber map, removes and closes the
// corresponding entries on every other participant, renegotiates those
// participants, and closes the departed participant's inbound tracks.
// A no-op (idempotent) if clientId is absent.
func (r *Room) RemoveParticipant(clientId ClientId) error {
	participant, ok := r.participants[clientId]
	if !ok {
		return nil
	}

	participant.CloseRemoteTracks()

	for otherId, other := range r.participants {
		if otherId == clientId {
			continue
		}
		if !other.HasSubscriber(clientId) {
			continue
		}
		other.RemoveRemoteTracks(clientId)

		offer, err := other.Connection().CreateOffer()
		if err != nil {
			return fmt.Errorf("creating departure renegotiation offer for %d: %w", otherId, err)
		}
		if err := other.Connection().SetLocalDescription(offer); err != nil {
			return fmt.Errorf("setting departure renegotiation local description for %d: %w", otherId, err)
		}
	}

	participant.CloseInboundTracks()
	delete(r.participants, clientId)
	r.metrics.ParticipantRemoved()
	return nil
}
