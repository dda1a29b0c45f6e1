package room

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaymesh/sfu/internal/metrics"
	"github.com/relaymesh/sfu/internal/rtc"
)

func newTestRoom(id RoomId) *Room {
	return New(id, metrics.New(), zap.NewNop().Sugar())
}

func newTestParticipant(id ClientId) (*Participant, *fakePeerConnection) {
	conn := newFakePeerConnection()
	p := NewParticipant(id, conn, metrics.New(), zap.NewNop().Sugar())
	return p, conn
}

func joinAndPublish(t *testing.T, r *Room, id ClientId) (*Participant, *fakeInboundTrack, *fakeInboundTrack) {
	t.Helper()
	p, _ := newTestParticipant(id)
	require.NoError(t, r.AddParticipant(id, p))

	audio := &fakeInboundTrack{kind: rtc.TrackKindAudio, ssrc: webrtcSSRC(id, 0)}
	video := &fakeInboundTrack{kind: rtc.TrackKindVideo, ssrc: webrtcSSRC(id, 1)}
	require.NoError(t, r.HandleTracksForParticipant(id, audio, video))
	return p, audio, video
}

func webrtcSSRC(id ClientId, leg int) webrtc.SSRC {
	return webrtc.SSRC(uint32(id)*1000 + uint32(leg))
}

func TestMeshSymmetryTwoParticipants(t *testing.T) {
	r := newTestRoom(42)

	pA, _, _ := joinAndPublish(t, r, 7)
	pB, _, _ := joinAndPublish(t, r, 9)

	require.True(t, pA.HasSubscriber(9))
	require.True(t, pB.HasSubscriber(7))

	aAudio, aVideo, ok := pA.OutboundSSRCs(9)
	require.True(t, ok)
	require.NotZero(t, aAudio)
	require.NotZero(t, aVideo)
	require.NotEqual(t, aAudio, aVideo)

	bAudio, bVideo, ok := pB.OutboundSSRCs(7)
	require.True(t, ok)
	require.NotZero(t, bAudio)
	require.NotZero(t, bVideo)
}

func TestJoinAndPublishDeliversLocalDescriptionsToBothPeers(t *testing.T) {
	r := newTestRoom(42)
	pA, connA := newTestParticipant(7)
	require.NoError(t, r.AddParticipant(7, pA))
	audioA := &fakeInboundTrack{kind: rtc.TrackKindAudio, ssrc: webrtcSSRC(7, 0)}
	videoA := &fakeInboundTrack{kind: rtc.TrackKindVideo, ssrc: webrtcSSRC(7, 1)}
	require.NoError(t, r.HandleTracksForParticipant(7, audioA, videoA))

	pB, connB := newTestParticipant(9)
	require.NoError(t, r.AddParticipant(9, pB))

	// B joining wires B's connection with A's media and drives B to
	// produce its own offer; that offer must reach connB.
	bDelivered := connB.LocalDescriptionsDelivered()
	require.NotEmpty(t, bDelivered)
	require.Equal(t, webrtc.SDPTypeOffer, bDelivered[len(bDelivered)-1].Type)

	audioB := &fakeInboundTrack{kind: rtc.TrackKindAudio, ssrc: webrtcSSRC(9, 0)}
	videoB := &fakeInboundTrack{kind: rtc.TrackKindVideo, ssrc: webrtcSSRC(9, 1)}
	require.NoError(t, r.HandleTracksForParticipant(9, audioB, videoB))

	// B publishing wires B's media onto A and must renegotiate A.
	aDelivered := connA.LocalDescriptionsDelivered()
	require.NotEmpty(t, aDelivered)
	require.Equal(t, webrtc.SDPTypeOffer, aDelivered[len(aDelivered)-1].Type)
}

func TestMeshSymmetryThirdParticipant(t *testing.T) {
	r := newTestRoom(42)
	pA, _, _ := joinAndPublish(t, r, 7)
	pB, _, _ := joinAndPublish(t, r, 9)
	pC, _, _ := joinAndPublish(t, r, 11)

	for _, p := range []*Participant{pA, pB} {
		require.True(t, p.HasSubscriber(11))
	}
	require.True(t, pC.HasSubscriber(7))
	require.True(t, pC.HasSubscriber(9))
}

func TestSSRCUniquenessAcrossRoom(t *testing.T) {
	r := newTestRoom(1)
	pA, _, _ := joinAndPublish(t, r, 1)
	pB, _, _ := joinAndPublish(t, r, 2)
	_, _, _ = joinAndPublish(t, r, 3)

	seen := map[uint32]bool{}
	for _, p := range r.GetParticipants() {
		for _, subId := range p.SubscriberIds() {
			audio, video, ok := p.OutboundSSRCs(subId)
			require.True(t, ok)
			require.False(t, seen[audio], "duplicate SSRC %d", audio)
			require.False(t, seen[video], "duplicate SSRC %d", video)
			seen[audio] = true
			seen[video] = true
		}
	}
	_ = pA
	_ = pB
}

func TestNoSelfForward(t *testing.T) {
	r := newTestRoom(1)
	pA, _, _ := joinAndPublish(t, r, 7)
	require.False(t, pA.HasSubscriber(7))
}

func TestSSRCRewriteOnForward(t *testing.T) {
	r := newTestRoom(42)
	pA, audioA, _ := joinAndPublish(t, r, 7)
	_, _, _ = joinAndPublish(t, r, 9)

	_, bAudioTrack := findOutboundTrack(t, pA, 9, rtc.TrackKindAudio)

	published := &rtp.Packet{Header: rtp.Header{SSRC: 7777, SequenceNumber: 1}}
	audioA.Inject(published)

	written := bAudioTrack.Written()
	require.Len(t, written, 1)

	registeredAudioSSRC, _, ok := pA.OutboundSSRCs(9)
	require.True(t, ok)
	require.Equal(t, registeredAudioSSRC, written[0].Header.SSRC)
	require.NotEqual(t, uint32(7777), written[0].Header.SSRC)
}

func TestFIFOPerPipe(t *testing.T) {
	r := newTestRoom(42)
	pA, audioA, _ := joinAndPublish(t, r, 7)
	_, _, _ = joinAndPublish(t, r, 9)

	_, bAudioTrack := findOutboundTrack(t, pA, 9, rtc.TrackKindAudio)

	for seq := uint16(0); seq < 10; seq++ {
		audioA.Inject(&rtp.Packet{Header: rtp.Header{SSRC: 7777, SequenceNumber: seq}})
	}

	written := bAudioTrack.Written()
	require.Len(t, written, 10)
	for i, pkt := range written {
		require.Equal(t, uint16(i), pkt.Header.SequenceNumber)
	}
}

func TestIdempotentRemove(t *testing.T) {
	r := newTestRoom(42)
	pA, _, _ := joinAndPublish(t, r, 7)
	_, _, _ = joinAndPublish(t, r, 9)

	require.NoError(t, r.RemoveParticipant(7))
	require.Equal(t, 1, r.Size())
	require.NoError(t, r.RemoveParticipant(7))
	require.Equal(t, 1, r.Size())
	_ = pA
}

func TestRemoveParticipantClosesSubscriberTracksAndRenegotiates(t *testing.T) {
	r := newTestRoom(42)
	_, _, _ = joinAndPublish(t, r, 7)
	pB, connB := newTestParticipant(9)
	require.NoError(t, r.AddParticipant(9, pB))
	audioB := &fakeInboundTrack{kind: rtc.TrackKindAudio, ssrc: webrtcSSRC(9, 0)}
	videoB := &fakeInboundTrack{kind: rtc.TrackKindVideo, ssrc: webrtcSSRC(9, 1)}
	require.NoError(t, r.HandleTracksForParticipant(9, audioB, videoB))

	offersBefore := connB.OffersCreated()
	deliveredBefore := len(connB.LocalDescriptionsDelivered())

	require.NoError(t, r.RemoveParticipant(7))

	require.False(t, pB.HasSubscriber(7))
	require.Equal(t, 1, r.Size())
	require.Greater(t, connB.OffersCreated(), offersBefore)

	delivered := connB.LocalDescriptionsDelivered()
	require.Greater(t, len(delivered), deliveredBefore, "the renegotiation offer must reach the owning connection, not just be created")
	require.Equal(t, webrtc.SDPTypeOffer, delivered[len(delivered)-1].Type)
}

func findOutboundTrack(t *testing.T, p *Participant, subscriberId ClientId, kind rtc.TrackKind) (uint32, *fakeOutboundTrack) {
	t.Helper()
	audio, video, ok := p.OutboundSSRCs(subscriberId)
	require.True(t, ok)
	ssrc := audio
	if kind == rtc.TrackKindVideo {
		ssrc = video
	}

	p.subMu.RLock()
	pair := p.subMap[subscriberId]
	p.subMu.RUnlock()
	track, ok := pair[kind].(*fakeOutboundTrack)
	require.True(t, ok)
	return ssrc, track
}
