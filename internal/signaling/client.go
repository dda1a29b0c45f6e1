package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/relaymesh/sfu/internal/room"
	"github.com/relaymesh/sfu/internal/rtc"
)

// client is the server-side state for one WebSocket signaling session,
// from open to close. It starts unauthorized (no ClientId/RoomId) and
// is promoted exactly once, by a successful "offer".
type client struct {
	ws *websocket.Conn

	// connId correlates log lines for this connection before (and
	// after) it has an authorized ClientId; never sent on the wire.
	connId string

	writeMu sync.Mutex

	authorized bool
	clientId   room.ClientId
	roomId     room.RoomId

	conn rtc.PeerConnection

	// inbound holds tracks delivered by the inbound-track callback
	// before the peer connection reaches Connected; HandleTracksForParticipant
	// takes ownership of these once the Participant is created.
	inbound room.TrackPair[rtc.InboundTrack]

	videoActive bool

	// participantCreated/tracksAttached track the one-way progression
	// driven by the peer-connection callbacks: AddParticipant fires
	// once on the first Connected transition, HandleTracksForParticipant
	// once both inbound tracks have arrived.
	participantCreated bool
	tracksAttached     bool

	// removed guards cleanupClient against running twice, since both
	// the natural WebSocket-close path and identity-collision eviction
	// can reach it for the same client.
	removed bool

	limiter *rate.Limiter
}

func newClient(ws *websocket.Conn, limiter *rate.Limiter) *client {
	return &client{ws: ws, limiter: limiter, connId: uuid.NewString()}
}

// send writes msg as a JSON text frame.
func (c *client) send(msg serverMessage, writeTimeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return c.ws.WriteJSON(msg)
}

// sendPlainTextError writes text as a bare (non-JSON) text frame, the
// wire format an authorization failure uses before closing.
func (c *client) sendPlainTextError(text string, writeTimeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *client) sendPing(writeTimeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(5 * time.Second)
	if writeTimeout > 0 {
		deadline = time.Now().Add(writeTimeout)
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline)
}

// setIdentity assigns ClientId/RoomId exactly once, per the "set
// exactly once, atomically" invariant; callers must only invoke this
// from the Loop thread.
func (c *client) setIdentity(clientId room.ClientId, roomId room.RoomId) {
	c.clientId = clientId
	c.roomId = roomId
	c.authorized = true
}

func (c *client) setInboundTrack(kind rtc.TrackKind, track rtc.InboundTrack) {
	c.inbound[kind] = track
}

func (c *client) hasBothInboundTracks() bool {
	return c.inbound[rtc.TrackKindAudio] != nil && c.inbound[rtc.TrackKindVideo] != nil
}
