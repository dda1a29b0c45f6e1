package signaling

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relaymesh/sfu/internal/auth"
	"github.com/relaymesh/sfu/internal/config"
	"github.com/relaymesh/sfu/internal/loop"
	"github.com/relaymesh/sfu/internal/metrics"
	"github.com/relaymesh/sfu/internal/room"
	"github.com/relaymesh/sfu/internal/rtc"
)

// Router owns every Room and every Client, hosts the signaling message
// handler and the token validator, and is the only producer enqueueing
// work onto the Loop; the maps below are touched only from Loop tasks
// and so need no locking of their own.
type Router struct {
	cfg       config.Config
	validator *auth.Validator
	rtcAPI    *webrtc.API
	rtcConfig webrtc.Configuration

	loop    *loop.Loop
	metrics *metrics.Collector
	logger  *zap.SugaredLogger

	upgrader websocket.Upgrader

	rooms map[room.RoomId]*room.Room
	// clients is the full open-WebSocket set, authorized or not.
	clients map[*client]struct{}
	// clientsByClientId indexes authorized clients, used for identity
	// collision eviction and for routing mode notifications.
	clientsByClientId map[room.ClientId]*client

	// newConn builds the peer connection for a newly authorized client.
	// A field rather than a direct rtc.NewPeerConnection call so tests
	// can substitute a fake PeerConnection without a real ICE/DTLS stack.
	newConn func() (rtc.PeerConnection, error)
}

// NewRouter constructs a Router. rtcConfig is applied to every peer
// connection this Router creates.
func NewRouter(cfg config.Config, validator *auth.Validator, rtcAPI *webrtc.API, rtcConfig webrtc.Configuration, taskLoop *loop.Loop, collector *metrics.Collector, logger *zap.SugaredLogger) *Router {
	r := &Router{
		cfg:       cfg,
		validator: validator,
		rtcAPI:    rtcAPI,
		rtcConfig: rtcConfig,
		loop:      taskLoop,
		metrics:   collector,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms:             make(map[room.RoomId]*room.Room),
		clients:           make(map[*client]struct{}),
		clientsByClientId: make(map[room.ClientId]*client),
	}
	r.newConn = func() (rtc.PeerConnection, error) {
		return rtc.NewPeerConnection(r.rtcAPI, r.rtcConfig)
	}
	return r
}

// ServeWS is the http.HandlerFunc bound to the signaling endpoint. It
// upgrades the connection, then does nothing but translate frames into
// Loop tasks: no business logic runs on this goroutine.
func (r *Router) ServeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(r.cfg.WSReadLimitBytes)
	_ = conn.SetReadDeadline(time.Now().Add(r.cfg.WSPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.WSPongWait))
		return nil
	})

	limiter := rate.NewLimiter(rate.Limit(r.cfg.SignalingRateLimitPerSecond), r.cfg.SignalingRateLimitBurst)
	c := newClient(conn, limiter)

	r.loop.Enqueue(func() {
		r.clients[c] = struct{}{}
	})

	stopPing := make(chan struct{})
	go r.pingLoop(c, stopPing)
	defer close(stopPing)

	for {
		_, raw, readErr := conn.ReadMessage()
		if readErr != nil {
			break
		}
		if !c.limiter.Allow() {
			r.logger.Warnw("signaling rate limit exceeded, closing connection", "conn_id", c.connId)
			break
		}
		msg := append([]byte(nil), raw...)
		r.loop.Enqueue(func() {
			r.handleMessage(c, msg)
		})
	}

	r.loop.Enqueue(func() {
		r.cleanupClient(c)
	})
}

func (r *Router) pingLoop(c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.WSPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.sendPing(r.cfg.WSWriteTimeout); err != nil {
				_ = c.ws.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

// handleMessage runs on the Loop. It enforces the auth gate, then
// dispatches by message type.
func (r *Router) handleMessage(c *client, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.logger.Debugw("malformed signaling message", "conn_id", c.connId, "error", err)
		r.cleanupClient(c)
		return
	}

	if msg.Type != TypeOffer && !c.authorized {
		r.cleanupClient(c)
		return
	}

	switch msg.Type {
	case TypeOffer:
		r.handleOffer(c, msg)
	case TypeAnswer:
		r.handleAnswer(c, msg)
	case TypeCandidate:
		r.handleCandidate(c, msg)
	case TypeEndOfCandidates:
		r.logger.Debugw("end of candidates", "client_id", c.clientId)
	case TypeMode:
		r.handleMode(c, msg)
	case TypePing:
		r.handlePing(c)
	default:
		r.logger.Debugw("ignoring unknown signaling message type", "type", msg.Type)
	}
}

func (r *Router) handleOffer(c *client, msg clientMessage) {
	claims, err := r.validator.ValidateOfferToken(msg.Token)
	if err != nil {
		r.metrics.OfferRejected()
		r.logger.Infow("offer rejected", "conn_id", c.connId, "error", err)
		_ = c.sendPlainTextError(err.Error(), r.cfg.WSWriteTimeout)
		r.cleanupClient(c)
		return
	}

	if c.authorized && (c.clientId != claims.ClientId || c.roomId != claims.RoomId) {
		r.cleanupClient(c)
		return
	}

	if existing, ok := r.clientsByClientId[claims.ClientId]; ok && existing != c {
		r.cleanupClient(existing)
	}

	firstOffer := !c.authorized
	c.setIdentity(claims.ClientId, claims.RoomId)
	r.clientsByClientId[claims.ClientId] = c
	r.getOrCreateRoom(claims.RoomId)

	if firstOffer {
		r.wirePeerConnection(c)
	}
	if c.conn == nil {
		return
	}

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}
	if err := c.conn.SetRemoteDescription(sdp); err != nil {
		r.logger.Warnw("applying offer failed", "client_id", c.clientId, "error", err)
		return
	}

	answer, err := c.conn.CreateAnswer()
	if err != nil {
		r.logger.Errorw("creating answer failed", "client_id", c.clientId, "error", err)
		return
	}
	if err := c.conn.SetLocalDescription(answer); err != nil {
		r.logger.Errorw("setting local description failed", "client_id", c.clientId, "error", err)
		return
	}
}

func (r *Router) handleAnswer(c *client, msg clientMessage) {
	if c.conn == nil {
		return
	}
	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
	if err := c.conn.SetRemoteDescription(sdp); err != nil {
		r.logger.Warnw("applying answer failed", "client_id", c.clientId, "error", err)
	}
}

func (r *Router) handleCandidate(c *client, msg clientMessage) {
	if c.conn == nil || !isRoutableCandidate(msg.Candidate) {
		return
	}
	candidate := webrtc.ICECandidateInit{Candidate: msg.Candidate}
	if msg.SDPMid != "" {
		mid := msg.SDPMid
		candidate.SDPMid = &mid
	}
	if err := c.conn.AddICECandidate(candidate); err != nil {
		r.logger.Debugw("adding ICE candidate failed", "client_id", c.clientId, "error", err)
	}
}

// isRoutableCandidate implements the IPv4 heuristic: candidates that
// are empty or contain no '.' (i.e. every IPv6 candidate) are dropped.
func isRoutableCandidate(candidate string) bool {
	return candidate != "" && strings.Contains(candidate, ".")
}

func (r *Router) handleMode(c *client, msg clientMessage) {
	c.videoActive = msg.Active
	if !c.participantCreated {
		return
	}
	rm, ok := r.rooms[c.roomId]
	if !ok {
		return
	}
	participant, ok := rm.GetParticipant(c.clientId)
	if !ok {
		return
	}
	for _, subId := range participant.SubscriberIds() {
		_, videoSSRC, ok := participant.OutboundSSRCs(subId)
		if !ok {
			continue
		}
		subscriber, ok := r.clientsByClientId[subId]
		if !ok {
			continue
		}
		if err := subscriber.send(serverMessage{Type: TypeMode, SSRC: videoSSRC, Active: msg.Active}, r.cfg.WSWriteTimeout); err != nil {
			r.logger.Debugw("failed sending mode notification", "subscriber", subId, "error", err)
		}
	}
}

func (r *Router) handlePing(c *client) {
	if err := c.send(serverMessage{Type: TypePong}, r.cfg.WSWriteTimeout); err != nil {
		r.logger.Debugw("failed sending pong", "client_id", c.clientId, "error", err)
	}
}

// wirePeerConnection creates c's peer connection and installs its
// callbacks: local candidate, state change, and inbound track all
// re-enter the Loop; none runs business logic on the library's own
// callback goroutine.
func (r *Router) wirePeerConnection(c *client) {
	conn, err := r.newConn()
	if err != nil {
		r.logger.Errorw("creating peer connection failed", "client_id", c.clientId, "error", err)
		return
	}

	conn.OnLocalCandidate(func(candidate webrtc.ICECandidateInit) {
		r.loop.Enqueue(func() { r.sendCandidate(c, candidate) })
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.loop.Enqueue(func() { r.handleStateChange(c, state) })
	})
	conn.OnInboundTrack(func(track rtc.InboundTrack) {
		r.loop.Enqueue(func() { r.handleInboundTrack(c, track) })
	})
	conn.OnLocalDescription(func(sdp webrtc.SessionDescription) {
		r.loop.Enqueue(func() { r.sendLocalDescription(c, sdp) })
	})

	c.conn = conn
}

// sendLocalDescription delivers a local offer or answer generated on
// c.conn to c's WebSocket, whether it came from the client-initiated
// offer/answer exchange or a Room-driven mesh renegotiation.
func (r *Router) sendLocalDescription(c *client, sdp webrtc.SessionDescription) {
	msgType := TypeAnswer
	if sdp.Type == webrtc.SDPTypeOffer {
		msgType = TypeOffer
	}
	if err := c.send(serverMessage{Type: msgType, SDP: sdp.SDP}, r.cfg.WSWriteTimeout); err != nil {
		r.logger.Debugw("failed sending local description", "client_id", c.clientId, "type", msgType, "error", err)
	}
}

func (r *Router) sendCandidate(c *client, candidate webrtc.ICECandidateInit) {
	if !isRoutableCandidate(candidate.Candidate) {
		return
	}
	msg := serverMessage{Type: TypeCandidate, Candidate: candidate.Candidate}
	if candidate.SDPMid != nil {
		msg.SDPMid = *candidate.SDPMid
	}
	if err := c.send(msg, r.cfg.WSWriteTimeout); err != nil {
		r.logger.Debugw("failed sending local candidate", "client_id", c.clientId, "error", err)
	}
}

func (r *Router) handleStateChange(c *client, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		r.tryActivateParticipant(c)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
		r.cleanupClient(c)
	}
}

// tryActivateParticipant constructs the Participant once, on the first
// Connected transition of the peer connection.
func (r *Router) tryActivateParticipant(c *client) {
	if !c.authorized || c.participantCreated {
		return
	}
	rm, ok := r.rooms[c.roomId]
	if !ok {
		return
	}

	participant := room.NewParticipant(c.clientId, c.conn, r.metrics, r.logger)
	if err := rm.AddParticipant(c.clientId, participant); err != nil {
		r.logger.Errorw("adding participant failed", "client_id", c.clientId, "error", err)
		return
	}
	c.participantCreated = true
	r.maybeAttachTracks(c, rm)
}

func (r *Router) handleInboundTrack(c *client, track rtc.InboundTrack) {
	c.setInboundTrack(track.Kind(), track)
	rm, ok := r.rooms[c.roomId]
	if !ok {
		return
	}
	r.maybeAttachTracks(c, rm)
}

// maybeAttachTracks calls HandleTracksForParticipant exactly once, as
// soon as both the Participant exists and both inbound tracks have
// arrived (order between the two is not guaranteed by the library).
func (r *Router) maybeAttachTracks(c *client, rm *room.Room) {
	if !c.participantCreated || c.tracksAttached || !c.hasBothInboundTracks() {
		return
	}
	if err := rm.HandleTracksForParticipant(c.clientId, c.inbound[rtc.TrackKindAudio], c.inbound[rtc.TrackKindVideo]); err != nil {
		r.logger.Errorw("attaching tracks failed", "client_id", c.clientId, "error", err)
		return
	}
	c.tracksAttached = true
}

func (r *Router) getOrCreateRoom(id room.RoomId) *room.Room {
	if rm, ok := r.rooms[id]; ok {
		return rm
	}
	rm := room.New(id, r.metrics, r.logger)
	r.rooms[id] = rm
	r.metrics.RoomCreated()
	return rm
}

// cleanupClient removes every trace of c: its Participant (if any), its
// peer connection, and its WebSocket. Idempotent, so both the natural
// close path and identity-collision eviction can call it safely.
func (r *Router) cleanupClient(c *client) {
	if c.removed {
		return
	}
	c.removed = true

	if c.authorized {
		if rm, ok := r.rooms[c.roomId]; ok {
			if err := rm.RemoveParticipant(c.clientId); err != nil {
				r.logger.Warnw("removing participant failed", "conn_id", c.connId, "client_id", c.clientId, "error", err)
			}
			if rm.Size() == 0 {
				delete(r.rooms, c.roomId)
				r.metrics.RoomDestroyed()
			}
		}
		if cur, ok := r.clientsByClientId[c.clientId]; ok && cur == c {
			delete(r.clientsByClientId, c.clientId)
		}
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	_ = c.ws.Close()
	delete(r.clients, c)
}
