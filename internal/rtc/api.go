package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// APIOptions configures the shared webrtc.API all peer connections are
// built from: a fixed ICE UDP port range, with library-internal
// auto-renegotiation left alone since this SFU never relies on
// OnNegotiationNeeded — every renegotiation is driven explicitly by
// Room/Router via CreateOffer+SetLocalDescription. NewAPI does not read
// STUNServerURL; the STUN server reaches each peer connection through
// Configuration.
type APIOptions struct {
	ICEUDPPortMin uint16
	ICEUDPPortMax uint16
	STUNServerURL string
}

// NewAPI builds the webrtc.API shared by every PeerConnection this
// server creates: a MediaEngine registering exactly Opus/109 and
// VP8/120 (the only codecs this SFU's SDP contract allows) plus the
// default interceptor registry, so sender/receiver RTCP reports are
// generated without the core datapath having to hand-roll them.
func NewAPI(opts APIOptions) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}

	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: AudioCapability,
		PayloadType:        AudioPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("registering audio codec: %w", err)
	}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: VideoCapability,
		PayloadType:        VideoPayloadType,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("registering video codec: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("registering default interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if opts.ICEUDPPortMin > 0 && opts.ICEUDPPortMax >= opts.ICEUDPPortMin {
		if err := settingEngine.SetEphemeralUDPPortRange(opts.ICEUDPPortMin, opts.ICEUDPPortMax); err != nil {
			return nil, fmt.Errorf("setting ICE UDP port range %d-%d: %w", opts.ICEUDPPortMin, opts.ICEUDPPortMax, err)
		}
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}

// Configuration returns the webrtc.Configuration every peer connection
// is created with: the single configured STUN server.
func Configuration(stunServerURL string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if stunServerURL != "" {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{stunServerURL}}}
	}
	return cfg
}
