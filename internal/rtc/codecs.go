package rtc

import "github.com/pion/webrtc/v4"

// TrackKind distinguishes the two media legs a Participant always
// carries, matching the mid contract in the SDP ("0" audio, "1" video).
type TrackKind int

const (
	TrackKindAudio TrackKind = iota
	TrackKindVideo
)

func (k TrackKind) String() string {
	if k == TrackKindVideo {
		return "video"
	}
	return "audio"
}

// Mid maps a TrackKind to the SDP mid the inbound-track callback uses
// to distinguish audio from video, per the SDP/media contract.
func (k TrackKind) Mid() string {
	if k == TrackKindVideo {
		return "1"
	}
	return "0"
}

// KindFromMid is the inverse of Mid; it returns false for any mid other
// than "0" or "1".
func KindFromMid(mid string) (TrackKind, bool) {
	switch mid {
	case "0":
		return TrackKindAudio, true
	case "1":
		return TrackKindVideo, true
	default:
		return 0, false
	}
}

const (
	// AudioPayloadType is the PT every audio track (inbound and
	// outbound) in this SFU negotiates: Opus.
	AudioPayloadType webrtc.PayloadType = 109
	// VideoPayloadType is the PT every video track negotiates: VP8.
	VideoPayloadType webrtc.PayloadType = 120
	// VideoTargetBitrateKbps is advertised to receivers as a bitrate
	// hint; actual congestion control is left entirely to pion/webrtc
	// (REMB/TWCC), per this SFU's Non-goals.
	VideoTargetBitrateKbps = 3000
)

// AudioCapability is the codec capability used for every outbound and
// registered inbound audio track.
var AudioCapability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   48000,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

// VideoCapability is the codec capability used for every outbound and
// registered inbound video track, carrying the 3000kbps bitrate hint.
var VideoCapability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeVP8,
	ClockRate:   90000,
	SDPFmtpLine: "x-google-min-bitrate=3000;x-google-max-bitrate=3000;x-google-start-bitrate=3000",
}

// CapabilityFor returns the codec capability for kind.
func CapabilityFor(kind TrackKind) webrtc.RTPCodecCapability {
	if kind == TrackKindVideo {
		return VideoCapability
	}
	return AudioCapability
}

// PayloadTypeFor returns the negotiated payload type for kind.
func PayloadTypeFor(kind TrackKind) webrtc.PayloadType {
	if kind == TrackKindVideo {
		return VideoPayloadType
	}
	return AudioPayloadType
}
