// Package track creates the local WebRTC audio track the relay feeds. The
// peer connection that carries it is negotiated elsewhere.
package track

import (
	"github.com/pion/webrtc/v4"
)

// New returns an Opus track that accepts raw RTP packets through Write.
func New(id, streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		id,
		streamID,
	)
}
