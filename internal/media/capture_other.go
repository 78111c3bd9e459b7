//go:build !linux || !cgo

package media

import (
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// newPeerConnection creates a receive-only PeerConnection on non-Linux
// platforms. Camera/mic capture via pion/mediadevices requires
// platform-specific drivers (V4L2/malgo on Linux); elsewhere the daemon only
// receives remote media.
func newPeerConnection(opts Options) (*webrtc.PeerConnection, func(), error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers(opts.StunURLs),
	})
	if err != nil {
		return nil, nil, err
	}

	addRecvOnlyTransceivers(pc)

	log.Printf("MEDIA: peer connection ready (receive-only, no local capture on this platform)")
	return pc, nil, nil
}
