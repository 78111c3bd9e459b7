package media

import (
	"errors"
	"io"
	"log"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// keyframeInterval is how often a PLI is sent for a remote video track.
// Without periodic keyframe requests a consumer that joins mid-stream (or
// loses packets) can stay on a corrupted reference frame indefinitely.
const keyframeInterval = 3 * time.Second

// consumeRemoteTrack drains a remote track so RTCP feedback keeps flowing and
// receive counters stay current. Video tracks additionally get a PLI loop.
func (e *pionEngine) consumeRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	log.Printf("MEDIA: remote track — kind=%s codec=%s ssrc=%d",
		track.Kind(), track.Codec().MimeType, track.SSRC())

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go e.keyframeLoop(uint32(track.SSRC()))
	}
	go e.readLoop(track)
}

func (e *pionEngine) keyframeLoop(ssrc uint32) {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}

		pc, err := e.conn()
		if err != nil {
			return
		}
		if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			log.Printf("MEDIA: write PLI: %v", err)
		}
	}
}

func (e *pionEngine) readLoop(track *webrtc.TrackRemote) {
	var pkt *rtp.Packet
	for {
		var err error
		pkt, _, err = track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("MEDIA: remote %s track read ended: %v", track.Kind(), err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue // padding-only
		}

		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			e.audioPkts.Add(1)
		case webrtc.RTPCodecTypeVideo:
			e.videoPkts.Add(1)
		}
	}
}
