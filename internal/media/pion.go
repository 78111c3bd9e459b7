package media

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// pionEngine is the production Engine: one Pion PeerConnection plus local
// capture (platform-dependent, see newPeerConnection build variants).
type pionEngine struct {
	opts Options

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	closeMedia func() // stops local capture tracks; may be nil
	torn       bool
	done       chan struct{}

	// Local senders kept so mute/hold can detach and reattach tracks.
	audioSlot senderSlot
	videoSlot senderSlot

	speakerOn atomic.Bool

	audioPkts atomic.Uint64
	videoPkts atomic.Uint64
}

type senderSlot struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// NewEngine is the Factory for the Pion-backed engine.
func NewEngine(opts Options) (Engine, error) {
	return &pionEngine{
		opts: opts,
		done: make(chan struct{}),
	}, nil
}

var _ Factory = NewEngine

func (e *pionEngine) Setup(_ context.Context) error {
	pc, closeMedia, err := newPeerConnection(e.opts)
	if err != nil {
		return fmt.Errorf("media: setup: %w", err)
	}

	e.mu.Lock()
	if e.torn {
		e.mu.Unlock()
		if closeMedia != nil {
			closeMedia()
		}
		_ = pc.Close()
		return fmt.Errorf("media: setup after teardown")
	}
	e.pc = pc
	e.closeMedia = closeMedia

	for _, s := range pc.GetSenders() {
		t := s.Track()
		if t == nil {
			continue
		}
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			e.audioSlot = senderSlot{sender: s, track: t}
		case webrtc.RTPCodecTypeVideo:
			e.videoSlot = senderSlot{sender: s, track: t}
		}
	}
	e.mu.Unlock()

	e.speakerOn.Store(true)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		cb := e.opts.Callbacks.OnLocalCandidate
		if cb == nil {
			return
		}
		init := c.ToJSON()
		out := Candidate{Candidate: init.Candidate, MLineIndex: init.SDPMLineIndex}
		if init.SDPMid != nil {
			out.Mid = *init.SDPMid
		}
		cb(out)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Printf("MEDIA: connection state -> %s", s)
		cb := e.opts.Callbacks.OnStateChange
		if cb == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnecting:
			cb(StateConnecting)
		case webrtc.PeerConnectionStateConnected:
			cb(StateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			cb(StateReconnecting)
		case webrtc.PeerConnectionStateFailed:
			cb(StateFailed)
		case webrtc.PeerConnectionStateClosed:
			cb(StateClosed)
		}
	})

	pc.OnTrack(e.consumeRemoteTrack)

	return nil
}

func (e *pionEngine) conn() (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.torn {
		return nil, fmt.Errorf("media: session torn down")
	}
	if e.pc == nil {
		return nil, fmt.Errorf("media: session not set up")
	}
	return e.pc, nil
}

func (e *pionEngine) CreateOffer(_ context.Context) (Description, error) {
	pc, err := e.conn()
	if err != nil {
		return Description{}, err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("media: create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return Description{}, fmt.Errorf("media: set local offer: %w", err)
	}
	// Trickle ICE: return immediately, candidates follow via OnLocalCandidate.
	return Description{Type: "offer", SDP: offer.SDP}, nil
}

func (e *pionEngine) CreateAnswer(_ context.Context) (Description, error) {
	pc, err := e.conn()
	if err != nil {
		return Description{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("media: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return Description{}, fmt.Errorf("media: set local answer: %w", err)
	}
	return Description{Type: "answer", SDP: answer.SDP}, nil
}

func (e *pionEngine) SetRemoteDescription(_ context.Context, d Description) error {
	pc, err := e.conn()
	if err != nil {
		return err
	}
	var sdpType webrtc.SDPType
	switch d.Type {
	case "offer":
		sdpType = webrtc.SDPTypeOffer
	case "answer":
		sdpType = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("media: unknown description type %q", d.Type)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: d.SDP}); err != nil {
		return fmt.Errorf("media: set remote %s: %w", d.Type, err)
	}
	return nil
}

func (e *pionEngine) AddCandidate(c Candidate) error {
	pc, err := e.conn()
	if err != nil {
		return err
	}
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMLineIndex: c.MLineIndex,
	}
	if c.Mid != "" {
		mid := c.Mid
		init.SDPMid = &mid
	}
	if err := pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("media: add candidate: %w", err)
	}
	return nil
}

func (e *pionEngine) SetAudioEnabled(on bool) { e.toggleSlot(&e.audioSlot, on, "audio") }
func (e *pionEngine) SetVideoEnabled(on bool) { e.toggleSlot(&e.videoSlot, on, "video") }

// toggleSlot detaches or reattaches the local track on a sender. Detaching
// keeps the m-line alive so SDP stays stable while nothing is sent.
func (e *pionEngine) toggleSlot(slot *senderSlot, on bool, kind string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.torn || slot.sender == nil {
		return
	}
	var err error
	if on {
		err = slot.sender.ReplaceTrack(slot.track)
	} else {
		err = slot.sender.ReplaceTrack(nil)
	}
	if err != nil {
		log.Printf("MEDIA: toggle %s -> %v: %v", kind, on, err)
		return
	}
	log.Printf("MEDIA: local %s %s", kind, onOff(on))
}

// SetSpeakerEnabled records the requested playback routing. Rendering remote
// audio is the consumer's concern; the flag is kept so the control surface
// can reflect it.
func (e *pionEngine) SetSpeakerEnabled(on bool) {
	e.speakerOn.Store(on)
	log.Printf("MEDIA: speaker %s", onOff(on))
}

func (e *pionEngine) Stats() Stats {
	return Stats{
		AudioPackets: e.audioPkts.Load(),
		VideoPackets: e.videoPkts.Load(),
	}
}

func (e *pionEngine) Teardown() {
	e.mu.Lock()
	if e.torn {
		e.mu.Unlock()
		return
	}
	e.torn = true
	close(e.done)
	pc := e.pc
	closeMedia := e.closeMedia
	e.pc = nil
	e.closeMedia = nil
	e.mu.Unlock()

	if closeMedia != nil {
		closeMedia()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Printf("MEDIA: close peer connection: %v", err)
		}
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// iceServers converts configured STUN/TURN URLs into Pion's config form.
func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		urls = []string{"stun:stun.l.google.com:19302"}
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio so
// CreateOffer/CreateAnswer always produces valid m-lines with ICE credentials.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("MEDIA: AddTransceiver(video) error: %v", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("MEDIA: AddTransceiver(audio) error: %v", err)
	}
}
