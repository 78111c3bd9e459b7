// Package media owns the WebRTC transport for a single call: one
// PeerConnection per session, local capture where the platform supports it,
// and trickle-ICE plumbing. The coordinator drives it through the Engine
// interface and never touches Pion types directly.
package media

import "context"

// Description is a session description in transit between peers.
type Description struct {
	Type string `json:"type"` // "offer" | "answer"
	SDP  string `json:"sdp"`
}

// Candidate is one trickle-ICE candidate.
type Candidate struct {
	Candidate  string  `json:"candidate"`
	Mid        string  `json:"mid,omitempty"`
	MLineIndex *uint16 `json:"mLineIndex,omitempty"`
}

// ConnState is the engine's view of transport health. The coordinator maps
// these onto call states; the engine only reports what ICE/DTLS observes.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateFailed       ConnState = "failed"
	StateClosed       ConnState = "closed"
)

// Callbacks are invoked from Pion's internal goroutines. Receivers must not
// block; the coordinator re-enqueues them onto its own loop.
type Callbacks struct {
	OnLocalCandidate func(Candidate)
	OnStateChange    func(ConnState)
}

// Options configures one engine instance (one call).
type Options struct {
	// Video requests camera capture in addition to audio. When false, or when
	// no camera is available, the video m-line is receive-only.
	Video     bool
	StunURLs  []string
	Callbacks Callbacks
}

// Stats are cumulative receive-side counters for the session.
type Stats struct {
	AudioPackets uint64 `json:"audioPackets"`
	VideoPackets uint64 `json:"videoPackets"`
}

// Engine is the per-call media transport. All methods except the toggles and
// Teardown may return errors; Teardown is idempotent and never fails.
type Engine interface {
	// Setup creates the underlying PeerConnection and attempts local capture.
	// Must be called exactly once, before any other method.
	Setup(ctx context.Context) error

	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	SetRemoteDescription(ctx context.Context, d Description) error

	// AddCandidate applies a remote trickle candidate. Callers must not invoke
	// it before SetRemoteDescription has succeeded.
	AddCandidate(c Candidate) error

	SetAudioEnabled(on bool)
	SetVideoEnabled(on bool)
	SetSpeakerEnabled(on bool)

	Stats() Stats

	// Teardown stops capture and closes the PeerConnection. Safe to call more
	// than once and safe to call after a failed Setup.
	Teardown()
}

// Factory creates a fresh Engine for one call.
type Factory func(opts Options) (Engine, error)
