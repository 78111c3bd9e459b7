// Package call is the coordination core: one Coordinator goroutine owns the
// single active session and serializes everything that can touch it — native
// actions, inbound signals, media callbacks, timers. Peers, media, and the
// native surface each see a consistent call because nothing mutates a session
// except the coordinator loop.
package call

import (
	"context"
	"errors"
	"time"

	"github.com/petervdpas/klink/internal/media"
)

// State is the call lifecycle position.
type State string

const (
	StateIdle         State = "idle"
	StateDialing      State = "dialing"
	StateRinging      State = "ringing"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateEnded        State = "ended"
)

// Direction says which side dialed.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Kind is the media flavor of a call.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ParseKind maps a wire call type onto a Kind. Unknown values degrade to
// audio rather than failing the call.
func ParseKind(s string) Kind {
	if s == string(KindVideo) {
		return KindVideo
	}
	return KindAudio
}

// Terminal reasons. Most double as the wire signal kind announcing them; see
// terminalKind.
const (
	ReasonEnded    = "ended"
	ReasonRejected = "rejected"
	ReasonMissed   = "missed"
	ReasonBlocked  = "blocked"
	ReasonBusy     = "busy"
	ReasonFailed   = "failed"
)

var (
	ErrClosed         = errors.New("call: coordinator closed")
	ErrCallInProgress = errors.New("call: another call is in progress")
	ErrUnknownSession = errors.New("call: no such session")
)

// Signal is one decoded signaling message, produced by the translator (or
// synthesized by the push adapter) and consumed only by the coordinator loop.
type Signal struct {
	Kind      string // proto.Sig* value
	SessionID string
	From      string // transport-verified sender peer ID

	// Offer/answer fields.
	SDP         string
	CallKind    Kind
	DisplayName string

	// Candidate signals.
	Candidate *media.Candidate

	// Terminal signals.
	Reason string
}

// SignalSender publishes signals to a peer's topic. Implementations are
// best-effort: the coordinator logs failures and carries on locally.
type SignalSender interface {
	SendOffer(ctx context.Context, dest, sessionID string, d media.Description, kind Kind, displayName string) error
	SendAnswer(ctx context.Context, dest, sessionID string, d media.Description) error
	SendCandidate(ctx context.Context, dest, sessionID string, c media.Candidate) error
	SendAccepted(ctx context.Context, dest, sessionID string) error
	SendTerminal(ctx context.Context, dest, sessionID, kind, reason string) error
}

// Reporter presents calls on the native surface. Implemented by
// native.Adapter; a refused incoming/outgoing report aborts the call.
type Reporter interface {
	ReportIncoming(sessionID, peerID, displayName string, hasVideo bool) (handle string, err error)
	ReportOutgoing(sessionID, peerID, displayName string, hasVideo bool) (handle string, err error)
	ReportConnected(sessionID string)
	ReportEnded(sessionID, reason string)
}

// ScreenVerdict is a screening decision for an incoming call.
type ScreenVerdict string

const (
	VerdictAllow  ScreenVerdict = "allow"
	VerdictReject ScreenVerdict = "reject"
	VerdictBlock  ScreenVerdict = "block"
)

// Screener decides whether an incoming call may ring. Implementations must
// fail open: on any internal error, return VerdictAllow.
type Screener interface {
	ScreenIncoming(peerID, displayName string, hasVideo bool) ScreenVerdict
}

// Recorder persists call history. Failures are logged, never fatal.
type Recorder interface {
	RecordStart(sessionID, peerID, displayName, direction, kind string, at time.Time) error
	RecordConnected(sessionID string, at time.Time) error
	RecordEnd(sessionID, disposition string, at time.Time) error
}

// Snapshot is a read-only copy of the active session for the control surface.
type Snapshot struct {
	SessionID    string      `json:"sessionId"`
	PeerID       string      `json:"peerId"`
	DisplayName  string      `json:"displayName"`
	Direction    Direction   `json:"direction"`
	Kind         Kind        `json:"kind"`
	State        State       `json:"state"`
	NativeHandle string      `json:"nativeHandle"`
	Muted        bool        `json:"muted"`
	Held         bool        `json:"held"`
	CreatedAt    time.Time   `json:"createdAt"`
	ConnectedAt  time.Time   `json:"connectedAt"`
	Media        media.Stats `json:"media"`
}
