// Package native is the boundary to the platform call UI. The daemon itself
// has no UI; whatever presents calls to the user (the HTTP viewer in this
// repo, a desktop shell, a mobile bridge) implements Surface, and the
// coordinator only ever talks to the Adapter.
package native

import (
	"context"
	"errors"
)

// ErrUnknownHandle is returned for actions that name a handle the adapter
// has no session for. Such actions are refused, never guessed at.
var ErrUnknownHandle = errors.New("native: unknown call handle")

// CallInfo describes a call being presented to the surface.
type CallInfo struct {
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName"`
	HasVideo    bool   `json:"hasVideo"`
}

// Surface is the platform UI. Handles are opaque strings minted by whichever
// side first names the call: the surface for incoming presentation and for
// user-initiated dials, the adapter otherwise.
type Surface interface {
	// ReportIncoming presents a ringing call and returns the surface's handle
	// for it. An error means presentation was refused (do-not-disturb, the
	// surface is gone) and the call must not proceed.
	ReportIncoming(info CallInfo) (handle string, err error)

	// ReportOutgoingConnecting presents an outgoing call under handle.
	ReportOutgoingConnecting(handle string, info CallInfo) error

	ReportConnected(handle string)
	ReportEnded(handle, reason string)

	// ReportActionFailed tells the surface an action it issued was refused.
	ReportActionFailed(handle, action, reason string)
}

// Controller is what the adapter needs from the call layer. All methods are
// synchronous: they return once the coordinator has processed the request.
type Controller interface {
	StartCall(ctx context.Context, peerID string, video bool) (sessionID string, err error)
	AnswerCall(sessionID string) error
	EndCall(sessionID string) error
	SetMuted(sessionID string, muted bool) error
	SetHeld(sessionID string, held bool) error
}
