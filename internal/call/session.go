package call

import (
	"time"

	"github.com/petervdpas/klink/internal/media"
)

// Session is the single active call. Owned exclusively by the coordinator
// loop: nothing outside the loop ever reads or writes one (the control
// surface gets Snapshot copies instead).
type Session struct {
	ID           string
	PeerID       string
	DisplayName  string
	Direction    Direction
	Kind         Kind
	State        State
	NativeHandle string
	Muted        bool
	Held         bool
	CreatedAt    time.Time
	ConnectedAt  time.Time

	engine  media.Engine
	pending *PendingCandidates

	// remoteSet is true once the remote description has been applied; from
	// then on candidates bypass the pending queue.
	remoteSet bool

	// answered is true once the local user accepted; stops the ring timer
	// from declaring the call missed.
	answered bool

	ringTimer *time.Timer
}

func newSession(id, peerID, displayName string, dir Direction, kind Kind, state State) *Session {
	return &Session{
		ID:          id,
		PeerID:      peerID,
		DisplayName: displayName,
		Direction:   dir,
		Kind:        kind,
		State:       state,
		CreatedAt:   time.Now(),
		pending:     NewPendingCandidates(),
	}
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		SessionID:    s.ID,
		PeerID:       s.PeerID,
		DisplayName:  s.DisplayName,
		Direction:    s.Direction,
		Kind:         s.Kind,
		State:        s.State,
		NativeHandle: s.NativeHandle,
		Muted:        s.Muted,
		Held:         s.Held,
		CreatedAt:    s.CreatedAt,
		ConnectedAt:  s.ConnectedAt,
	}
}

// stopRingTimer is safe to call when no timer was armed.
func (s *Session) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}
