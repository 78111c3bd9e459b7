package native

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Adapter maintains the sessionID↔handle bijection between the call layer
// and the Surface. It holds no call state beyond the mapping: the coordinator
// owns sessions, the surface owns presentation.
type Adapter struct {
	surface Surface

	mu        sync.Mutex
	byHandle  map[string]string // handle -> sessionID
	bySession map[string]string // sessionID -> handle

	// pendingStart is a surface-minted handle for a dial in flight, consumed
	// by the outgoing report. One call at a time, so a single slot suffices.
	pendingStart string

	ctrl Controller
}

func NewAdapter(surface Surface) *Adapter {
	return &Adapter{
		surface:   surface,
		byHandle:  make(map[string]string),
		bySession: make(map[string]string),
	}
}

// SetController wires the call layer in. Must be called before any action or
// report; split from NewAdapter because the coordinator needs the adapter at
// construction time.
func (a *Adapter) SetController(ctrl Controller) { a.ctrl = ctrl }

// ── Reports: call layer → surface ───────────────────────────────────────────

// ReportIncoming presents a ringing call. The mapping is recorded only when
// the surface accepts; a refused report leaves no trace here.
func (a *Adapter) ReportIncoming(sessionID, peerID, displayName string, hasVideo bool) (string, error) {
	handle, err := a.surface.ReportIncoming(CallInfo{
		PeerID:      peerID,
		DisplayName: displayName,
		HasVideo:    hasVideo,
	})
	if err != nil {
		return "", fmt.Errorf("native: report incoming refused: %w", err)
	}

	a.mu.Lock()
	a.byHandle[handle] = sessionID
	a.bySession[sessionID] = handle
	a.mu.Unlock()

	log.Printf("NATIVE: incoming reported — session=%s handle=%s", sessionID, handle)
	return handle, nil
}

// ReportOutgoing presents an outgoing call. If the dial originated at the
// surface, its pre-minted handle is reused; otherwise one is minted here.
func (a *Adapter) ReportOutgoing(sessionID, peerID, displayName string, hasVideo bool) (string, error) {
	a.mu.Lock()
	handle := a.pendingStart
	a.pendingStart = ""
	a.mu.Unlock()
	if handle == "" {
		handle = uuid.NewString()
	}

	err := a.surface.ReportOutgoingConnecting(handle, CallInfo{
		PeerID:      peerID,
		DisplayName: displayName,
		HasVideo:    hasVideo,
	})
	if err != nil {
		return "", fmt.Errorf("native: report outgoing refused: %w", err)
	}

	a.mu.Lock()
	a.byHandle[handle] = sessionID
	a.bySession[sessionID] = handle
	a.mu.Unlock()

	log.Printf("NATIVE: outgoing reported — session=%s handle=%s", sessionID, handle)
	return handle, nil
}

func (a *Adapter) ReportConnected(sessionID string) {
	handle, ok := a.handleFor(sessionID)
	if !ok {
		log.Printf("NATIVE: connected for unknown session %s (dropped)", sessionID)
		return
	}
	a.surface.ReportConnected(handle)
}

// ReportEnded removes the mapping and tells the surface. Calling it again for
// the same session is a no-op: teardown is idempotent end to end.
func (a *Adapter) ReportEnded(sessionID, reason string) {
	a.mu.Lock()
	handle, ok := a.bySession[sessionID]
	if ok {
		delete(a.bySession, sessionID)
		delete(a.byHandle, handle)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	a.surface.ReportEnded(handle, reason)
	log.Printf("NATIVE: ended — session=%s handle=%s reason=%s", sessionID, handle, reason)
}

// ReportSynthetic presents a placeholder call and immediately ends it. Used
// by the push path when a wake cannot be tied to a real caller: something
// must still be shown for the wake. No session exists, so no mapping is kept.
func (a *Adapter) ReportSynthetic(displayName, reason string) {
	handle, err := a.surface.ReportIncoming(CallInfo{DisplayName: displayName})
	if err != nil {
		log.Printf("NATIVE: synthetic report refused: %v", err)
		return
	}
	a.surface.ReportEnded(handle, reason)
	log.Printf("NATIVE: synthetic call reported and ended — reason=%s", reason)
}

func (a *Adapter) handleFor(sessionID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.bySession[sessionID]
	return h, ok
}

// ── Actions: surface → call layer ───────────────────────────────────────────

// Start dials peerID. handle is the surface's pre-minted handle for the call;
// it is bound to the session when the outgoing report comes back.
func (a *Adapter) Start(ctx context.Context, handle, peerID string, video bool) (string, error) {
	a.mu.Lock()
	a.pendingStart = handle
	a.mu.Unlock()

	sessionID, err := a.ctrl.StartCall(ctx, peerID, video)
	if err != nil {
		a.mu.Lock()
		a.pendingStart = ""
		a.mu.Unlock()
		a.surface.ReportActionFailed(handle, "start", err.Error())
		return "", err
	}
	return sessionID, nil
}

func (a *Adapter) Answer(handle string) error {
	return a.forward(handle, "answer", a.ctrl.AnswerCall)
}

func (a *Adapter) End(handle string) error {
	return a.forward(handle, "end", a.ctrl.EndCall)
}

func (a *Adapter) Mute(handle string, on bool) error {
	return a.forward(handle, "mute", func(id string) error { return a.ctrl.SetMuted(id, on) })
}

func (a *Adapter) Hold(handle string, on bool) error {
	return a.forward(handle, "hold", func(id string) error { return a.ctrl.SetHeld(id, on) })
}

// forward resolves handle and applies fn. Unknown handles fail closed: the
// action is refused and the surface is told, nothing else changes.
func (a *Adapter) forward(handle, action string, fn func(sessionID string) error) error {
	a.mu.Lock()
	sessionID, ok := a.byHandle[handle]
	a.mu.Unlock()
	if !ok {
		log.Printf("NATIVE: %s for unknown handle %s (refused)", action, handle)
		a.surface.ReportActionFailed(handle, action, "unknown call")
		return ErrUnknownHandle
	}

	if err := fn(sessionID); err != nil {
		a.surface.ReportActionFailed(handle, action, err.Error())
		return err
	}
	return nil
}
