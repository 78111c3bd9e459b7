package viewer

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/petervdpas/klink/internal/native"
	"github.com/petervdpas/klink/internal/proto"
)

// ErrDoNotDisturb is the refusal returned for incoming reports while DND is
// on. The coordinator declines the call to the caller; nothing rings here.
var ErrDoNotDisturb = errors.New("viewer: do not disturb")

// Event is one presentation event pushed to connected websocket clients.
type Event struct {
	Type   string           `json:"type"` // ring | connecting | connected | ended | action-failed
	Handle string           `json:"handle"`
	Info   *native.CallInfo `json:"info,omitempty"`
	Reason string           `json:"reason,omitempty"`
	Action string           `json:"action,omitempty"`
	TS     int64            `json:"ts"`
}

// Surface is the HTTP viewer's native.Surface: call presentation becomes a
// websocket event stream, user actions come back in over REST.
type Surface struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	dnd  atomic.Bool
}

var _ native.Surface = (*Surface)(nil)

func NewSurface() *Surface {
	return &Surface{subs: make(map[chan Event]struct{})}
}

// SetDND flips do-not-disturb. While on, incoming reports are refused.
func (s *Surface) SetDND(on bool) {
	s.dnd.Store(on)
	log.Printf("VIEWER: do-not-disturb %v", on)
}

func (s *Surface) DND() bool { return s.dnd.Load() }

func (s *Surface) ReportIncoming(info native.CallInfo) (string, error) {
	if s.dnd.Load() {
		return "", ErrDoNotDisturb
	}
	handle := uuid.NewString()
	s.broadcast(Event{Type: "ring", Handle: handle, Info: &info})
	return handle, nil
}

func (s *Surface) ReportOutgoingConnecting(handle string, info native.CallInfo) error {
	s.broadcast(Event{Type: "connecting", Handle: handle, Info: &info})
	return nil
}

func (s *Surface) ReportConnected(handle string) {
	s.broadcast(Event{Type: "connected", Handle: handle})
}

func (s *Surface) ReportEnded(handle, reason string) {
	s.broadcast(Event{Type: "ended", Handle: handle, Reason: reason})
}

func (s *Surface) ReportActionFailed(handle, action, reason string) {
	s.broadcast(Event{Type: "action-failed", Handle: handle, Action: action, Reason: reason})
}

// Subscribe returns a buffered event channel. A slow consumer loses events
// rather than blocking call progress.
func (s *Surface) Subscribe() (chan Event, func()) {
	ch := make(chan Event, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Surface) broadcast(ev Event) {
	ev.TS = proto.NowMillis()
	s.mu.Lock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}
