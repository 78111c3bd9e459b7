// Package push handles wake-ups from an external push transport. The hard
// rule here is that every wake ends in a native report: either the decoded
// caller rings through the normal signaling path, or a synthetic failed call
// is shown and immediately ended. A wake that silently reports nothing is
// the one outcome that must never happen.
package push

import (
	"encoding/json"
	"log"

	"github.com/petervdpas/klink/internal/call"
	"github.com/petervdpas/klink/internal/proto"
)

// Sink receives signals destined for the coordinator.
type Sink interface {
	DeliverSignal(sig call.Signal)
}

// SyntheticReporter shows a placeholder failed call on the native surface.
// Implemented by native.Adapter.
type SyntheticReporter interface {
	ReportSynthetic(displayName, reason string)
}

// Adapter turns wake payloads into ring requests.
type Adapter struct {
	sink      Sink
	synthetic SyntheticReporter
}

func NewAdapter(sink Sink, synthetic SyntheticReporter) *Adapter {
	return &Adapter{sink: sink, synthetic: synthetic}
}

// HandleWake processes one wake payload. A parseable payload becomes an
// SDP-less ring request for the coordinator (the caller's real offer follows
// over signaling); an unparseable one becomes a synthetic reported-then-ended
// call so the wake is never swallowed.
func (a *Adapter) HandleWake(payload []byte) {
	var wp proto.WakePayload
	err := json.Unmarshal(payload, &wp)
	if err != nil || wp.CallID == "" || wp.CallerID == "" {
		if err != nil {
			log.Printf("PUSH: unparseable wake payload: %v", err)
		} else {
			log.Printf("PUSH: wake payload missing callId/callerId")
		}
		a.synthetic.ReportSynthetic("Unknown caller", "activation-failure")
		return
	}

	log.Printf("PUSH: wake for call %s from %s", wp.CallID, wp.CallerID)
	a.sink.DeliverSignal(call.Signal{
		Kind:        proto.SigIncoming,
		SessionID:   wp.CallID,
		From:        wp.CallerID,
		CallKind:    call.ParseKind(wp.CallType),
		DisplayName: wp.CallerDisplayName,
	})
}
