package signaling

import (
	"context"
	"encoding/json"
	"log"

	"github.com/petervdpas/klink/internal/call"
	"github.com/petervdpas/klink/internal/media"
	"github.com/petervdpas/klink/internal/proto"
	"github.com/petervdpas/klink/internal/util"
)

// Sink receives decoded signals. Implemented by call.Coordinator.
type Sink interface {
	DeliverSignal(sig call.Signal)
}

// Entry is one row in the signal debug log kept for the control surface.
type Entry struct {
	TS        int64  `json:"ts"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	From      string `json:"from,omitempty"`
	Dropped   string `json:"dropped,omitempty"` // non-empty = drop reason
}

// Translator decodes inbound envelopes into typed signals. Anything
// malformed, unversioned, or of unknown kind is logged and dropped — a bad
// envelope never reaches the coordinator.
type Translator struct {
	sink  Sink
	debug *util.RingBuffer[Entry]
}

// NewTranslator creates a translator. debug may be nil.
func NewTranslator(sink Sink, debug *util.RingBuffer[Entry]) *Translator {
	return &Translator{sink: sink, debug: debug}
}

// Run consumes signals addressed to this peer until ctx is cancelled.
func (t *Translator) Run(ctx context.Context, tr Transport) {
	tr.SubscribeSignals(ctx, t.handle)
}

func (t *Translator) handle(from string, data []byte) {
	var env proto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("SIGNAL: malformed envelope from %s dropped: %v", from, err)
		t.note(Entry{TS: proto.NowMillis(), From: from, Dropped: "malformed"})
		return
	}

	entry := Entry{TS: proto.NowMillis(), Type: env.Type, SessionID: env.SessionID, From: from}

	if env.V > proto.SignalVersion {
		log.Printf("SIGNAL: envelope v%d from %s dropped (speaking v%d)", env.V, from, proto.SignalVersion)
		entry.Dropped = "version"
		t.note(entry)
		return
	}
	if env.Type == "" || env.SessionID == "" {
		log.Printf("SIGNAL: envelope from %s missing type/session (dropped)", from)
		entry.Dropped = "incomplete"
		t.note(entry)
		return
	}
	if env.From != "" && env.From != from {
		// The transport-verified sender wins; a mismatched From field is a
		// confused or lying peer either way.
		log.Printf("SIGNAL: envelope claims from=%s but arrived from %s (dropped)", env.From, from)
		entry.Dropped = "sender-mismatch"
		t.note(entry)
		return
	}

	sig, reason := decode(env, from)
	if reason != "" {
		log.Printf("SIGNAL: %s from %s dropped: %s", env.Type, from, reason)
		entry.Dropped = reason
		t.note(entry)
		return
	}

	t.note(entry)
	t.sink.DeliverSignal(sig)
}

// decode maps one envelope onto a typed signal. Returns a non-empty drop
// reason instead of a signal when the payload doesn't hold up.
func decode(env proto.Envelope, from string) (call.Signal, string) {
	sig := call.Signal{
		Kind:      env.Type,
		SessionID: env.SessionID,
		From:      from,
	}

	switch env.Type {
	case proto.SigIncoming, proto.SigOffer:
		var p proto.OfferPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return call.Signal{}, "bad offer payload"
			}
		}
		if env.Type == proto.SigOffer && p.SDP == "" {
			return call.Signal{}, "offer without sdp"
		}
		sig.SDP = p.SDP
		sig.CallKind = call.ParseKind(p.Kind)
		sig.DisplayName = p.DisplayName

	case proto.SigAnswer:
		var p proto.OfferPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.SDP == "" {
			return call.Signal{}, "answer without sdp"
		}
		sig.SDP = p.SDP

	case proto.SigCandidate:
		var p proto.CandidatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Candidate == "" {
			return call.Signal{}, "bad candidate payload"
		}
		sig.Candidate = &media.Candidate{
			Candidate:  p.Candidate,
			Mid:        p.Mid,
			MLineIndex: p.MLineIndex,
		}

	case proto.SigAccepted:
		// No payload.

	case proto.SigEnded, proto.SigRejected, proto.SigMissed, proto.SigBlocked, proto.SigBusy:
		var p proto.EndPayload
		if len(env.Payload) > 0 {
			_ = json.Unmarshal(env.Payload, &p) // reason is advisory
		}
		sig.Reason = p.Reason

	default:
		return call.Signal{}, "unknown kind"
	}

	return sig, ""
}

func (t *Translator) note(e Entry) {
	if t.debug != nil {
		t.debug.Push(e)
	}
}
