// Package signaling translates between wire envelopes on the pub/sub bus and
// the coordinator's typed signals. Publisher encodes outbound, Translator
// decodes inbound; neither holds call state.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/petervdpas/klink/internal/call"
	"github.com/petervdpas/klink/internal/media"
	"github.com/petervdpas/klink/internal/proto"
)

// Transport is the raw signal plane: publish bytes to a peer's topic, receive
// bytes addressed to us. Implemented by p2p.Node.
type Transport interface {
	ID() string
	PublishSignal(ctx context.Context, destPeerID string, data []byte) error
	SubscribeSignals(ctx context.Context, handle func(from string, data []byte))
}

// Publisher encodes coordinator signals into versioned envelopes.
type Publisher struct {
	t Transport
}

var _ call.SignalSender = (*Publisher)(nil)

func NewPublisher(t Transport) *Publisher {
	return &Publisher{t: t}
}

func (p *Publisher) SendOffer(ctx context.Context, dest, sessionID string, d media.Description, kind call.Kind, displayName string) error {
	return p.send(ctx, dest, proto.SigOffer, sessionID, proto.OfferPayload{
		SDP:         d.SDP,
		Kind:        string(kind),
		DisplayName: displayName,
	})
}

func (p *Publisher) SendAnswer(ctx context.Context, dest, sessionID string, d media.Description) error {
	return p.send(ctx, dest, proto.SigAnswer, sessionID, proto.OfferPayload{SDP: d.SDP})
}

func (p *Publisher) SendCandidate(ctx context.Context, dest, sessionID string, c media.Candidate) error {
	return p.send(ctx, dest, proto.SigCandidate, sessionID, proto.CandidatePayload{
		Candidate:  c.Candidate,
		Mid:        c.Mid,
		MLineIndex: c.MLineIndex,
	})
}

func (p *Publisher) SendAccepted(ctx context.Context, dest, sessionID string) error {
	return p.send(ctx, dest, proto.SigAccepted, sessionID, nil)
}

func (p *Publisher) SendTerminal(ctx context.Context, dest, sessionID, kind, reason string) error {
	return p.send(ctx, dest, kind, sessionID, proto.EndPayload{Reason: reason})
}

func (p *Publisher) send(ctx context.Context, dest, typ, sessionID string, payload any) error {
	env := proto.Envelope{
		V:         proto.SignalVersion,
		Type:      typ,
		SessionID: sessionID,
		From:      p.t.ID(),
		TS:        proto.NowMillis(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("signaling: marshal %s payload: %w", typ, err)
		}
		env.Payload = b
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("signaling: marshal %s envelope: %w", typ, err)
	}
	return p.t.PublishSignal(ctx, dest, data)
}
