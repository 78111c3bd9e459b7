package push

import (
	"testing"

	"github.com/petervdpas/klink/internal/call"
	"github.com/petervdpas/klink/internal/proto"
)

type sinkFake struct {
	signals []call.Signal
}

func (s *sinkFake) DeliverSignal(sig call.Signal) {
	s.signals = append(s.signals, sig)
}

type syntheticFake struct {
	reports []string // displayName/reason
}

func (s *syntheticFake) ReportSynthetic(displayName, reason string) {
	s.reports = append(s.reports, displayName+"/"+reason)
}

func TestHandleWake(t *testing.T) {
	t.Run("valid wake rings through signaling", func(t *testing.T) {
		sink := &sinkFake{}
		syn := &syntheticFake{}
		a := NewAdapter(sink, syn)

		a.HandleWake([]byte(`{"callId":"s1","callerId":"peer-a","callerDisplayName":"Alice","callType":"video"}`))

		if len(sink.signals) != 1 {
			t.Fatalf("expected 1 signal, got %d", len(sink.signals))
		}
		sig := sink.signals[0]
		if sig.Kind != proto.SigIncoming || sig.SessionID != "s1" || sig.From != "peer-a" {
			t.Fatalf("wrong ring request: %+v", sig)
		}
		if sig.SDP != "" {
			t.Fatal("wake must ring without SDP; the offer follows over signaling")
		}
		if sig.CallKind != call.KindVideo || sig.DisplayName != "Alice" {
			t.Fatalf("wake metadata lost: %+v", sig)
		}
		if len(syn.reports) != 0 {
			t.Fatalf("valid wake produced a synthetic report: %v", syn.reports)
		}
	})

	t.Run("unknown call type degrades to audio", func(t *testing.T) {
		sink := &sinkFake{}
		a := NewAdapter(sink, &syntheticFake{})
		a.HandleWake([]byte(`{"callId":"s1","callerId":"peer-a","callType":"fax"}`))
		if len(sink.signals) != 1 || sink.signals[0].CallKind != call.KindAudio {
			t.Fatalf("call type not degraded: %+v", sink.signals)
		}
	})

	// Whatever arrives, something visible must come out of a wake.
	for _, tc := range []struct {
		name    string
		payload string
	}{
		{"garbage", `not-json`},
		{"empty object", `{}`},
		{"missing caller", `{"callId":"s1"}`},
		{"missing call id", `{"callerId":"peer-a"}`},
	} {
		t.Run(tc.name+" becomes synthetic report", func(t *testing.T) {
			sink := &sinkFake{}
			syn := &syntheticFake{}
			a := NewAdapter(sink, syn)

			a.HandleWake([]byte(tc.payload))

			if len(sink.signals) != 0 {
				t.Fatalf("broken wake reached the coordinator: %+v", sink.signals)
			}
			if len(syn.reports) != 1 || syn.reports[0] != "Unknown caller/activation-failure" {
				t.Fatalf("expected synthetic failure report, got %v", syn.reports)
			}
		})
	}
}
