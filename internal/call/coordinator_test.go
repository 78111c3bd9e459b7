package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/klink/internal/media"
	"github.com/petervdpas/klink/internal/proto"
)

// ── Fakes ───────────────────────────────────────────────────────────────────

type fakeEngine struct {
	mu          sync.Mutex
	setupCalls  int
	failSetup   bool
	failSRD     bool
	remoteDescs []media.Description
	candidates  []string
	audioOn     []bool
	videoOn     []bool
	teardowns   int
}

func (e *fakeEngine) Setup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setupCalls++
	if e.failSetup {
		return errors.New("no camera")
	}
	return nil
}

func (e *fakeEngine) CreateOffer(ctx context.Context) (media.Description, error) {
	return media.Description{Type: "offer", SDP: "local-offer"}, nil
}

func (e *fakeEngine) CreateAnswer(ctx context.Context) (media.Description, error) {
	return media.Description{Type: "answer", SDP: "local-answer"}, nil
}

func (e *fakeEngine) SetRemoteDescription(ctx context.Context, d media.Description) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failSRD {
		return errors.New("bad sdp")
	}
	e.remoteDescs = append(e.remoteDescs, d)
	return nil
}

func (e *fakeEngine) AddCandidate(c media.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c.Candidate)
	return nil
}

func (e *fakeEngine) SetAudioEnabled(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioOn = append(e.audioOn, on)
}

func (e *fakeEngine) SetVideoEnabled(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoOn = append(e.videoOn, on)
}

func (e *fakeEngine) SetSpeakerEnabled(on bool) {}

func (e *fakeEngine) Stats() media.Stats { return media.Stats{} }

func (e *fakeEngine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardowns++
}

func (e *fakeEngine) remoteCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.remoteDescs)
}

func (e *fakeEngine) candidateList() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.candidates...)
}

// fakeFactory hands out fakeEngines and captures the callbacks the
// coordinator registers, so tests can fire media state changes.
type fakeFactory struct {
	mu        sync.Mutex
	failNew   bool
	failSetup bool
	engines   []*fakeEngine
	callbacks []media.Callbacks
}

func (f *fakeFactory) New(opts media.Options) (media.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNew {
		return nil, errors.New("factory refused")
	}
	e := &fakeEngine{failSetup: f.failSetup}
	f.engines = append(f.engines, e)
	f.callbacks = append(f.callbacks, opts.Callbacks)
	return e, nil
}

func (f *fakeFactory) engine(i int) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[i]
}

func (f *fakeFactory) fireState(i int, st media.ConnState) {
	f.mu.Lock()
	cb := f.callbacks[i]
	f.mu.Unlock()
	cb.OnStateChange(st)
}

type sentSignal struct {
	kind      string
	dest      string
	sessionID string
	reason    string
}

type fakeSender struct {
	mu        sync.Mutex
	failOffer bool
	sent      []sentSignal
}

func (s *fakeSender) record(kind, dest, sessionID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentSignal{kind: kind, dest: dest, sessionID: sessionID, reason: reason})
}

func (s *fakeSender) SendOffer(ctx context.Context, dest, sessionID string, d media.Description, kind Kind, displayName string) error {
	if s.failOffer {
		return errors.New("topic gone")
	}
	s.record(proto.SigOffer, dest, sessionID, "")
	return nil
}

func (s *fakeSender) SendAnswer(ctx context.Context, dest, sessionID string, d media.Description) error {
	s.record(proto.SigAnswer, dest, sessionID, "")
	return nil
}

func (s *fakeSender) SendCandidate(ctx context.Context, dest, sessionID string, c media.Candidate) error {
	s.record(proto.SigCandidate, dest, sessionID, "")
	return nil
}

func (s *fakeSender) SendAccepted(ctx context.Context, dest, sessionID string) error {
	s.record(proto.SigAccepted, dest, sessionID, "")
	return nil
}

func (s *fakeSender) SendTerminal(ctx context.Context, dest, sessionID, kind, reason string) error {
	s.record(kind, dest, sessionID, reason)
	return nil
}

func (s *fakeSender) byKind(kind string) []sentSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentSignal
	for _, sig := range s.sent {
		if sig.kind == kind {
			out = append(out, sig)
		}
	}
	return out
}

type endedReport struct {
	sessionID string
	reason    string
}

type fakeReporter struct {
	mu             sync.Mutex
	refuseIncoming bool
	incoming       []string
	outgoing       []string
	connected      []string
	ended          []endedReport
}

func (r *fakeReporter) ReportIncoming(sessionID, peerID, displayName string, hasVideo bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refuseIncoming {
		return "", errors.New("do not disturb")
	}
	r.incoming = append(r.incoming, sessionID)
	return "h-" + sessionID, nil
}

func (r *fakeReporter) ReportOutgoing(sessionID, peerID, displayName string, hasVideo bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outgoing = append(r.outgoing, sessionID)
	return "h-" + sessionID, nil
}

func (r *fakeReporter) ReportConnected(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, sessionID)
}

func (r *fakeReporter) ReportEnded(sessionID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, endedReport{sessionID: sessionID, reason: reason})
}

func (r *fakeReporter) endedList() []endedReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]endedReport(nil), r.ended...)
}

func (r *fakeReporter) connectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected)
}

type fakeScreener struct{ verdict ScreenVerdict }

func (f *fakeScreener) ScreenIncoming(peerID, displayName string, hasVideo bool) ScreenVerdict {
	return f.verdict
}

// ── Harness ─────────────────────────────────────────────────────────────────

type harness struct {
	coord    *Coordinator
	factory  *fakeFactory
	sender   *fakeSender
	reporter *fakeReporter
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		factory:  &fakeFactory{},
		sender:   &fakeSender{},
		reporter: &fakeReporter{},
	}
	opts := Options{
		SelfID:          "self-peer",
		SelfDisplayName: func() string { return "Me" },
		Sender:          h.sender,
		Reporter:        h.reporter,
		Engines:         h.factory.New,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.coord = New(opts)
	t.Cleanup(h.coord.Close)
	return h
}

// settle blocks until every event queued so far has been processed, by
// round-tripping a harmless action through the loop.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	if err := h.coord.SetMuted("settle-barrier", false); err != ErrUnknownSession && err != ErrClosed {
		t.Fatalf("settle: unexpected error %v", err)
	}
}

func (h *harness) dial(t *testing.T, peerID string) string {
	t.Helper()
	id, err := h.coord.StartCall(context.Background(), peerID, false)
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	return id
}

func offerSignal(sessionID, from string) Signal {
	return Signal{
		Kind:        proto.SigOffer,
		SessionID:   sessionID,
		From:        from,
		SDP:         "remote-offer",
		CallKind:    KindAudio,
		DisplayName: "Caller",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ── Tests ───────────────────────────────────────────────────────────────────

func TestStartCall(t *testing.T) {
	t.Run("dials and publishes offer", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.dial(t, "peer-a")

		if got := h.sender.byKind(proto.SigOffer); len(got) != 1 || got[0].dest != "peer-a" {
			t.Fatalf("expected one offer to peer-a, got %+v", got)
		}
		snap, ok := h.coord.Snapshot()
		if !ok || snap.SessionID != id || snap.State != StateDialing {
			t.Fatalf("expected dialing snapshot for %s, got %+v ok=%v", id, snap, ok)
		}
		if snap.NativeHandle != "h-"+id {
			t.Fatalf("native handle not bound: %q", snap.NativeHandle)
		}
	})

	t.Run("second call rejected while busy", func(t *testing.T) {
		h := newHarness(t, nil)
		h.dial(t, "peer-a")
		if _, err := h.coord.StartCall(context.Background(), "peer-b", false); err != ErrCallInProgress {
			t.Fatalf("expected ErrCallInProgress, got %v", err)
		}
	})

	t.Run("cannot dial self", func(t *testing.T) {
		h := newHarness(t, nil)
		if _, err := h.coord.StartCall(context.Background(), "self-peer", false); err == nil {
			t.Fatal("expected error dialing own peer id")
		}
		if _, ok := h.coord.Snapshot(); ok {
			t.Fatal("no session should exist after self-dial")
		}
	})

	t.Run("publish failure tears down cleanly", func(t *testing.T) {
		h := newHarness(t, nil)
		h.sender.failOffer = true
		if _, err := h.coord.StartCall(context.Background(), "peer-a", false); err == nil {
			t.Fatal("expected publish failure")
		}
		if _, ok := h.coord.Snapshot(); ok {
			t.Fatal("failed dial must not leave a session")
		}
		if h.factory.engine(0).teardowns == 0 {
			t.Fatal("engine not torn down after publish failure")
		}
		ended := h.reporter.endedList()
		if len(ended) != 1 || ended[0].reason != ReasonFailed {
			t.Fatalf("expected one failed report, got %+v", ended)
		}
	})
}

func TestIncomingInvite(t *testing.T) {
	t.Run("offer rings and applies remote description", func(t *testing.T) {
		h := newHarness(t, nil)
		h.coord.DeliverSignal(offerSignal("s1", "peer-a"))
		h.settle(t)

		snap, ok := h.coord.Snapshot()
		if !ok || snap.State != StateRinging || snap.Direction != DirectionIncoming {
			t.Fatalf("expected ringing incoming session, got %+v ok=%v", snap, ok)
		}
		if h.factory.engine(0).remoteCount() != 1 {
			t.Fatal("remote offer not applied")
		}
	})

	t.Run("busy reply while in a call", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.dial(t, "peer-a")
		h.coord.DeliverSignal(offerSignal("s2", "peer-b"))
		h.settle(t)

		busy := h.sender.byKind(proto.SigBusy)
		if len(busy) != 1 || busy[0].dest != "peer-b" || busy[0].sessionID != "s2" {
			t.Fatalf("expected busy to peer-b for s2, got %+v", busy)
		}
		snap, ok := h.coord.Snapshot()
		if !ok || snap.SessionID != id {
			t.Fatal("busy invite must not disturb the active session")
		}
	})

	t.Run("duplicate offer dropped", func(t *testing.T) {
		h := newHarness(t, nil)
		h.coord.DeliverSignal(offerSignal("s1", "peer-a"))
		h.coord.DeliverSignal(offerSignal("s1", "peer-a"))
		h.settle(t)
		if n := h.factory.engine(0).remoteCount(); n != 1 {
			t.Fatalf("remote description applied %d times, want 1", n)
		}
	})

	t.Run("surface refusal declines to caller", func(t *testing.T) {
		h := newHarness(t, nil)
		h.reporter.refuseIncoming = true
		h.coord.DeliverSignal(offerSignal("s1", "peer-a"))
		h.settle(t)

		if _, ok := h.coord.Snapshot(); ok {
			t.Fatal("refused report must not create a session")
		}
		rej := h.sender.byKind(proto.SigRejected)
		if len(rej) != 1 || rej[0].dest != "peer-a" {
			t.Fatalf("expected rejected signal to caller, got %+v", rej)
		}
	})

	t.Run("media setup failure ends the attempt", func(t *testing.T) {
		h := newHarness(t, nil)
		h.factory.failSetup = true
		h.coord.DeliverSignal(offerSignal("s1", "peer-a"))
		h.settle(t)

		if _, ok := h.coord.Snapshot(); ok {
			t.Fatal("setup failure must not leave a session")
		}
		if got := h.sender.byKind(proto.SigEnded); len(got) != 1 || got[0].reason != ReasonFailed {
			t.Fatalf("expected ended/failed to caller, got %+v", got)
		}
	})
}

func TestScreening(t *testing.T) {
	cases := []struct {
		verdict ScreenVerdict
		kind    string
		reason  string
	}{
		{VerdictReject, proto.SigRejected, ReasonRejected},
		{VerdictBlock, proto.SigBlocked, ReasonBlocked},
	}
	for _, tc := range cases {
		t.Run(string(tc.verdict), func(t *testing.T) {
			h := newHarness(t, func(o *Options) {
				o.Screener = &fakeScreener{verdict: tc.verdict}
			})
			h.coord.DeliverSignal(offerSignal("s1", "peer-a"))
			h.settle(t)

			if _, ok := h.coord.Snapshot(); ok {
				t.Fatal("screened call must not ring")
			}
			got := h.sender.byKind(tc.kind)
			if len(got) != 1 || got[0].reason != tc.reason {
				t.Fatalf("expected %s/%s to caller, got %+v", tc.kind, tc.reason, got)
			}
			h.reporter.mu.Lock()
			rang := len(h.reporter.incoming)
			h.reporter.mu.Unlock()
			if rang != 0 {
				t.Fatal("screened call reached the native surface")
			}
		})
	}

	t.Run("allow rings normally", func(t *testing.T) {
		h := newHarness(t, func(o *Options) {
			o.Screener = &fakeScreener{verdict: VerdictAllow}
		})
		h.coord.DeliverSignal(offerSignal("s1", "peer-a"))
		h.settle(t)
		if snap, ok := h.coord.Snapshot(); !ok || snap.State != StateRinging {
			t.Fatalf("expected ringing, got %+v ok=%v", snap, ok)
		}
	})
}

func TestCandidateBuffering(t *testing.T) {
	cand := func(s string) Signal {
		return Signal{Kind: proto.SigCandidate, SessionID: "out", From: "peer-a",
			Candidate: &media.Candidate{Candidate: s}}
	}

	t.Run("buffered until answer then flushed in order", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.dial(t, "peer-a")

		early1, early2 := cand("c1"), cand("c2")
		early1.SessionID, early2.SessionID = id, id
		h.coord.DeliverSignal(early1)
		h.coord.DeliverSignal(early2)
		h.settle(t)

		eng := h.factory.engine(0)
		if n := len(eng.candidateList()); n != 0 {
			t.Fatalf("candidates applied before remote description: %d", n)
		}

		h.coord.DeliverSignal(Signal{Kind: proto.SigAnswer, SessionID: id, From: "peer-a", SDP: "remote-answer"})
		h.settle(t)

		got := eng.candidateList()
		if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
			t.Fatalf("flush order wrong: %v", got)
		}

		// After the flush, candidates go straight through.
		late := cand("c3")
		late.SessionID = id
		h.coord.DeliverSignal(late)
		h.settle(t)
		if got := eng.candidateList(); len(got) != 3 || got[2] != "c3" {
			t.Fatalf("late candidate not applied directly: %v", got)
		}
	})

	t.Run("candidate for unknown session discarded", func(t *testing.T) {
		h := newHarness(t, nil)
		h.coord.DeliverSignal(cand("stray"))
		h.settle(t)
		if _, ok := h.coord.Snapshot(); ok {
			t.Fatal("stray candidate created a session")
		}
	})
}

func TestAnswerFlow(t *testing.T) {
	t.Run("duplicate answer dropped", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.dial(t, "peer-a")
		ans := Signal{Kind: proto.SigAnswer, SessionID: id, From: "peer-a", SDP: "remote-answer"}
		h.coord.DeliverSignal(ans)
		h.coord.DeliverSignal(ans)
		h.settle(t)
		if n := h.factory.engine(0).remoteCount(); n != 1 {
			t.Fatalf("remote answer applied %d times, want 1", n)
		}
	})

	t.Run("local answer publishes accepted then answer", func(t *testing.T) {
		h := newHarness(t, nil)
		h.coord.DeliverSignal(offerSignal("s1", "peer-a"))
		h.settle(t)

		if err := h.coord.AnswerCall("s1"); err != nil {
			t.Fatalf("AnswerCall: %v", err)
		}
		if got := h.sender.byKind(proto.SigAccepted); len(got) != 1 {
			t.Fatalf("expected accepted ack, got %+v", got)
		}
		if got := h.sender.byKind(proto.SigAnswer); len(got) != 1 || got[0].dest != "peer-a" {
			t.Fatalf("expected answer to peer-a, got %+v", got)
		}
	})

	t.Run("cannot answer before the offer arrives", func(t *testing.T) {
		h := newHarness(t, nil)
		// A push wake rings without SDP; the real offer follows over pubsub.
		h.coord.DeliverSignal(Signal{Kind: proto.SigIncoming, SessionID: "s1", From: "peer-a", CallKind: KindAudio})
		h.settle(t)

		if err := h.coord.AnswerCall("s1"); err == nil {
			t.Fatal("expected answer to fail without a remote offer")
		}

		h.coord.DeliverSignal(offerSignal("s1", "peer-a"))
		h.settle(t)
		if err := h.coord.AnswerCall("s1"); err != nil {
			t.Fatalf("AnswerCall after offer: %v", err)
		}
	})

	t.Run("cannot answer an outgoing call", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.dial(t, "peer-a")
		if err := h.coord.AnswerCall(id); err == nil {
			t.Fatal("expected error answering own dial")
		}
	})
}

func TestMediaStates(t *testing.T) {
	t.Run("connected reported exactly once", func(t *testing.T) {
		h := newHarness(t, nil)
		h.dial(t, "peer-a")

		h.factory.fireState(0, media.StateConnected)
		h.settle(t)
		if h.reporter.connectedCount() != 1 {
			t.Fatalf("connected reported %d times, want 1", h.reporter.connectedCount())
		}

		// Interruption and recovery must not re-report.
		h.factory.fireState(0, media.StateReconnecting)
		h.settle(t)
		if snap, _ := h.coord.Snapshot(); snap.State != StateReconnecting {
			t.Fatalf("expected reconnecting, got %s", snap.State)
		}
		h.factory.fireState(0, media.StateConnected)
		h.settle(t)
		if snap, _ := h.coord.Snapshot(); snap.State != StateConnected {
			t.Fatalf("expected connected after recovery, got %s", snap.State)
		}
		if h.reporter.connectedCount() != 1 {
			t.Fatalf("recovery re-reported connected: %d", h.reporter.connectedCount())
		}
	})

	t.Run("reconnecting ignored unless connected", func(t *testing.T) {
		h := newHarness(t, nil)
		h.dial(t, "peer-a")
		h.factory.fireState(0, media.StateReconnecting)
		h.settle(t)
		if snap, _ := h.coord.Snapshot(); snap.State != StateDialing {
			t.Fatalf("dialing session moved to %s on a spurious reconnect", snap.State)
		}
	})

	t.Run("media failure ends the call", func(t *testing.T) {
		h := newHarness(t, nil)
		h.dial(t, "peer-a")
		h.factory.fireState(0, media.StateFailed)
		h.settle(t)

		if _, ok := h.coord.Snapshot(); ok {
			t.Fatal("session survived media failure")
		}
		ended := h.reporter.endedList()
		if len(ended) != 1 || ended[0].reason != ReasonFailed {
			t.Fatalf("expected failed report, got %+v", ended)
		}
		if got := h.sender.byKind(proto.SigEnded); len(got) != 1 || got[0].reason != ReasonFailed {
			t.Fatalf("peer not told about the failure: %+v", got)
		}
	})
}

func TestTeardownRaces(t *testing.T) {
	t.Run("local end then remote ended is a single teardown", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.dial(t, "peer-a")

		if err := h.coord.EndCall(id); err != nil {
			t.Fatalf("EndCall: %v", err)
		}
		h.coord.DeliverSignal(Signal{Kind: proto.SigEnded, SessionID: id, From: "peer-a"})
		h.settle(t)

		ended := h.reporter.endedList()
		if len(ended) != 1 || ended[0].reason != ReasonEnded {
			t.Fatalf("expected exactly one ended report, got %+v", ended)
		}
		if h.factory.engine(0).teardowns != 1 {
			t.Fatalf("engine torn down %d times, want 1", h.factory.engine(0).teardowns)
		}
	})

	t.Run("remote ended first wins", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.dial(t, "peer-a")

		h.coord.DeliverSignal(Signal{Kind: proto.SigRejected, SessionID: id, From: "peer-a"})
		h.settle(t)

		ended := h.reporter.endedList()
		if len(ended) != 1 || ended[0].reason != ReasonRejected {
			t.Fatalf("expected rejected report, got %+v", ended)
		}
		// A later local end finds no session.
		if err := h.coord.EndCall(id); err != ErrUnknownSession {
			t.Fatalf("expected ErrUnknownSession after remote end, got %v", err)
		}
		// Remote termination must not echo a terminal back.
		if got := h.sender.byKind(proto.SigEnded); len(got) != 0 {
			t.Fatalf("terminal echoed to peer: %+v", got)
		}
	})
}

func TestRingTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.RingTimeout = 30 * time.Millisecond
	})
	h.coord.DeliverSignal(offerSignal("s1", "peer-a"))
	h.settle(t)

	waitFor(t, "missed teardown", func() bool {
		_, ok := h.coord.Snapshot()
		return !ok
	})
	ended := h.reporter.endedList()
	if len(ended) != 1 || ended[0].reason != ReasonMissed {
		t.Fatalf("expected missed report, got %+v", ended)
	}
	if got := h.sender.byKind(proto.SigMissed); len(got) != 1 || got[0].dest != "peer-a" {
		t.Fatalf("caller not told the call was missed: %+v", got)
	}
}

func TestRingTimeoutCancelledByAnswer(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.RingTimeout = 40 * time.Millisecond
	})
	h.coord.DeliverSignal(offerSignal("s1", "peer-a"))
	h.settle(t)
	if err := h.coord.AnswerCall("s1"); err != nil {
		t.Fatalf("AnswerCall: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	h.settle(t)
	if _, ok := h.coord.Snapshot(); !ok {
		t.Fatal("answered call was declared missed")
	}
}

func TestMuteAndHold(t *testing.T) {
	h := newHarness(t, nil)
	id, err := h.coord.StartCall(context.Background(), "peer-a", true)
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	eng := h.factory.engine(0)

	if err := h.coord.SetMuted(id, true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	eng.mu.Lock()
	lastAudio := eng.audioOn[len(eng.audioOn)-1]
	eng.mu.Unlock()
	if lastAudio {
		t.Fatal("mute left audio enabled")
	}

	// Hold pauses both directions of sending; unmute alone must not resume
	// audio while held.
	if err := h.coord.SetHeld(id, true); err != nil {
		t.Fatalf("SetHeld: %v", err)
	}
	if err := h.coord.SetMuted(id, false); err != nil {
		t.Fatalf("SetMuted off: %v", err)
	}
	eng.mu.Lock()
	lastAudio = eng.audioOn[len(eng.audioOn)-1]
	lastVideo := eng.videoOn[len(eng.videoOn)-1]
	eng.mu.Unlock()
	if lastAudio {
		t.Fatal("unmute resumed audio while held")
	}
	if lastVideo {
		t.Fatal("hold left video enabled")
	}

	if err := h.coord.SetHeld(id, false); err != nil {
		t.Fatalf("SetHeld off: %v", err)
	}
	eng.mu.Lock()
	lastAudio = eng.audioOn[len(eng.audioOn)-1]
	lastVideo = eng.videoOn[len(eng.videoOn)-1]
	eng.mu.Unlock()
	if !lastAudio || !lastVideo {
		t.Fatalf("resume after hold: audio=%v video=%v", lastAudio, lastVideo)
	}

	snap, _ := h.coord.Snapshot()
	if snap.Muted || snap.Held {
		t.Fatalf("snapshot flags wrong: %+v", snap)
	}
}

func TestClose(t *testing.T) {
	t.Run("ends the active call", func(t *testing.T) {
		h := newHarness(t, nil)
		h.dial(t, "peer-a")
		h.coord.Close()

		ended := h.reporter.endedList()
		if len(ended) != 1 || ended[0].reason != ReasonEnded {
			t.Fatalf("expected ended report on close, got %+v", ended)
		}
		if _, err := h.coord.StartCall(context.Background(), "peer-b", false); err != ErrClosed {
			t.Fatalf("expected ErrClosed after Close, got %v", err)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		h := newHarness(t, nil)
		h.coord.Close()
		h.coord.Close()
	})
}
