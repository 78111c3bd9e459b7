package call

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petervdpas/klink/internal/media"
	"github.com/petervdpas/klink/internal/proto"
	"github.com/petervdpas/klink/internal/util"
)

// Options wires the coordinator's collaborators. Sender, Reporter and Engines
// are required; Screener and Recorder are optional.
type Options struct {
	SelfID          string
	SelfDisplayName func() string              // for outgoing offers; may be nil
	DisplayNameFor  func(peerID string) string // presence lookup; may be nil

	Sender   SignalSender
	Reporter Reporter
	Engines  media.Factory
	Screener Screener
	Recorder Recorder

	StunURLs []string

	// RingTimeout is how long an incoming call rings before it is declared
	// missed. Zero disables the timer.
	RingTimeout time.Duration
}

// Coordinator serializes all call mutation through a single goroutine.
// Synchronous operations (StartCall, AnswerCall, ...) enqueue an event and
// wait for the loop's reply; asynchronous inputs (signals, media callbacks,
// timers) just enqueue.
type Coordinator struct {
	opts Options

	inbox   chan event
	stopped chan struct{}

	closeOnce sync.Once

	// sess is owned by the run loop. Never touched elsewhere.
	sess *Session

	snapMu  sync.RWMutex
	snap    *Snapshot
	snapEng media.Engine // for live receive counters in Snapshot
}

// Inbox events. One closed set, dispatched by type switch in run.
type event any

type evStart struct {
	ctx    context.Context
	peerID string
	video  bool
	reply  chan startReply
}

type startReply struct {
	sessionID string
	err       error
}

type evAction struct {
	sessionID string
	kind      string // answer | end | mute | hold
	on        bool
	reply     chan error
}

type evSignal struct{ sig Signal }

type evMediaState struct {
	sessionID string
	state     media.ConnState
}

type evLocalCandidate struct {
	sessionID string
	c         media.Candidate
}

type evRingTimeout struct{ sessionID string }

type evStop struct{ reply chan struct{} }

func New(opts Options) *Coordinator {
	c := &Coordinator{
		opts:    opts,
		inbox:   make(chan event, 64),
		stopped: make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Coordinator) run() {
	defer close(c.stopped)
	for ev := range c.inbox {
		if st, ok := ev.(evStop); ok {
			c.teardown(ReasonEnded, true)
			close(st.reply)
			return
		}
		c.handle(ev)
	}
}

func (c *Coordinator) handle(ev event) {
	switch e := ev.(type) {
	case evStart:
		c.handleStart(e)
	case evAction:
		e.reply <- c.handleAction(e)
	case evSignal:
		c.handleSignal(e.sig)
	case evMediaState:
		c.handleMediaState(e)
	case evLocalCandidate:
		c.handleLocalCandidate(e)
	case evRingTimeout:
		c.handleRingTimeout(e)
	}
}

// deliver enqueues ev unless the coordinator has stopped. The buffered inbox
// makes the send racy against a concurrent stop, so synchronous callers must
// also watch c.stopped while waiting for their reply.
func (c *Coordinator) deliver(ev event) bool {
	select {
	case <-c.stopped:
		return false
	default:
	}
	select {
	case c.inbox <- ev:
		return true
	case <-c.stopped:
		return false
	}
}

// Close ends any active call and stops the loop. Blocks until the loop has
// drained its current event. Safe to call more than once.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		reply := make(chan struct{})
		select {
		case c.inbox <- evStop{reply: reply}:
			<-reply
		case <-c.stopped:
		}
	})
}

// ── Synchronous operations (native.Controller) ──────────────────────────────

// StartCall dials peerID. Returns once the offer is published (or the attempt
// failed); connection follows asynchronously via the native surface.
func (c *Coordinator) StartCall(ctx context.Context, peerID string, video bool) (string, error) {
	reply := make(chan startReply, 1)
	if !c.deliver(evStart{ctx: ctx, peerID: peerID, video: video, reply: reply}) {
		return "", ErrClosed
	}
	select {
	case r := <-reply:
		return r.sessionID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.stopped:
		return "", ErrClosed
	}
}

func (c *Coordinator) AnswerCall(sessionID string) error { return c.action(sessionID, "answer", false) }
func (c *Coordinator) EndCall(sessionID string) error    { return c.action(sessionID, "end", false) }

func (c *Coordinator) SetMuted(sessionID string, muted bool) error {
	return c.action(sessionID, "mute", muted)
}

func (c *Coordinator) SetHeld(sessionID string, held bool) error {
	return c.action(sessionID, "hold", held)
}

func (c *Coordinator) action(sessionID, kind string, on bool) error {
	reply := make(chan error, 1)
	if !c.deliver(evAction{sessionID: sessionID, kind: kind, on: on, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.stopped:
		return ErrClosed
	}
}

// DeliverSignal feeds one decoded signal into the loop. Called by the
// signaling translator and the push adapter.
func (c *Coordinator) DeliverSignal(sig Signal) {
	c.deliver(evSignal{sig: sig})
}

// Snapshot returns the active session, if any. Receive counters are read
// live from the media engine.
func (c *Coordinator) Snapshot() (Snapshot, bool) {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	if c.snap == nil {
		return Snapshot{}, false
	}
	out := *c.snap
	if c.snapEng != nil {
		out.Media = c.snapEng.Stats()
	}
	return out, true
}

func (c *Coordinator) publishSnapshot() {
	c.snapMu.Lock()
	if c.sess == nil {
		c.snap = nil
		c.snapEng = nil
	} else {
		snap := c.sess.snapshot()
		c.snap = &snap
		c.snapEng = c.sess.engine
	}
	c.snapMu.Unlock()
}

// ── Outgoing ────────────────────────────────────────────────────────────────

func (c *Coordinator) handleStart(ev evStart) {
	if c.sess != nil {
		ev.reply <- startReply{err: ErrCallInProgress}
		return
	}
	if ev.peerID == c.opts.SelfID {
		ev.reply <- startReply{err: fmt.Errorf("call: cannot dial self")}
		return
	}

	s := newSession(uuid.NewString(), ev.peerID, c.nameFor(ev.peerID), DirectionOutgoing, kindFor(ev.video), StateDialing)

	// Report to the native surface first: if presentation is refused there is
	// nothing to tear down yet.
	handle, err := c.opts.Reporter.ReportOutgoing(s.ID, s.PeerID, s.DisplayName, ev.video)
	if err != nil {
		ev.reply <- startReply{err: err}
		return
	}
	s.NativeHandle = handle

	offer, err := c.setupAndOffer(ev.ctx, s, ev.video)
	if err != nil {
		if s.engine != nil {
			s.engine.Teardown()
		}
		c.opts.Reporter.ReportEnded(s.ID, ReasonFailed)
		ev.reply <- startReply{err: err}
		return
	}

	if err := c.opts.Sender.SendOffer(ev.ctx, s.PeerID, s.ID, offer, s.Kind, c.selfName()); err != nil {
		s.engine.Teardown()
		c.opts.Reporter.ReportEnded(s.ID, ReasonFailed)
		ev.reply <- startReply{err: fmt.Errorf("call: publish offer: %w", err)}
		return
	}

	c.sess = s
	c.recordStart(s)
	c.publishSnapshot()
	log.Printf("CALL [%s]: dialing %s (%s)", s.ID, s.PeerID, s.Kind)
	ev.reply <- startReply{sessionID: s.ID}
}

func (c *Coordinator) setupAndOffer(ctx context.Context, s *Session, video bool) (media.Description, error) {
	eng, err := c.newEngine(s.ID, video)
	if err != nil {
		return media.Description{}, err
	}
	s.engine = eng
	if err := eng.Setup(ctx); err != nil {
		return media.Description{}, err
	}
	return eng.CreateOffer(ctx)
}

func (c *Coordinator) newEngine(sessionID string, video bool) (media.Engine, error) {
	return c.opts.Engines(media.Options{
		Video:    video,
		StunURLs: c.opts.StunURLs,
		Callbacks: media.Callbacks{
			OnLocalCandidate: func(cand media.Candidate) {
				c.deliver(evLocalCandidate{sessionID: sessionID, c: cand})
			},
			OnStateChange: func(st media.ConnState) {
				c.deliver(evMediaState{sessionID: sessionID, state: st})
			},
		},
	})
}

// ── Inbound signals ─────────────────────────────────────────────────────────

func (c *Coordinator) handleSignal(sig Signal) {
	switch sig.Kind {
	case proto.SigIncoming, proto.SigOffer:
		c.handleInvite(sig)
	case proto.SigAnswer:
		c.handleAnswer(sig)
	case proto.SigCandidate:
		c.handleCandidate(sig)
	case proto.SigAccepted:
		if c.sess != nil && c.sess.ID == sig.SessionID {
			log.Printf("CALL [%s]: peer accepted, awaiting answer", sig.SessionID)
		}
	case proto.SigEnded, proto.SigRejected, proto.SigMissed, proto.SigBlocked, proto.SigBusy:
		c.handleRemoteTerminal(sig)
	default:
		log.Printf("CALL: unknown signal kind %q from %s (dropped)", sig.Kind, sig.From)
	}
}

// handleInvite processes an incoming ring request (SDP-less) or offer.
func (c *Coordinator) handleInvite(sig Signal) {
	if c.sess != nil {
		if c.sess.ID == sig.SessionID {
			// The offer completing an earlier SDP-less ring request.
			if sig.Kind == proto.SigOffer && c.sess.Direction == DirectionIncoming && !c.sess.remoteSet {
				c.applyRemoteOffer(sig)
				return
			}
			log.Printf("CALL [%s]: duplicate %s dropped", sig.SessionID, sig.Kind)
			return
		}

		// Second caller while a call is in focus: busy reply, own session
		// untouched.
		log.Printf("CALL [%s]: busy — rejecting invite from %s (session %s)", c.sess.ID, sig.From, sig.SessionID)
		c.sendTerminal(sig.From, sig.SessionID, proto.SigBusy, ReasonBusy)
		c.recordAttempt(sig, ReasonBusy)
		return
	}

	displayName := sig.DisplayName
	if displayName == "" {
		displayName = c.nameFor(sig.From)
	}
	hasVideo := sig.CallKind == KindVideo

	verdict := VerdictAllow
	if c.opts.Screener != nil {
		verdict = c.opts.Screener.ScreenIncoming(sig.From, displayName, hasVideo)
	}
	switch verdict {
	case VerdictReject:
		log.Printf("CALL [%s]: screened — rejecting call from %s", sig.SessionID, sig.From)
		c.sendTerminal(sig.From, sig.SessionID, proto.SigRejected, ReasonRejected)
		c.recordAttempt(sig, ReasonRejected)
		return
	case VerdictBlock:
		log.Printf("CALL [%s]: screened — blocking call from %s", sig.SessionID, sig.From)
		c.sendTerminal(sig.From, sig.SessionID, proto.SigBlocked, ReasonBlocked)
		c.recordAttempt(sig, ReasonBlocked)
		return
	}

	s := newSession(sig.SessionID, sig.From, displayName, DirectionIncoming, sig.CallKind, StateRinging)

	handle, err := c.opts.Reporter.ReportIncoming(s.ID, s.PeerID, s.DisplayName, hasVideo)
	if err != nil {
		// Surface refused (do-not-disturb, no UI): decline to the caller,
		// nothing rings locally.
		log.Printf("CALL [%s]: incoming report refused: %v", s.ID, err)
		c.sendTerminal(sig.From, sig.SessionID, proto.SigRejected, ReasonRejected)
		c.recordAttempt(sig, ReasonRejected)
		return
	}
	s.NativeHandle = handle

	eng, err := c.newEngine(s.ID, hasVideo)
	if err == nil {
		s.engine = eng
		err = eng.Setup(context.Background())
	}
	if err != nil {
		log.Printf("CALL [%s]: media setup failed: %v", s.ID, err)
		if s.engine != nil {
			s.engine.Teardown()
		}
		c.opts.Reporter.ReportEnded(s.ID, ReasonFailed)
		c.sendTerminal(sig.From, sig.SessionID, proto.SigEnded, ReasonFailed)
		c.recordAttempt(sig, ReasonFailed)
		return
	}

	if c.opts.RingTimeout > 0 {
		id := s.ID
		s.ringTimer = time.AfterFunc(c.opts.RingTimeout, func() {
			c.deliver(evRingTimeout{sessionID: id})
		})
	}

	c.sess = s
	c.recordStart(s)

	if sig.Kind == proto.SigOffer {
		c.applyRemoteOffer(sig)
		if c.sess == nil {
			return // offer was malformed, session already torn down
		}
	}

	c.publishSnapshot()
	log.Printf("CALL [%s]: ringing — %s from %s (%s)", s.ID, sig.Kind, s.PeerID, s.Kind)
}

// applyRemoteOffer sets the remote description on the active incoming
// session and flushes any candidates that raced ahead of it.
func (c *Coordinator) applyRemoteOffer(sig Signal) {
	s := c.sess
	if err := s.engine.SetRemoteDescription(context.Background(), media.Description{Type: "offer", SDP: sig.SDP}); err != nil {
		log.Printf("CALL [%s]: apply remote offer: %v", s.ID, err)
		c.teardown(ReasonFailed, true)
		return
	}
	s.remoteSet = true
	c.flushPending(s)
	c.publishSnapshot()
}

func (c *Coordinator) handleAnswer(sig Signal) {
	s := c.sess
	if s == nil || s.ID != sig.SessionID {
		log.Printf("CALL: answer for unknown session %s (dropped)", sig.SessionID)
		return
	}
	if s.Direction != DirectionOutgoing || s.remoteSet {
		log.Printf("CALL [%s]: unexpected answer dropped", s.ID)
		return
	}

	if err := s.engine.SetRemoteDescription(context.Background(), media.Description{Type: "answer", SDP: sig.SDP}); err != nil {
		log.Printf("CALL [%s]: apply remote answer: %v", s.ID, err)
		c.teardown(ReasonFailed, true)
		return
	}
	s.remoteSet = true
	c.flushPending(s)
	log.Printf("CALL [%s]: answer applied, waiting for media", s.ID)
}

func (c *Coordinator) flushPending(s *Session) {
	n := s.pending.Len()
	errs := s.pending.Flush(func(cand media.Candidate) error {
		return s.engine.AddCandidate(cand)
	})
	for _, err := range errs {
		log.Printf("CALL [%s]: flush candidate: %v", s.ID, err)
	}
	if n > 0 {
		log.Printf("CALL [%s]: flushed %d buffered candidates", s.ID, n)
	}
}

func (c *Coordinator) handleCandidate(sig Signal) {
	s := c.sess
	if s == nil || s.ID != sig.SessionID || sig.Candidate == nil {
		log.Printf("CALL: late candidate for session %s discarded", sig.SessionID)
		return
	}
	if s.remoteSet {
		if err := s.engine.AddCandidate(*sig.Candidate); err != nil {
			log.Printf("CALL [%s]: add candidate: %v", s.ID, err)
		}
		return
	}
	s.pending.Push(*sig.Candidate)
}

// handleRemoteTerminal ends the session on the peer's say-so. If a local end
// was processed first the session is already gone and this is a no-op — both
// sides converge on ended either way.
func (c *Coordinator) handleRemoteTerminal(sig Signal) {
	s := c.sess
	if s == nil || s.ID != sig.SessionID {
		log.Printf("CALL: terminal %s for session %s ignored (no such session)", sig.Kind, sig.SessionID)
		return
	}
	reason := sig.Kind // wire kinds double as reasons: ended, rejected, missed, blocked, busy
	if sig.Reason != "" && sig.Kind == proto.SigEnded {
		reason = sig.Reason
	}
	log.Printf("CALL [%s]: peer sent %s", s.ID, sig.Kind)
	c.teardown(reason, false)
}

// ── Native actions ──────────────────────────────────────────────────────────

func (c *Coordinator) handleAction(ev evAction) error {
	s := c.sess
	if s == nil || s.ID != ev.sessionID {
		return ErrUnknownSession
	}

	switch ev.kind {
	case "answer":
		return c.answer(s)
	case "end":
		c.teardown(ReasonEnded, true)
		return nil
	case "mute":
		s.Muted = ev.on
		s.engine.SetAudioEnabled(!s.Muted && !s.Held)
		c.publishSnapshot()
		return nil
	case "hold":
		s.Held = ev.on
		s.engine.SetAudioEnabled(!s.Muted && !s.Held)
		s.engine.SetVideoEnabled(!s.Held && s.Kind == KindVideo)
		c.publishSnapshot()
		return nil
	default:
		return fmt.Errorf("call: unknown action %q", ev.kind)
	}
}

func (c *Coordinator) answer(s *Session) error {
	if s.Direction != DirectionIncoming || s.State != StateRinging {
		return fmt.Errorf("call: cannot answer in state %s", s.State)
	}
	if !s.remoteSet {
		return fmt.Errorf("call: offer not yet received")
	}

	// Bookkeeping ack so the caller's UI can show "ringing accepted" before
	// the answer SDP lands.
	c.sendTerminalKind(s.PeerID, s.ID, proto.SigAccepted)

	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultPublishTimeout)
	defer cancel()

	answer, err := s.engine.CreateAnswer(ctx)
	if err != nil {
		c.teardown(ReasonFailed, true)
		return fmt.Errorf("call: create answer: %w", err)
	}
	if err := c.opts.Sender.SendAnswer(ctx, s.PeerID, s.ID, answer); err != nil {
		c.teardown(ReasonFailed, true)
		return fmt.Errorf("call: publish answer: %w", err)
	}

	s.answered = true
	s.stopRingTimer()
	c.publishSnapshot()
	log.Printf("CALL [%s]: answered, waiting for media", s.ID)
	return nil
}

// ── Media callbacks and timers ──────────────────────────────────────────────

func (c *Coordinator) handleMediaState(ev evMediaState) {
	s := c.sess
	if s == nil || s.ID != ev.sessionID {
		return
	}

	switch ev.state {
	case media.StateConnected:
		switch s.State {
		case StateDialing, StateRinging:
			s.State = StateConnected
			if s.ConnectedAt.IsZero() {
				s.ConnectedAt = time.Now()
				s.stopRingTimer()
				c.opts.Reporter.ReportConnected(s.ID)
				c.recordConnected(s)
			}
			log.Printf("CALL [%s]: connected", s.ID)
		case StateReconnecting:
			s.State = StateConnected
			log.Printf("CALL [%s]: media recovered", s.ID)
		}
		c.publishSnapshot()

	case media.StateReconnecting:
		if s.State == StateConnected {
			s.State = StateReconnecting
			log.Printf("CALL [%s]: media interrupted, reconnecting", s.ID)
			c.publishSnapshot()
		}

	case media.StateFailed:
		log.Printf("CALL [%s]: media failed", s.ID)
		c.teardown(ReasonFailed, true)
	}
}

func (c *Coordinator) handleLocalCandidate(ev evLocalCandidate) {
	s := c.sess
	if s == nil || s.ID != ev.sessionID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
	defer cancel()
	if err := c.opts.Sender.SendCandidate(ctx, s.PeerID, s.ID, ev.c); err != nil {
		log.Printf("CALL [%s]: publish candidate: %v", s.ID, err)
	}
}

func (c *Coordinator) handleRingTimeout(ev evRingTimeout) {
	s := c.sess
	if s == nil || s.ID != ev.sessionID {
		return
	}
	if s.State != StateRinging || s.answered {
		return
	}
	log.Printf("CALL [%s]: ring timeout, declaring missed", s.ID)
	c.teardown(ReasonMissed, true)
}

// ── Teardown ────────────────────────────────────────────────────────────────

// teardown ends the active session exactly once: stop timers, notify the
// peer (best-effort), release media, clear the native surface, persist the
// disposition. Calling it with no active session is a no-op.
func (c *Coordinator) teardown(reason string, notifyPeer bool) {
	s := c.sess
	if s == nil {
		return
	}
	c.sess = nil

	s.stopRingTimer()
	s.pending.Discard()

	if notifyPeer {
		c.sendTerminal(s.PeerID, s.ID, terminalKind(reason), reason)
	}
	if s.engine != nil {
		s.engine.Teardown()
	}
	s.State = StateEnded

	c.opts.Reporter.ReportEnded(s.ID, reason)
	c.recordEnd(s.ID, reason)
	c.publishSnapshot()
	log.Printf("CALL [%s]: ended — reason=%s", s.ID, reason)
}

// terminalKind maps a local end reason onto the wire signal announcing it.
func terminalKind(reason string) string {
	switch reason {
	case ReasonRejected:
		return proto.SigRejected
	case ReasonMissed:
		return proto.SigMissed
	case ReasonBlocked:
		return proto.SigBlocked
	case ReasonBusy:
		return proto.SigBusy
	default:
		return proto.SigEnded // ended, failed
	}
}

// sendTerminal publishes a terminal signal best-effort: local state never
// waits on the network, failures are logged and dropped.
func (c *Coordinator) sendTerminal(dest, sessionID, kind, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
	defer cancel()
	if err := c.opts.Sender.SendTerminal(ctx, dest, sessionID, kind, reason); err != nil {
		log.Printf("CALL [%s]: publish %s: %v", sessionID, kind, err)
	}
}

func (c *Coordinator) sendTerminalKind(dest, sessionID, kind string) {
	c.sendTerminal(dest, sessionID, kind, "")
}

// ── Small helpers ───────────────────────────────────────────────────────────

func (c *Coordinator) nameFor(peerID string) string {
	if c.opts.DisplayNameFor != nil {
		if name := c.opts.DisplayNameFor(peerID); name != "" {
			return name
		}
	}
	return peerID
}

func (c *Coordinator) selfName() string {
	if c.opts.SelfDisplayName != nil {
		return c.opts.SelfDisplayName()
	}
	return ""
}

func kindFor(video bool) Kind {
	if video {
		return KindVideo
	}
	return KindAudio
}

func (c *Coordinator) recordStart(s *Session) {
	if c.opts.Recorder == nil {
		return
	}
	err := c.opts.Recorder.RecordStart(s.ID, s.PeerID, s.DisplayName, string(s.Direction), string(s.Kind), s.CreatedAt)
	if err != nil {
		log.Printf("CALL [%s]: record start: %v", s.ID, err)
	}
}

func (c *Coordinator) recordConnected(s *Session) {
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.RecordConnected(s.ID, s.ConnectedAt); err != nil {
		log.Printf("CALL [%s]: record connected: %v", s.ID, err)
	}
}

func (c *Coordinator) recordEnd(sessionID, disposition string) {
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.RecordEnd(sessionID, disposition, time.Now()); err != nil {
		log.Printf("CALL [%s]: record end: %v", sessionID, err)
	}
}

// recordAttempt persists a call attempt that never became a session
// (screened out, busy, setup failure).
func (c *Coordinator) recordAttempt(sig Signal, disposition string) {
	if c.opts.Recorder == nil {
		return
	}
	now := time.Now()
	name := sig.DisplayName
	if name == "" {
		name = c.nameFor(sig.From)
	}
	if err := c.opts.Recorder.RecordStart(sig.SessionID, sig.From, name, string(DirectionIncoming), string(sig.CallKind), now); err != nil {
		log.Printf("CALL [%s]: record attempt: %v", sig.SessionID, err)
		return
	}
	if err := c.opts.Recorder.RecordEnd(sig.SessionID, disposition, now); err != nil {
		log.Printf("CALL [%s]: record attempt end: %v", sig.SessionID, err)
	}
}
