// Package negotiation drives the offer/answer/candidate exchange between two
// anonymous, symmetric peers over a polled message relay. Neither side is
// pre-assigned the offerer role: before offering, a peer asks the relay
// whether someone else is already offering and becomes the answerer if so.
// That check-then-act is not atomic against the relay, so two peers can
// still observe no offer simultaneously and both offer; the race is a known
// residual of the protocol and is not patched here. A real fix needs a
// server-side atomic role claim or randomized backoff.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nkondo/peerlink/internal/signaling"
	"github.com/nkondo/peerlink/internal/util"
)

// DefaultTimeout bounds one offering or answering attempt.
const DefaultTimeout = 60 * time.Second

// State is the engine's negotiation state.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateOffering
	StateAnswering
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	default:
		return "unknown"
	}
}

// EventKind identifies an observable engine event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventChannelOpen
	EventChannelClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventChannelOpen:
		return "channel-open"
	case EventChannelClosed:
		return "channel-closed"
	default:
		return "unknown"
	}
}

// Event is one engine notification. Events are emitted strictly after the
// state mutation that triggered them; consumers read them from a channel and
// never re-enter the state machine concurrently.
type Event struct {
	Kind EventKind
}

var errPeerFailed = errors.New("peer connection failed")
var errEngineDisconnected = errors.New("negotiation abandoned: engine disconnected")

// attempt bundles everything owned by one negotiation attempt: the candidate
// queue, the one-shot timeout timer and the result channel. Abandoning an
// attempt is a single ownership drop of this value.
type attempt struct {
	session    string
	phase      State // StateOffering or StateAnswering
	pc         PeerConnection
	candidates []string // remote candidates queued until the remote description is set
	remoteSet  bool
	timer      *time.Timer
	result     chan error // buffered; receives exactly one value
	finished   bool
}

// Engine owns the peer-connection capability and drives it through the
// offer/answer/candidate exchange, using the injected Signaler as its only
// communication path.
type Engine struct {
	signaler Signaler
	newPeer  PeerFactory
	timeout  time.Duration
	events   chan Event

	mu      sync.Mutex
	state   State
	pc      PeerConnection
	attempt *attempt
}

// NewEngine creates an engine in the disconnected state. A timeout of zero
// selects DefaultTimeout. The engine registers itself as the signaler's
// message consumer.
func NewEngine(signaler Signaler, newPeer PeerFactory, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	e := &Engine{
		signaler: signaler,
		newPeer:  newPeer,
		timeout:  timeout,
		events:   make(chan Event, 16),
		state:    StateDisconnected,
	}
	signaler.OnMessage(e.handleMessage)
	return e
}

// Events returns the engine's notification channel.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// State returns the current negotiation state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ConnectSignaling joins the named session without starting a negotiation.
func (e *Engine) ConnectSignaling(session string) {
	e.mu.Lock()
	if e.state == StateDisconnected {
		e.state = StateConnected
	}
	e.mu.Unlock()
	e.signaler.Connect(session)
}

// StartNegotiation performs one negotiation attempt for the session and
// blocks until the peer connection is established, the attempt times out,
// or ctx is cancelled. Calling it while an attempt is already running
// returns ErrNegotiationInProgress without starting a second one.
//
// Role selection: if the relay already holds someone else's offer for the
// session, this side answers; otherwise it offers.
func (e *Engine) StartNegotiation(ctx context.Context, session string) error {
	e.mu.Lock()
	if e.state == StateOffering || e.state == StateAnswering {
		e.mu.Unlock()
		return ErrNegotiationInProgress
	}
	if e.state == StateDisconnected {
		e.state = StateConnected
	}
	e.mu.Unlock()

	// (Re)join the session. Restarts polling if a previous attempt's
	// StopNegotiation halted it.
	e.signaler.Connect(session)

	// Collision avoidance: answer instead of racing an existing offer.
	offering := !e.signaler.IsOffering(ctx)

	e.mu.Lock()
	if e.state != StateConnected {
		// Someone else started an attempt while we were querying the relay.
		e.mu.Unlock()
		return ErrNegotiationInProgress
	}

	pc, err := e.newPeer()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("creating peer connection: %w", err)
	}

	att := &attempt{
		session: session,
		pc:      pc,
		result:  make(chan error, 1),
	}
	if offering {
		att.phase = StateOffering
	} else {
		att.phase = StateAnswering
	}
	// Renegotiation replaces an established connection; the old one must not
	// leak.
	prev := e.pc
	e.pc = pc
	e.attempt = att
	e.state = att.phase

	pc.OnICECandidate(func(cand string) {
		e.sendCandidate(att, cand)
	})
	pc.OnConnectionStateChange(func(st ConnState) {
		e.handleConnState(att, st)
	})
	pc.OnChannelStateChange(func(open bool) {
		if open {
			e.emit(EventChannelOpen)
		} else {
			e.emit(EventChannelClosed)
		}
	})

	att.timer = time.AfterFunc(e.timeout, func() {
		e.abandon(att, &TimeoutError{Phase: att.phase, Timeout: e.timeout})
	})
	e.mu.Unlock()

	if prev != nil {
		util.LogDebug("closing previous peer connection before renegotiating")
		if err := prev.Close(); err != nil {
			util.LogWarning("closing previous peer connection: %v", err)
		}
	}

	util.LogInfo("negotiating session %q as %s", session, att.phase)

	if offering {
		if err := e.sendOffer(pc); err != nil {
			e.abandon(att, err)
		}
	}

	select {
	case err := <-att.result:
		return err
	case <-ctx.Done():
		e.abandon(att, ctx.Err())
		return ctx.Err()
	}
}

// Disconnect tears everything down: the running attempt (if any), the peer
// connection and the signaling session. Safe to call in any state.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	if e.state == StateDisconnected {
		e.mu.Unlock()
		return
	}
	if att := e.attempt; att != nil && !att.finished {
		att.finished = true
		if att.timer != nil {
			att.timer.Stop()
		}
		att.result <- errEngineDisconnected
	}
	e.attempt = nil
	pc := e.pc
	e.pc = nil
	e.state = StateDisconnected
	e.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			util.LogWarning("closing peer connection: %v", err)
		}
	}
	e.signaler.Disconnect()
	e.emit(EventDisconnected)
}

// ---------------------------------------------------------------------------
// Outgoing
// ---------------------------------------------------------------------------

// sendOffer creates the local offer, applies it and publishes it.
func (e *Engine) sendOffer(pc PeerConnection) error {
	offer, err := pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	if err := e.signaler.Send(signaling.Message{Type: signaling.MsgTypeOffer, SDP: offer.SDP}); err != nil {
		return fmt.Errorf("sending offer: %w", err)
	}
	return nil
}

// sendCandidate forwards one locally gathered candidate through the relay
// while the attempt is still running. Trailing candidates gathered after the
// attempt resolves are dropped so they do not linger on the relay.
func (e *Engine) sendCandidate(att *attempt, cand string) {
	if cand == "" {
		return // end of gathering
	}
	e.mu.Lock()
	active := e.attempt == att && !att.finished
	e.mu.Unlock()
	if !active {
		return
	}
	if err := e.signaler.Send(signaling.Message{Type: signaling.MsgTypeCandidate, Candidate: cand}); err != nil {
		util.LogWarning("sending candidate: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Incoming (invoked from the transport's poll goroutine)
// ---------------------------------------------------------------------------

func (e *Engine) handleMessage(msg signaling.Message) {
	switch msg.Type {
	case signaling.MsgTypeOffer:
		e.handleRemoteOffer(msg)
	case signaling.MsgTypeAnswer:
		e.handleRemoteAnswer(msg)
	case signaling.MsgTypeCandidate:
		e.handleRemoteCandidate(msg)
	}
}

// handleRemoteOffer applies a remote offer while answering, then creates and
// publishes the local answer. Offers in any other phase are logged and
// dropped, never fatal.
func (e *Engine) handleRemoteOffer(msg signaling.Message) {
	e.mu.Lock()
	att := e.attempt
	if att == nil || att.phase != StateAnswering || att.finished {
		e.mu.Unlock()
		util.LogDebug("ignoring offer: no answering attempt active")
		return
	}
	if att.remoteSet {
		e.mu.Unlock()
		util.LogDebug("ignoring duplicate offer for session %q", att.session)
		return
	}
	pc := att.pc
	if err := pc.SetRemoteDescription(Description{Type: DescriptionOffer, SDP: msg.SDP}); err != nil {
		e.mu.Unlock()
		util.LogWarning("setting remote offer: %v", err)
		return
	}
	att.remoteSet = true
	e.flushCandidatesLocked(att)

	answer, err := pc.CreateAnswer()
	if err != nil {
		e.mu.Unlock()
		util.LogWarning("creating answer: %v", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		e.mu.Unlock()
		util.LogWarning("setting local answer: %v", err)
		return
	}
	e.mu.Unlock()

	if err := e.signaler.Send(signaling.Message{Type: signaling.MsgTypeAnswer, SDP: answer.SDP}); err != nil {
		util.LogWarning("sending answer: %v", err)
	}
}

// handleRemoteAnswer applies a remote answer while offering.
func (e *Engine) handleRemoteAnswer(msg signaling.Message) {
	e.mu.Lock()
	att := e.attempt
	if att == nil || att.phase != StateOffering || att.finished {
		e.mu.Unlock()
		util.LogDebug("ignoring answer: no offering attempt active")
		return
	}
	if att.remoteSet {
		e.mu.Unlock()
		util.LogDebug("ignoring duplicate answer for session %q", att.session)
		return
	}
	if err := att.pc.SetRemoteDescription(Description{Type: DescriptionAnswer, SDP: msg.SDP}); err != nil {
		e.mu.Unlock()
		util.LogWarning("setting remote answer: %v", err)
		return
	}
	att.remoteSet = true
	e.flushCandidatesLocked(att)
	e.mu.Unlock()
}

// handleRemoteCandidate applies a candidate immediately once the remote
// description is set; earlier arrivals are queued in arrival order.
func (e *Engine) handleRemoteCandidate(msg signaling.Message) {
	e.mu.Lock()
	att := e.attempt
	if att == nil || att.finished {
		e.mu.Unlock()
		util.LogDebug("dropping candidate: no negotiation in progress")
		return
	}
	if !att.remoteSet {
		att.candidates = append(att.candidates, msg.Candidate)
		e.mu.Unlock()
		return
	}
	pc := att.pc
	e.mu.Unlock()

	if err := pc.AddICECandidate(msg.Candidate); err != nil {
		util.LogWarning("adding candidate: %v", err)
	}
}

// flushCandidatesLocked applies the queued candidates in arrival order and
// clears the queue. Caller holds e.mu.
func (e *Engine) flushCandidatesLocked(att *attempt) {
	for _, cand := range att.candidates {
		if err := att.pc.AddICECandidate(cand); err != nil {
			util.LogWarning("adding queued candidate: %v", err)
		}
	}
	att.candidates = nil
}

// ---------------------------------------------------------------------------
// Attempt resolution
// ---------------------------------------------------------------------------

// handleConnState reacts to the peer connection's state for the attempt that
// registered the callback. Stale callbacks from closed connections fall
// through the identity checks.
func (e *Engine) handleConnState(att *attempt, st ConnState) {
	util.LogDebug("peer connection state: %s", st)

	switch st {
	case ConnStateConnected:
		e.complete(att)
	case ConnStateFailed:
		e.fail(att)
	}
}

// complete resolves a running attempt as successful: timers cleared,
// negotiation polling stopped, state back to connected.
func (e *Engine) complete(att *attempt) {
	e.mu.Lock()
	if e.attempt != att || att.finished {
		e.mu.Unlock()
		return
	}
	att.finished = true
	att.timer.Stop()
	e.attempt = nil
	e.state = StateConnected
	e.mu.Unlock()

	e.signaler.StopNegotiation()
	util.LogInfo("peer connection established for session %q", att.session)
	e.emit(EventConnected)
	att.result <- nil
}

// abandon resolves a running attempt as failed: the attempt's timer, queue
// and peer connection are dropped, this side's pending relay records are
// removed so a stale offer cannot mislead a later peer, and the engine
// reverts to connected.
func (e *Engine) abandon(att *attempt, cause error) {
	e.mu.Lock()
	if e.attempt != att || att.finished {
		e.mu.Unlock()
		return
	}
	att.finished = true
	if att.timer != nil {
		att.timer.Stop()
	}
	e.attempt = nil
	if e.pc == att.pc {
		e.pc = nil
	}
	e.state = StateConnected
	e.mu.Unlock()

	e.signaler.StopNegotiation()
	e.signaler.DeleteOwnMessages(context.Background())
	if err := att.pc.Close(); err != nil {
		util.LogWarning("closing peer connection: %v", err)
	}

	util.LogWarning("negotiation for session %q abandoned: %v", att.session, cause)
	att.result <- cause
}

// fail handles a peer-connection failure. During an attempt it aborts the
// attempt; after a successful negotiation it tears the engine down.
func (e *Engine) fail(att *attempt) {
	e.mu.Lock()
	if e.attempt == att && !att.finished {
		e.mu.Unlock()
		e.abandon(att, errPeerFailed)
		return
	}
	established := att.finished && e.pc != nil && e.pc == att.pc
	e.mu.Unlock()

	if established {
		util.LogWarning("established peer connection failed; disconnecting")
		e.Disconnect()
	}
}

// emit delivers an event without ever blocking the state machine. A full
// channel drops the event with a warning.
func (e *Engine) emit(kind EventKind) {
	select {
	case e.events <- Event{Kind: kind}:
	default:
		util.LogWarning("event channel full, dropping %s", kind)
	}
}
