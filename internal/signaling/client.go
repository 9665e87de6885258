package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkondo/peerlink/internal/util"
)

// DefaultPollInterval is how often a connected client polls the relay.
const DefaultPollInterval = time.Second

// Client is the signaling transport: a thin, session-scoped client over the
// shared relay. Outgoing messages are tagged with a random self identifier
// and the session name; incoming messages are retrieved by a recurring poll
// and pushed to the registered callback. Polling is the only way messages
// arrive.
type Client struct {
	relay        *relayClient
	pollInterval time.Duration

	onMessage    func(Message)
	onDisconnect func()

	mu        sync.Mutex
	connected bool
	session   string
	senderID  string
	stopPoll  chan struct{}
}

// NewClient creates a transport for the relay at baseURL. A pollInterval of
// zero selects DefaultPollInterval.
func NewClient(baseURL string, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Client{
		relay:        newRelayClient(baseURL),
		pollInterval: pollInterval,
	}
}

// OnMessage registers the callback invoked for every decoded message
// retrieved from the relay. Register before Connect: the poll goroutine
// reads it without further synchronization.
func (c *Client) OnMessage(fn func(Message)) {
	c.onMessage = fn
}

// OnDisconnect registers the callback invoked after Disconnect completes.
func (c *Client) OnDisconnect(fn func()) {
	c.onDisconnect = fn
}

// SenderID returns the current random self identifier. Empty when
// disconnected. A new identifier is generated on every Connect and never
// reused across reconnects.
func (c *Client) SenderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senderID
}

// Connect marks the transport connected to the named session and starts the
// recurring poll timer. Connecting again to the same session is idempotent
// (it restarts polling if a negotiation-phase stop halted it). Connecting to
// a different session without disconnecting first is a logged no-op.
func (c *Client) Connect(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		if c.session != session {
			util.LogWarning("already connected to session %q; disconnect before joining %q", c.session, session)
			return
		}
		if c.stopPoll == nil {
			c.startPollingLocked()
		}
		return
	}

	c.connected = true
	c.session = session
	c.senderID = uuid.NewString()
	c.startPollingLocked()
	util.LogDebug("signaling connected: session=%q sender=%s", session, c.senderID)
}

// Disconnect stops polling, clears the session identity and fires the
// disconnect callback. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	if c.stopPoll != nil {
		close(c.stopPoll)
		c.stopPoll = nil
	}
	c.connected = false
	c.session = ""
	c.senderID = ""
	cb := c.onDisconnect
	c.mu.Unlock()

	util.LogDebug("signaling disconnected")
	if cb != nil {
		cb()
	}
}

// StopNegotiation stops the poll timer without disconnecting. The session
// identity is retained so the transport can still send or delete records
// for the session (e.g. to answer a duplicate offer later).
func (c *Client) StopNegotiation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopPoll != nil {
		close(c.stopPoll)
		c.stopPoll = nil
	}
}

// Send writes a message to the relay, tagged with the session name and the
// self identifier. Returns ErrNotConnected when disconnected. Relay failures
// are logged, not surfaced: signaling is retried implicitly by the
// negotiation timeout, not by this method.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	session, sender := c.session, c.senderID
	c.mu.Unlock()

	if err := c.relay.write(context.Background(), session, sender, msg); err != nil {
		util.LogWarning("%v", err)
		return nil
	}
	util.Stats.AddSent()
	return nil
}

// IsOffering reports whether someone else is already offering for the
// current session. Query failures are logged and reported as false:
// attempting to offer beats deadlocking.
func (c *Client) IsOffering(ctx context.Context) bool {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return false
	}
	session, sender := c.session, c.senderID
	c.mu.Unlock()

	offering, err := c.relay.isOffering(ctx, session, sender)
	if err != nil {
		util.LogWarning("%v", err)
		return false
	}
	return offering
}

// DeleteOwnMessages removes all of the client's own pending records for the
// session so a stale offer does not mislead a later peer. Best effort.
func (c *Client) DeleteOwnMessages(ctx context.Context) {
	c.mu.Lock()
	session, sender := c.session, c.senderID
	c.mu.Unlock()
	if session == "" || sender == "" {
		return
	}

	if err := c.relay.deleteFrom(ctx, session, sender); err != nil {
		util.LogWarning("%v", err)
	}
}

// startPollingLocked starts the poll goroutine. Caller holds c.mu.
func (c *Client) startPollingLocked() {
	stop := make(chan struct{})
	c.stopPoll = stop
	go c.pollLoop(stop)
}

// pollLoop fires a poll pass on a fixed interval until stopped. A pass that
// outlives a tick simply overlaps the next one; consumed records are removed
// atomically by the relay, so the late pass reads fewer rows, never
// duplicates.
func (c *Client) pollLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.pollOnce()
		case <-stop:
			return
		}
	}
}

// pollOnce fetches all records for the session not authored by self,
// most-recent-first, and dispatches each decoded payload to the message
// callback. An answer marks the rest of the pass: once one is seen, no
// further offers are delivered; an offer arriving the same instant an
// answer is accepted must not be acted on. Undecodable payloads are logged
// and skipped; a failed fetch abandons the pass and the next tick retries.
func (c *Client) pollOnce() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	session, sender := c.session, c.senderID
	c.mu.Unlock()

	records, err := c.relay.read(context.Background(), session, sender)
	if err != nil {
		util.LogWarning("%v", err)
		return
	}
	util.Stats.AddPoll()

	answerSeen := false
	for _, rec := range records {
		msg, err := DecodeMessage(rec.Message)
		if err != nil {
			util.LogWarning("skipping record from %s: %v", rec.From, err)
			continue
		}
		if answerSeen && msg.Type == MsgTypeOffer {
			util.LogDebug("suppressing offer from %s: answer already seen this pass", rec.From)
			continue
		}
		if msg.Type == MsgTypeAnswer {
			answerSeen = true
		}
		util.Stats.AddRecv()
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}
