// Package mailbox layers the keyed-mailbox payload protocol over an open
// data channel: SET_VALUE messages update a key/value slot on the remote
// side, EVENT messages are transient notifications.
package mailbox

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nkondo/peerlink/internal/util"
)

const (
	msgTypeSetValue = "SET_VALUE"
	msgTypeEvent    = "EVENT"
)

// message is the JSON structure exchanged over the data channel.
type message struct {
	Type  string `json:"type"`
	Key   string `json:"key,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// Event is one received application event.
type Event struct {
	Name  string
	Value string
}

// Channel is the minimal data-channel surface the mailbox needs.
// *webrtc.Peer satisfies it.
type Channel interface {
	Send(data []byte) error
	OnMessage(fn func(data []byte))
}

// Mailbox holds the values received from the peer and forwards received
// events to a channel. One Mailbox serves one open data channel.
type Mailbox struct {
	ch     Channel
	events chan Event

	mu     sync.RWMutex
	values map[string]string
}

// New creates a Mailbox and registers itself as the channel's message
// consumer.
func New(ch Channel) *Mailbox {
	m := &Mailbox{
		ch:     ch,
		events: make(chan Event, 32),
		values: make(map[string]string),
	}
	ch.OnMessage(m.handle)
	return m
}

// Set sends a keyed value to the peer.
func (m *Mailbox) Set(key, value string) error {
	return m.send(message{Type: msgTypeSetValue, Key: key, Value: value})
}

// SendEvent sends a named event to the peer.
func (m *Mailbox) SendEvent(name, value string) error {
	return m.send(message{Type: msgTypeEvent, Name: name, Value: value})
}

// Value returns the last value the peer set for key.
func (m *Mailbox) Value(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Events returns the received-event channel.
func (m *Mailbox) Events() <-chan Event {
	return m.events
}

func (m *Mailbox) send(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding mailbox message: %w", err)
	}
	return m.ch.Send(data)
}

// handle dispatches one inbound channel message. Unknown types are logged
// and dropped.
func (m *Mailbox) handle(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		util.LogWarning("dropping undecodable mailbox message: %v", err)
		return
	}

	switch msg.Type {
	case msgTypeSetValue:
		m.mu.Lock()
		m.values[msg.Key] = msg.Value
		m.mu.Unlock()

	case msgTypeEvent:
		select {
		case m.events <- Event{Name: msg.Name, Value: msg.Value}:
		default:
			util.LogWarning("event channel full, dropping event %q", msg.Name)
		}

	default:
		util.LogWarning("dropping mailbox message with unknown type %q", msg.Type)
	}
}
