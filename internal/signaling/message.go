// Package signaling implements the session-scoped relay client used during
// the negotiation phase. Peers address each other by a shared session name;
// the relay itself is a dumb append/delete message store reached only by
// polling.
package signaling

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
)

// Message is the payload exchanged through the relay during signaling.
type Message struct {
	Type      MessageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// Record is one stored relay entry as returned by a read pass.
type Record struct {
	From      string          `json:"from"`
	Message   json.RawMessage `json:"message"`
	Timestamp int64           `json:"timestamp"`
}

// DecodeMessage parses a raw relay payload into a Message. Payloads with an
// unknown or missing type are rejected so a poll pass can skip them without
// consuming the record.
func DecodeMessage(raw json.RawMessage) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed signaling payload: %w", err)
	}

	switch msg.Type {
	case MsgTypeOffer, MsgTypeAnswer, MsgTypeCandidate:
		return msg, nil
	default:
		return Message{}, fmt.Errorf("malformed signaling payload: unknown type %q", msg.Type)
	}
}
