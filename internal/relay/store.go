// Package relay implements the message relay: a dumb append/delete record
// store keyed by session name, plus the HTTP surface peers poll. The store
// enforces the two server-side invariants the signaling protocol depends
// on: an answer write atomically drops every pre-existing record for its
// session, and a read pass consumes the records it returns in the same
// locked operation (exactly-once delivery to the reader).
package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nkondo/peerlink/internal/signaling"
)

// entry is one stored record. seq breaks timestamp ties so most-recent-first
// ordering is total.
type entry struct {
	session   string
	from      string
	payload   json.RawMessage
	timestamp int64
	seq       int64
}

// Store holds relay records in memory. A single mutex makes every operation
// atomic; there is no partial-read state to corrupt.
type Store struct {
	mu      sync.Mutex
	entries []entry
	seq     int64
}

// NewStore creates an empty record store.
func NewStore() *Store {
	return &Store{}
}

// Append stores one record. When the payload is an answer, every existing
// record for the session is dropped first; this is what makes an answer
// authoritative even under concurrent delivery. Returns the stored record's
// timestamp (unix milliseconds).
func (s *Store) Append(session, from string, payload json.RawMessage) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, err := signaling.DecodeMessage(payload); err == nil && msg.Type == signaling.MsgTypeAnswer {
		s.dropSessionLocked(session)
	}

	s.seq++
	ts := time.Now().UnixMilli()
	s.entries = append(s.entries, entry{
		session:   session,
		from:      from,
		payload:   payload,
		timestamp: ts,
		seq:       s.seq,
	})
	return ts
}

// Read returns records for the session not authored by recipient, most
// recent first, removing each returned record in the same locked pass.
// Once an answer has been emitted, remaining (older) offers are neither
// returned nor removed. Records whose payload does not decode to a known
// message type are skipped and left in place.
func (s *Store) Read(session, recipient string) []signaling.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []signaling.Record{}
	kept := s.entries[:0]
	answerSeen := false

	// Walk newest-first to decide, then rebuild the kept slice in original
	// order below.
	consume := make(map[int64]bool)
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.session != session || e.from == recipient {
			continue
		}
		msg, err := signaling.DecodeMessage(e.payload)
		if err != nil {
			continue
		}
		if answerSeen && msg.Type == signaling.MsgTypeOffer {
			continue
		}
		if msg.Type == signaling.MsgTypeAnswer {
			answerSeen = true
		}
		out = append(out, signaling.Record{
			From:      e.from,
			Message:   e.payload,
			Timestamp: e.timestamp,
		})
		consume[e.seq] = true
	}

	for _, e := range s.entries {
		if !consume[e.seq] {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return out
}

// IsOffering reports whether an undelivered offer from a sender other than
// recipient exists for the session.
func (s *Store) IsOffering(session, recipient string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.session != session || e.from == recipient {
			continue
		}
		if msg, err := signaling.DecodeMessage(e.payload); err == nil && msg.Type == signaling.MsgTypeOffer {
			return true
		}
	}
	return false
}

// DeleteFrom removes every record for the session authored by sender.
func (s *Store) DeleteFrom(session, sender string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.session == session && e.from == sender {
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
}

// Count returns the number of stored records for the session.
func (s *Store) Count(session string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.session == session {
			n++
		}
	}
	return n
}

// dropSessionLocked removes every record for the session. Caller holds s.mu.
func (s *Store) dropSessionLocked(session string) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.session == session {
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
}
