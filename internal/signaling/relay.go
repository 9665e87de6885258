package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nkondo/peerlink/internal/util"
)

// relayClient speaks the relay wire contract: JSON bodies, a POST for
// writes and a single GET endpoint multiplexed on an "action" parameter.
type relayClient struct {
	baseURL string
	http    *http.Client
}

func newRelayClient(baseURL string) *relayClient {
	return &relayClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// writeRequest is the POST body for appending one record.
type writeRequest struct {
	SessionName string  `json:"sessionName"`
	SenderID    string  `json:"senderId"`
	Message     Message `json:"message"`
}

// write appends a record to the relay. The relay enforces the
// single-authoritative-answer invariant on its side: an answer write drops
// every pre-existing record for the session before appending.
func (r *relayClient) write(ctx context.Context, session, sender string, msg Message) error {
	body, err := json.Marshal(writeRequest{
		SessionName: session,
		SenderID:    sender,
		Message:     msg,
	})
	if err != nil {
		return &RelayError{Op: "write", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return &RelayError{Op: "write", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var status struct {
		Status string `json:"status"`
	}
	if err := r.do(req, &status); err != nil {
		return &RelayError{Op: "write", Err: err}
	}
	if status.Status != "success" {
		return &RelayError{Op: "write", Err: fmt.Errorf("relay reported status %q", status.Status)}
	}
	return nil
}

// read fetches and consumes all records for the session not authored by
// recipient, most-recent-first. Consumption is atomic on the relay side.
func (r *relayClient) read(ctx context.Context, session, recipient string) ([]Record, error) {
	req, err := r.getRequest(ctx, url.Values{
		"action":      {"read"},
		"sessionName": {session},
		"recipientId": {recipient},
	})
	if err != nil {
		return nil, &RelayError{Op: "read", Err: err}
	}

	var records []Record
	if err := r.do(req, &records); err != nil {
		return nil, &RelayError{Op: "read", Err: err}
	}
	return records, nil
}

// isOffering reports whether an undelivered offer from a different sender
// exists for the session.
func (r *relayClient) isOffering(ctx context.Context, session, recipient string) (bool, error) {
	req, err := r.getRequest(ctx, url.Values{
		"action":      {"isOffering"},
		"sessionName": {session},
		"recipientId": {recipient},
	})
	if err != nil {
		return false, &RelayError{Op: "isOffering", Err: err}
	}

	var result struct {
		IsOffering bool `json:"isOffering"`
	}
	if err := r.do(req, &result); err != nil {
		return false, &RelayError{Op: "isOffering", Err: err}
	}
	return result.IsOffering, nil
}

// deleteFrom removes every record for the session authored by sender.
func (r *relayClient) deleteFrom(ctx context.Context, session, sender string) error {
	req, err := r.getRequest(ctx, url.Values{
		"action":      {"delete"},
		"sessionName": {session},
		"fromId":      {sender},
	})
	if err != nil {
		return &RelayError{Op: "delete", Err: err}
	}

	if err := r.do(req, nil); err != nil {
		return &RelayError{Op: "delete", Err: err}
	}
	return nil
}

func (r *relayClient) getRequest(ctx context.Context, query url.Values) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+query.Encode(), nil)
}

// do executes the request and decodes the JSON response into out (skipped
// when out is nil). Non-2xx statuses are errors.
func (r *relayClient) do(req *http.Request, out interface{}) error {
	resp, err := r.http.Do(req)
	if err != nil {
		util.Stats.AddRelayError()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		util.Stats.AddRelayError()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		util.Stats.AddRelayError()
		return fmt.Errorf("decode relay response: %w", err)
	}
	return nil
}
