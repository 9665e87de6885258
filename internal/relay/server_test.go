package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nkondo/peerlink/internal/signaling"
)

func newTestServer(t *testing.T) (*httptest.Server, *Store) {
	t.Helper()
	store := NewStore()
	srv := httptest.NewServer(NewServer(store).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func postRecord(t *testing.T, url, session, sender, payload string) *http.Response {
	t.Helper()
	body := fmt.Sprintf(`{"sessionName":%q,"senderId":%q,"message":%s}`, session, sender, payload)
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	return resp
}

func TestWriteThenRead(t *testing.T) {
	srv, store := newTestServer(t)

	resp := postRecord(t, srv.URL, "room1", "a", `{"type":"offer","sdp":"o1"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("write status = %d, want 200", resp.StatusCode)
	}
	var status map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil || status["status"] != "success" {
		t.Fatalf("write response = %v (%v), want status success", status, err)
	}

	readResp, err := http.Get(srv.URL + "/?action=read&sessionName=room1&recipientId=b")
	if err != nil {
		t.Fatalf("GET read failed: %v", err)
	}
	defer readResp.Body.Close()
	var records []signaling.Record
	if err := json.NewDecoder(readResp.Body).Decode(&records); err != nil {
		t.Fatalf("decoding read response: %v", err)
	}
	if len(records) != 1 || records[0].From != "a" {
		t.Fatalf("read records = %+v, want one from a", records)
	}
	if store.Count("room1") != 0 {
		t.Fatal("read did not consume the record")
	}
}

// TestReadEmptyIsJSONArray: an empty read must decode as [] rather than null,
// since clients range over the result without a nil check.
func TestReadEmptyIsJSONArray(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/?action=read&sessionName=room1&recipientId=b")
	if err != nil {
		t.Fatalf("GET read failed: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Fatalf("empty read body = %q, want []", got)
	}
}

func TestIsOfferingEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	check := func(recipient string, want bool) {
		t.Helper()
		resp, err := http.Get(srv.URL + "/?action=isOffering&sessionName=room1&recipientId=" + recipient)
		if err != nil {
			t.Fatalf("GET isOffering failed: %v", err)
		}
		defer resp.Body.Close()
		var out map[string]bool
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decoding isOffering response: %v", err)
		}
		if out["isOffering"] != want {
			t.Fatalf("isOffering(%s) = %v, want %v", recipient, out["isOffering"], want)
		}
	}

	check("b", false)
	postRecord(t, srv.URL, "room1", "a", `{"type":"offer","sdp":"o1"}`).Body.Close()
	check("b", true)
	check("a", false)
}

func TestDeleteEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	postRecord(t, srv.URL, "room1", "a", `{"type":"offer","sdp":"o1"}`).Body.Close()
	postRecord(t, srv.URL, "room1", "b", `{"type":"candidate","candidate":"c1"}`).Body.Close()

	resp, err := http.Get(srv.URL + "/?action=delete&sessionName=room1&fromId=a")
	if err != nil {
		t.Fatalf("GET delete failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}
	if store.Count("room1") != 1 {
		t.Fatalf("store holds %d records after delete, want 1", store.Count("room1"))
	}
}

func TestBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		do   func() (*http.Response, error)
	}{
		{"invalid JSON body", func() (*http.Response, error) {
			return http.Post(srv.URL, "application/json", strings.NewReader("{"))
		}},
		{"missing write fields", func() (*http.Response, error) {
			return http.Post(srv.URL, "application/json", strings.NewReader(`{"sessionName":"room1"}`))
		}},
		{"missing sessionName", func() (*http.Response, error) {
			return http.Get(srv.URL + "/?action=read&recipientId=b")
		}},
		{"missing recipientId", func() (*http.Response, error) {
			return http.Get(srv.URL + "/?action=read&sessionName=room1")
		}},
		{"missing fromId", func() (*http.Response, error) {
			return http.Get(srv.URL + "/?action=delete&sessionName=room1")
		}},
		{"unknown action", func() (*http.Response, error) {
			return http.Get(srv.URL + "/?action=peek&sessionName=room1")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := tc.do()
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

// TestClientAgainstRelay drives two signaling.Clients through a real relay:
// an offer from one side reaches the other exactly once, and the answer
// leaves the relay empty.
func TestClientAgainstRelay(t *testing.T) {
	srv, store := newTestServer(t)

	alice := signaling.NewClient(srv.URL, 20*time.Millisecond)
	bob := signaling.NewClient(srv.URL, 20*time.Millisecond)

	var mu sync.Mutex
	var bobGot []signaling.Message
	bob.OnMessage(func(msg signaling.Message) {
		mu.Lock()
		bobGot = append(bobGot, msg)
		mu.Unlock()
	})

	alice.Connect("room1")
	bob.Connect("room1")
	defer alice.Disconnect()
	defer bob.Disconnect()

	if alice.IsOffering(context.Background()) {
		t.Fatal("IsOffering true before any offer")
	}

	if err := alice.Send(signaling.Message{Type: signaling.MsgTypeOffer, SDP: "offer-sdp"}); err != nil {
		t.Fatalf("sending offer: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(bobGot)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("offer never reached the other client")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	if bobGot[0].Type != signaling.MsgTypeOffer || bobGot[0].SDP != "offer-sdp" {
		t.Fatalf("received %+v, want the offer", bobGot[0])
	}
	mu.Unlock()

	if err := bob.Send(signaling.Message{Type: signaling.MsgTypeAnswer, SDP: "answer-sdp"}); err != nil {
		t.Fatalf("sending answer: %v", err)
	}

	deadline = time.After(2 * time.Second)
	for store.Count("room1") != 0 {
		select {
		case <-deadline:
			t.Fatalf("relay still holds %d records", store.Count("room1"))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestBroadcastDropsSlowMonitor: a monitor whose queue is never drained
// cannot stall broadcast; it is dropped once its queue fills.
func TestBroadcastDropsSlowMonitor(t *testing.T) {
	upgradeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader.Upgrade(w, r, nil)
	}))
	defer upgradeSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(upgradeSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close()

	// Register the connection with a queue nobody drains, as if its writer
	// goroutine had stalled.
	h := newMonitorHub()
	h.mu.Lock()
	h.conns[conn] = make(chan monitorEvent, monitorQueueSize)
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for i := 0; i <= monitorQueueSize; i++ {
			h.broadcast(monitorEvent{SessionName: "room1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on an undrained monitor queue")
	}

	h.mu.Lock()
	remaining := len(h.conns)
	h.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("%d monitor clients still registered, want the slow one dropped", remaining)
	}
}

// TestMonitorStream: a write is broadcast to connected /monitor websockets.
func TestMonitorStream(t *testing.T) {
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/monitor"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing monitor: %v", err)
	}
	defer conn.Close()

	postRecord(t, srv.URL, "room1", "a", `{"type":"offer","sdp":"o1"}`).Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev monitorEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading monitor event: %v", err)
	}
	if ev.SessionName != "room1" || ev.From != "a" {
		t.Fatalf("monitor event = %+v, want room1/a", ev)
	}
}
