package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nkondo/peerlink/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	// monitorQueueSize bounds how far a monitor client may fall behind
	// before it is dropped.
	monitorQueueSize = 16
	monitorWriteWait = 5 * time.Second
)

// monitorEvent is one appended record as streamed to monitor clients.
type monitorEvent struct {
	SessionName string          `json:"sessionName"`
	From        string          `json:"from"`
	Message     json.RawMessage `json:"message"`
	Timestamp   int64           `json:"timestamp"`
}

// monitorHub fans appended records out to connected WebSocket observers.
// The stream is observability only; signaling always travels through the
// polled HTTP endpoints. Each connection writes from its own goroutine fed
// by a buffered queue, so a stalled observer never delays a relay write.
type monitorHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]chan monitorEvent
}

func newMonitorHub() *monitorHub {
	return &monitorHub{conns: make(map[*websocket.Conn]chan monitorEvent)}
}

func (h *monitorHub) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	send := make(chan monitorEvent, monitorQueueSize)
	h.mu.Lock()
	h.conns[conn] = send
	h.mu.Unlock()
	util.LogDebug("relay: monitor client connected from %s", r.RemoteAddr)

	// Writer: drains the queue until it is closed by drop or a write fails.
	go func() {
		for ev := range send {
			conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.drop(conn)
				return
			}
		}
	}()

	// Drain inbound frames so pings are handled; any read error means the
	// client went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// broadcast queues the event for every monitor without blocking. A client
// whose queue is full is too slow to follow the stream and is dropped.
func (h *monitorHub) broadcast(ev monitorEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, send := range h.conns {
		select {
		case send <- ev:
		default:
			util.LogDebug("relay: dropping slow monitor client")
			h.dropLocked(conn)
		}
	}
}

func (h *monitorHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(conn)
}

// dropLocked closes and forgets the connection. Caller holds h.mu; the
// queue close and the broadcast sends are serialized by that lock.
func (h *monitorHub) dropLocked(conn *websocket.Conn) {
	send, ok := h.conns[conn]
	if !ok {
		return
	}
	delete(h.conns, conn)
	close(send)
	conn.Close()
}
