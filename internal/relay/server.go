package relay

import (
	"encoding/json"
	"net/http"

	"github.com/nkondo/peerlink/internal/signaling"
	"github.com/nkondo/peerlink/internal/util"
)

// writeRequest is the POST body appending one record.
type writeRequest struct {
	SessionName string          `json:"sessionName"`
	SenderID    string          `json:"senderId"`
	Message     json.RawMessage `json:"message"`
}

// Server exposes the relay wire contract over HTTP:
//
//	POST /                                      append a record
//	GET  /?action=read&sessionName=&recipientId=   read-and-remove
//	GET  /?action=isOffering&sessionName=&recipientId=
//	GET  /?action=delete&sessionName=&fromId=
//	GET  /monitor                                live record stream (WebSocket)
type Server struct {
	store    *Store
	monitors *monitorHub
}

// NewServer creates a relay server around the given store.
func NewServer(store *Store) *Server {
	return &Server{
		store:    store,
		monitors: newMonitorHub(),
	}
}

// Handler returns the HTTP handler for the relay endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSignal)
	mux.HandleFunc("/monitor", s.monitors.handleConnect)
	return mux
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleWrite(w, r)
	case http.MethodGet:
		s.handleAction(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.SessionName == "" || req.SenderID == "" || len(req.Message) == 0 {
		http.Error(w, "sessionName, senderId and message are required", http.StatusBadRequest)
		return
	}

	ts := s.store.Append(req.SessionName, req.SenderID, req.Message)
	s.monitors.broadcast(monitorEvent{
		SessionName: req.SessionName,
		From:        req.SenderID,
		Message:     req.Message,
		Timestamp:   ts,
	})

	util.LogDebug("relay: appended record session=%q from=%s", req.SessionName, req.SenderID)
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	session := q.Get("sessionName")
	if session == "" {
		http.Error(w, "sessionName is required", http.StatusBadRequest)
		return
	}

	switch q.Get("action") {
	case "read":
		recipient := q.Get("recipientId")
		if recipient == "" {
			http.Error(w, "recipientId is required", http.StatusBadRequest)
			return
		}
		records := s.store.Read(session, recipient)
		if records == nil {
			records = []signaling.Record{}
		}
		writeJSON(w, records)

	case "isOffering":
		recipient := q.Get("recipientId")
		if recipient == "" {
			http.Error(w, "recipientId is required", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]bool{"isOffering": s.store.IsOffering(session, recipient)})

	case "delete":
		from := q.Get("fromId")
		if from == "" {
			http.Error(w, "fromId is required", http.StatusBadRequest)
			return
		}
		s.store.DeleteFrom(session, from)
		writeJSON(w, map[string]string{"status": "success"})

	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.LogWarning("relay: writing response failed: %v", err)
	}
}
