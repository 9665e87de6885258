// Package webrtc implements the peer-connection capability on top of pion.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/nkondo/peerlink/internal/negotiation"
)

// Default STUN servers for ICE candidate gathering. No TURN: the tool is
// designed for direct P2P connectivity with zero infrastructure cost.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Peer wraps a single PeerConnection + DataChannel pair and adapts it to the
// negotiation engine's capability interface. The channel is pre-negotiated
// (ID 0) so both sides create it independently without OnDataChannel, and
// ordered so mailbox updates arrive in send order.
type Peer struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	openSignal chan struct{}
	openOnce   sync.Once

	mu             sync.Mutex
	onChannelState func(open bool)
}

// Compile-time capability check.
var _ negotiation.PeerConnection = (*Peer)(nil)

// NewPeer creates a Peer configured with the given STUN servers (or the
// Google defaults when none are given).
func NewPeer(stunServers []string) (*Peer, error) {
	if len(stunServers) == 0 {
		stunServers = defaultSTUNServers
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	ordered := true
	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel("mailbox", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("creating DataChannel: %w", err)
	}

	p := &Peer{
		pc:         pc,
		dc:         dc,
		openSignal: make(chan struct{}),
	}

	dc.OnOpen(func() {
		p.openOnce.Do(func() { close(p.openSignal) })
		p.notifyChannel(true)
	})
	dc.OnClose(func() {
		p.notifyChannel(false)
	})

	return p, nil
}

// Factory returns a negotiation.PeerFactory producing fresh Peers.
func Factory(stunServers []string) negotiation.PeerFactory {
	return func() (negotiation.PeerConnection, error) {
		return NewPeer(stunServers)
	}
}

// ---------------------------------------------------------------------------
// negotiation.PeerConnection
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (negotiation.Description, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return negotiation.Description{}, err
	}
	return negotiation.Description{Type: negotiation.DescriptionOffer, SDP: offer.SDP}, nil
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (negotiation.Description, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return negotiation.Description{}, err
	}
	return negotiation.Description{Type: negotiation.DescriptionAnswer, SDP: answer.SDP}, nil
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(desc negotiation.Description) error {
	sdp, err := toSessionDescription(desc)
	if err != nil {
		return err
	}
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(desc negotiation.Description) error {
	sdp, err := toSessionDescription(desc)
	if err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(sdp)
}

// AddICECandidate adds a remote candidate received through signaling. The
// candidate travels as a JSON-encoded ICECandidateInit.
func (p *Peer) AddICECandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return fmt.Errorf("parsing ICE candidate: %w", err)
	}
	return p.pc.AddICECandidate(init)
}

// OnICECandidate registers a callback invoked with each locally gathered
// candidate, JSON encoded. The empty string signals the end of gathering.
func (p *Peer) OnICECandidate(fn func(candidate string)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn("")
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		fn(string(data))
	})
}

// OnConnectionStateChange registers a callback for connection state changes.
func (p *Peer) OnConnectionStateChange(fn func(negotiation.ConnState)) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		fn(toConnState(state))
	})
}

// OnChannelStateChange registers a callback for data channel open/close.
func (p *Peer) OnChannelStateChange(fn func(open bool)) {
	p.mu.Lock()
	p.onChannelState = fn
	p.mu.Unlock()
}

// Close shuts down the DataChannel and PeerConnection.
func (p *Peer) Close() error {
	return errors.Join(p.dc.Close(), p.pc.Close())
}

// ---------------------------------------------------------------------------
// Data channel access (used by the mailbox layer)
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the data channel is open.
func (p *Peer) Ready() <-chan struct{} {
	return p.openSignal
}

// Send writes one message to the data channel.
func (p *Peer) Send(data []byte) error {
	return p.dc.Send(data)
}

// OnMessage registers a callback invoked for every inbound channel message.
func (p *Peer) OnMessage(fn func(data []byte)) {
	p.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (p *Peer) notifyChannel(open bool) {
	p.mu.Lock()
	fn := p.onChannelState
	p.mu.Unlock()
	if fn != nil {
		fn(open)
	}
}

func toSessionDescription(desc negotiation.Description) (webrtc.SessionDescription, error) {
	switch desc.Type {
	case negotiation.DescriptionOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}, nil
	case negotiation.DescriptionAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unknown description type %q", desc.Type)
	}
}

func toConnState(state webrtc.PeerConnectionState) negotiation.ConnState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return negotiation.ConnStateNew
	case webrtc.PeerConnectionStateConnecting:
		return negotiation.ConnStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return negotiation.ConnStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return negotiation.ConnStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return negotiation.ConnStateFailed
	default:
		return negotiation.ConnStateClosed
	}
}
