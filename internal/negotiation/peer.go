package negotiation

// DescriptionType distinguishes the two session description kinds.
type DescriptionType string

const (
	DescriptionOffer  DescriptionType = "offer"
	DescriptionAnswer DescriptionType = "answer"
)

// Description is one side's proposed session parameters.
type Description struct {
	Type DescriptionType
	SDP  string
}

// ConnState mirrors the peer connection's connection state.
type ConnState int

const (
	ConnStateNew ConnState = iota
	ConnStateConnecting
	ConnStateConnected
	ConnStateDisconnected
	ConnStateFailed
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateNew:
		return "new"
	case ConnStateConnecting:
		return "connecting"
	case ConnStateConnected:
		return "connected"
	case ConnStateDisconnected:
		return "disconnected"
	case ConnStateFailed:
		return "failed"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerConnection is the opaque peer-connection capability the engine drives
// through the offer/answer/candidate exchange. The production implementation
// wraps pion; tests script a fake. Candidates travel as JSON-encoded
// ICECandidateInit strings so this package stays free of WebRTC types.
type PeerConnection interface {
	CreateOffer() (Description, error)
	CreateAnswer() (Description, error)
	SetLocalDescription(Description) error
	SetRemoteDescription(Description) error
	AddICECandidate(candidate string) error

	// OnICECandidate registers the callback invoked for each locally
	// gathered candidate.
	OnICECandidate(func(candidate string))

	// OnConnectionStateChange registers the callback invoked when the
	// connection state changes.
	OnConnectionStateChange(func(ConnState))

	// OnChannelStateChange registers the callback invoked when the data
	// channel opens or closes.
	OnChannelStateChange(func(open bool))

	Close() error
}

// PeerFactory creates a fresh PeerConnection for one negotiation attempt.
// The engine owns the returned connection until the attempt is abandoned or
// the engine disconnects.
type PeerFactory func() (PeerConnection, error)
