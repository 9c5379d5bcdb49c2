package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/lobbymesh/lobbymesh/internal/config"
)

// Compile-time interface check.
var _ Link = (*PeerLink)(nil)

// PeerLink is the pion-backed Link: one PeerConnection plus the channels
// enabled by configuration. Channel wiring is symmetric — the offerer
// creates channels via CreateChannels, the answerer receives the same
// channels through OnDataChannel, and both end up in the senders map.
type PeerLink struct {
	pc  *webrtc.PeerConnection
	cfg config.Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	senders map[Kind]*sender

	onOpen    func(Kind)
	onClose   func(Kind)
	onMessage func(Kind, []byte)
}

// NewPeerLink creates a PeerConnection configured with the session's ICE
// servers. Channels are not created until CreateChannels or a remote
// channel arrives.
func NewPeerLink(ctx context.Context, cfg config.Config) (*PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: cfg.ICEServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	lCtx, lCancel := context.WithCancel(ctx)
	l := &PeerLink{
		pc:      pc,
		cfg:     cfg,
		ctx:     lCtx,
		cancel:  lCancel,
		senders: make(map[Kind]*sender),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		switch Kind(dc.Label()) {
		case Reliable, Unreliable:
			l.wire(dc)
		default:
			// Unknown label — not one of ours, leave it unwired.
		}
	})

	return l, nil
}

// CreateChannels creates the reliable and/or unreliable DataChannels per
// configuration. The unreliable channel is unordered with zero
// retransmissions, so the SCTP layer never stalls real-time traffic.
func (l *PeerLink) CreateChannels() error {
	if l.cfg.Reliable {
		dc, err := l.pc.CreateDataChannel(string(Reliable), nil)
		if err != nil {
			return fmt.Errorf("create reliable channel: %w", err)
		}
		l.wire(dc)
	}
	if l.cfg.Unreliable {
		ordered := false
		var retransmits uint16
		dc, err := l.pc.CreateDataChannel(string(Unreliable), &webrtc.DataChannelInit{
			Ordered:        &ordered,
			MaxRetransmits: &retransmits,
		})
		if err != nil {
			return fmt.Errorf("create unreliable channel: %w", err)
		}
		l.wire(dc)
	}
	return nil
}

// wire hooks one DataChannel into the link: open/close/message callbacks
// plus a dedicated sender goroutine with backpressure.
func (l *PeerLink) wire(dc *webrtc.DataChannel) {
	kind := Kind(dc.Label())
	open := make(chan struct{})

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(open) })
		l.mu.Lock()
		fn := l.onOpen
		l.mu.Unlock()
		if fn != nil {
			fn(kind)
		}
	})

	dc.OnClose(func() {
		l.mu.Lock()
		fn := l.onClose
		l.mu.Unlock()
		if fn != nil {
			fn(kind)
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.mu.Lock()
		fn := l.onMessage
		l.mu.Unlock()
		if fn != nil {
			fn(kind, msg.Data)
		}
	})

	l.mu.Lock()
	l.senders[kind] = newSender(l.ctx, dc, open)
	l.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

func (l *PeerLink) CreateOffer() (webrtc.SessionDescription, error) {
	return l.pc.CreateOffer(nil)
}

func (l *PeerLink) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

func (l *PeerLink) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(sdp)
}

func (l *PeerLink) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sdp)
}

func (l *PeerLink) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(candidate)
}

func (l *PeerLink) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	l.pc.OnICECandidate(fn)
}

func (l *PeerLink) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	l.pc.OnConnectionStateChange(fn)
}

// ---------------------------------------------------------------------------
// Events & data
// ---------------------------------------------------------------------------

func (l *PeerLink) OnChannelOpen(fn func(Kind)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onOpen = fn
}

func (l *PeerLink) OnChannelClose(fn func(Kind)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onClose = fn
}

func (l *PeerLink) OnMessage(fn func(Kind, []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onMessage = fn
}

// Send hands data to the channel's sender goroutine. Returns false when
// the channel does not exist yet or its send buffer is full.
func (l *PeerLink) Send(kind Kind, data []byte) bool {
	l.mu.Lock()
	s := l.senders[kind]
	l.mu.Unlock()
	if s == nil {
		return false
	}
	return s.enqueue(data)
}

// Close shuts down the senders and the PeerConnection. Idempotent.
func (l *PeerLink) Close() error {
	l.cancel()
	return l.pc.Close()
}
