package transport

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface check.
var _ Link = (*MockLink)(nil)

// MockLink is a scripted Link for testing the negotiation state machine
// without any network. Descriptions are fabricated, candidates recorded,
// and channel events fired by the test through the Fire* helpers.
type MockLink struct {
	mu sync.Mutex

	ChannelsCreated bool
	LocalDesc       *webrtc.SessionDescription
	RemoteDesc      *webrtc.SessionDescription
	Candidates      []webrtc.ICECandidateInit
	Sent            []MockMessage
	Closed          bool

	// CandidateErr lets tests inject a candidate-application failure.
	CandidateErr error

	onICE     func(*webrtc.ICECandidate)
	onOpen    func(Kind)
	onClose   func(Kind)
	onMessage func(Kind, []byte)
	onState   func(webrtc.PeerConnectionState)
}

// MockMessage records one Send call.
type MockMessage struct {
	Kind Kind
	Data []byte
}

// NewMockLink creates an empty mock.
func NewMockLink() *MockLink {
	return &MockLink{}
}

func (m *MockLink) CreateChannels() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChannelsCreated = true
	return nil
}

func (m *MockLink) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 mock offer"}, nil
}

func (m *MockLink) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 mock answer"}, nil
}

func (m *MockLink) SetLocalDescription(sdp webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LocalDesc = &sdp
	return nil
}

func (m *MockLink) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoteDesc = &sdp
	return nil
}

func (m *MockLink) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CandidateErr != nil {
		return m.CandidateErr
	}
	m.Candidates = append(m.Candidates, candidate)
	return nil
}

func (m *MockLink) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onICE = fn
}

func (m *MockLink) OnChannelOpen(fn func(Kind)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOpen = fn
}

func (m *MockLink) OnChannelClose(fn func(Kind)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

func (m *MockLink) OnMessage(fn func(Kind, []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
}

func (m *MockLink) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

func (m *MockLink) Send(kind Kind, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return false
	}
	m.Sent = append(m.Sent, MockMessage{Kind: kind, Data: append([]byte(nil), data...)})
	return true
}

func (m *MockLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// --- Test helpers ---

// FireOpen simulates a channel reaching the open state.
func (m *MockLink) FireOpen(kind Kind) {
	m.mu.Lock()
	fn := m.onOpen
	m.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}

// FireClose simulates a channel shutting down.
func (m *MockLink) FireClose(kind Kind) {
	m.mu.Lock()
	fn := m.onClose
	m.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}

// FireMessage simulates an inbound DataChannel message.
func (m *MockLink) FireMessage(kind Kind, data []byte) {
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	if fn != nil {
		fn(kind, data)
	}
}

// CreatedChannels reports whether CreateChannels was called.
func (m *MockLink) CreatedChannels() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ChannelsCreated
}

// Local returns the last local description set, or nil.
func (m *MockLink) Local() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LocalDesc
}

// Remote returns the last remote description set, or nil.
func (m *MockLink) Remote() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RemoteDesc
}

// CandidateList returns a copy of the candidates added so far.
func (m *MockLink) CandidateList() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), m.Candidates...)
}

// WasClosed reports whether Close was called.
func (m *MockLink) WasClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

// SentOn returns the payloads sent on one channel kind.
func (m *MockLink) SentOn(kind Kind) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, msg := range m.Sent {
		if msg.Kind == kind {
			out = append(out, msg.Data)
		}
	}
	return out
}
