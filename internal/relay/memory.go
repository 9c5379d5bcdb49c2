package relay

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var errAckRejected = errors.New("relay rejected acknowledgment")

// Compile-time interface check.
var _ Relay = (*MemoryRelay)(nil)

// MemoryRelay is an in-process Relay for tests and single-process demos.
// Envelopes are stored per (lobby, recipient) mailbox and pushed to
// subscribers synchronously. Sessions sharing one MemoryRelay can establish
// PeerConnections without any network signaling.
type MemoryRelay struct {
	mu        sync.Mutex
	mailboxes map[string][]Envelope       // key: lobbyID + "|" + userID
	subs      map[string]func([]Envelope) // same key
	entropy   *rand.Rand

	// Redeliver keeps acknowledged-but-failed envelopes in the mailbox.
	// Tests flip FailAcks to exercise the redelivery path.
	FailAcks bool
}

// NewMemoryRelay creates an empty in-process relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		mailboxes: make(map[string][]Envelope),
		subs:      make(map[string]func([]Envelope)),
		entropy:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func mailboxKey(lobbyID, userID string) string { return lobbyID + "|" + userID }

func (m *MemoryRelay) Send(_ context.Context, lobbyID string, env Envelope) error {
	m.mu.Lock()
	env.ID = ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
	key := mailboxKey(lobbyID, env.To)
	m.mailboxes[key] = append(m.mailboxes[key], env)
	sub := m.subs[key]
	batch := append([]Envelope(nil), m.mailboxes[key]...)
	m.mu.Unlock()

	if sub != nil {
		sub(batch)
	}
	return nil
}

func (m *MemoryRelay) Subscribe(_ context.Context, lobbyID, userID string, onBatch func([]Envelope)) (func(), error) {
	key := mailboxKey(lobbyID, userID)

	m.mu.Lock()
	m.subs[key] = onBatch
	pending := append([]Envelope(nil), m.mailboxes[key]...)
	m.mu.Unlock()

	if len(pending) > 0 {
		onBatch(pending)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, key)
			m.mu.Unlock()
		})
	}
	return cancel, nil
}

func (m *MemoryRelay) Ack(_ context.Context, lobbyID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAcks {
		return errAckRejected
	}

	acked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		acked[id] = struct{}{}
	}
	for key, box := range m.mailboxes {
		kept := box[:0]
		for _, env := range box {
			if _, ok := acked[env.ID]; !ok {
				kept = append(kept, env)
			}
		}
		m.mailboxes[key] = kept
	}
	return nil
}

// Redeliver pushes every unacknowledged envelope for a user again, as a
// relay is permitted to do at any time before a successful ack.
func (m *MemoryRelay) Redeliver(lobbyID, userID string) {
	key := mailboxKey(lobbyID, userID)

	m.mu.Lock()
	sub := m.subs[key]
	batch := append([]Envelope(nil), m.mailboxes[key]...)
	m.mu.Unlock()

	if sub != nil && len(batch) > 0 {
		sub(batch)
	}
}

// Pending returns the number of unacknowledged envelopes for a user.
func (m *MemoryRelay) Pending(lobbyID, userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mailboxes[mailboxKey(lobbyID, userID)])
}
