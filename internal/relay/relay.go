package relay

import "context"

// Relay abstracts the mailbox backend that stores and forwards signaling
// envelopes. The production implementation speaks WebSocket to the service
// backend; tests use the in-process MemoryRelay.
//
// Delivery is at-least-once: the relay may redeliver an envelope any time
// before a successful Ack. Batch order follows relay-delivery order and
// carries no cross-envelope ordering guarantee.
type Relay interface {
	// Send stores an envelope for the recipient's mailbox. The relay
	// assigns the envelope id.
	Send(ctx context.Context, lobbyID string, env Envelope) error

	// Subscribe delivers batches of pending envelopes addressed to userID
	// in lobbyID. The returned cancel function stops delivery; it is safe
	// to call more than once.
	Subscribe(ctx context.Context, lobbyID, userID string, onBatch func([]Envelope)) (cancel func(), err error)

	// Ack marks envelopes as consumed so the relay may discard them.
	Ack(ctx context.Context, lobbyID string, ids []string) error
}
