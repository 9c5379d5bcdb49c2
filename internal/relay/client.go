package relay

import (
	"context"
	"fmt"

	"github.com/lobbymesh/lobbymesh/internal/util"
)

// Client wraps a Relay with the dedup/ack protocol. Batches arrive on the
// relay's delivery goroutine; envelopes not seen before are handed to the
// dispatch callback, then the whole batch (duplicates included) is
// acknowledged. Ids leave the dedup set only once an Ack succeeds, so a
// redelivered envelope is skipped for dispatch but re-acknowledged.
type Client struct {
	relay   Relay
	lobbyID string
	userID  string

	// known reports whether a user id belongs to the current roster.
	// Outbound sends to unknown recipients fail; inbound envelopes from
	// unknown senders are dropped with a warning (stale relay delivery
	// after the peer already left).
	known func(userID string) bool

	dispatch func(Envelope)

	seen      map[string]struct{}
	seenOrder []string
	limit     int

	cancel func()
}

// NewClient assembles a Client. dispatch runs on the relay's delivery
// goroutine and must not block.
func NewClient(r Relay, lobbyID, userID string, limit int, known func(string) bool, dispatch func(Envelope)) *Client {
	return &Client{
		relay:    r,
		lobbyID:  lobbyID,
		userID:   userID,
		known:    known,
		dispatch: dispatch,
		seen:     make(map[string]struct{}),
		limit:    limit,
	}
}

// Start subscribes to the relay mailbox for the local user.
func (c *Client) Start(ctx context.Context) error {
	cancel, err := c.relay.Subscribe(ctx, c.lobbyID, c.userID, func(batch []Envelope) {
		c.handleBatch(ctx, batch)
	})
	if err != nil {
		return fmt.Errorf("subscribe signaling envelopes: %w", err)
	}
	c.cancel = cancel
	return nil
}

// Send forwards an envelope to the relay. It fails without a mailbox write
// when the recipient is not a recognized peer.
func (c *Client) Send(ctx context.Context, env Envelope) error {
	if env.To != "" && c.known != nil && !c.known(env.To) {
		return fmt.Errorf("recipient %q is not a member of lobby %q", env.To, c.lobbyID)
	}
	env.From = c.userID
	if err := c.relay.Send(ctx, c.lobbyID, env); err != nil {
		return fmt.Errorf("send %s envelope to %q: %w", env.Type, env.To, err)
	}
	util.Stats.AddEnvelope()
	return nil
}

// Close cancels the mailbox subscription.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// handleBatch dispatches unseen envelopes and acknowledges the full batch.
func (c *Client) handleBatch(ctx context.Context, batch []Envelope) {
	if len(batch) == 0 {
		return
	}

	ids := make([]string, 0, len(batch))
	for _, env := range batch {
		ids = append(ids, env.ID)

		if _, dup := c.seen[env.ID]; dup {
			util.LogDebug("skipping redelivered envelope %s (%s from %s)", env.ID, env.Type, env.From)
			continue
		}
		if c.known != nil && !c.known(env.From) {
			util.LogWarning("ignoring %s envelope from unknown peer %q", env.Type, env.From)
			continue
		}

		c.remember(env.ID)
		util.Stats.AddEnvelope()
		c.dispatch(env)
	}

	if err := c.relay.Ack(ctx, c.lobbyID, ids); err != nil {
		// Ids stay in the dedup set: the relay will redeliver, the
		// redelivery is skipped for dispatch, and the ack is retried.
		util.LogWarning("acknowledge %d envelopes: %v", len(ids), err)
		return
	}
	for _, id := range ids {
		c.forget(id)
	}
}

// remember records a dispatched id, evicting the oldest live entries past
// the configured cap so a relay that never accepts acks cannot grow the
// set without bound.
func (c *Client) remember(id string) {
	c.seen[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
	for c.limit > 0 && len(c.seen) > c.limit && len(c.seenOrder) > 0 {
		old := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		if _, live := c.seen[old]; !live {
			continue // already forgotten via ack
		}
		delete(c.seen, old)
		util.LogWarning("dedup set over %d entries, evicted oldest id %s", c.limit, old)
	}
}

// forget drops an acknowledged id. The order slice is compacted lazily once
// dead entries dominate it.
func (c *Client) forget(id string) {
	delete(c.seen, id)
	if len(c.seenOrder) > 64 && len(c.seenOrder) > 2*len(c.seen) {
		live := c.seenOrder[:0]
		for _, v := range c.seenOrder {
			if _, ok := c.seen[v]; ok {
				live = append(live, v)
			}
		}
		c.seenOrder = live
	}
}
