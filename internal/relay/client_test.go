package relay

import (
	"context"
	"testing"
)

func testEnvelope(from, to string) Envelope {
	return Envelope{
		Type: TypeOffer,
		From: from,
		To:   to,
		Desc: &SessionDescription{Kind: "offer", SDP: "v=0 test"},
	}
}

// TestDispatchAndAck verifies the happy path: one delivery, one dispatch,
// mailbox drained by the ack, dedup record discarded.
func TestDispatchAndAck(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRelay()

	var got []Envelope
	c := NewClient(mem, "lobby", "me", 16,
		func(string) bool { return true },
		func(env Envelope) { got = append(got, env) },
	)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	if err := mem.Send(ctx, "lobby", testEnvelope("peer", "me")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("dispatched %d envelopes, want 1", len(got))
	}
	if got[0].From != "peer" || got[0].Desc == nil {
		t.Errorf("dispatched envelope = %+v", got[0])
	}
	if n := mem.Pending("lobby", "me"); n != 0 {
		t.Errorf("%d envelopes still pending after ack, want 0", n)
	}
	if len(c.seen) != 0 {
		t.Errorf("dedup set holds %d ids after successful ack, want 0", len(c.seen))
	}
}

// TestRedeliveryAfterFailedAck verifies that a failed ack keeps envelopes
// in the mailbox, that redelivery skips dispatch, and that a later
// successful ack drains the mailbox and the dedup set.
func TestRedeliveryAfterFailedAck(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRelay()
	mem.FailAcks = true

	dispatched := 0
	c := NewClient(mem, "lobby", "me", 16,
		func(string) bool { return true },
		func(Envelope) { dispatched++ },
	)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	if err := mem.Send(ctx, "lobby", testEnvelope("peer", "me")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if dispatched != 1 {
		t.Fatalf("dispatched = %d after first delivery, want 1", dispatched)
	}
	if n := mem.Pending("lobby", "me"); n != 1 {
		t.Fatalf("pending = %d after failed ack, want 1", n)
	}

	// Relay redelivers before any ack lands: no second dispatch.
	mem.Redeliver("lobby", "me")
	if dispatched != 1 {
		t.Errorf("dispatched = %d after redelivery, want 1", dispatched)
	}

	// Acks recover: the next redelivery is skipped, acked, and forgotten.
	mem.FailAcks = false
	mem.Redeliver("lobby", "me")
	if dispatched != 1 {
		t.Errorf("dispatched = %d after recovered ack, want 1", dispatched)
	}
	if n := mem.Pending("lobby", "me"); n != 0 {
		t.Errorf("pending = %d after recovered ack, want 0", n)
	}
	if len(c.seen) != 0 {
		t.Errorf("dedup set holds %d ids after recovered ack, want 0", len(c.seen))
	}
}

// TestUnknownSenderIgnored verifies envelopes from users outside the
// roster are dropped (but still acknowledged) instead of dispatched.
func TestUnknownSenderIgnored(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRelay()

	dispatched := 0
	c := NewClient(mem, "lobby", "me", 16,
		func(id string) bool { return id == "friend" },
		func(Envelope) { dispatched++ },
	)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	mem.Send(ctx, "lobby", testEnvelope("stranger", "me"))
	if dispatched != 0 {
		t.Errorf("dispatched = %d for unknown sender, want 0", dispatched)
	}
	if n := mem.Pending("lobby", "me"); n != 0 {
		t.Errorf("pending = %d, want 0 (ignored envelopes are still acked)", n)
	}

	mem.Send(ctx, "lobby", testEnvelope("friend", "me"))
	if dispatched != 1 {
		t.Errorf("dispatched = %d for known sender, want 1", dispatched)
	}
}

// TestSendRejectsUnknownRecipient verifies the outbound membership check
// fires before any mailbox write.
func TestSendRejectsUnknownRecipient(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRelay()

	c := NewClient(mem, "lobby", "me", 16,
		func(id string) bool { return id == "friend" },
		func(Envelope) {},
	)

	if err := c.Send(ctx, testEnvelope("me", "stranger")); err == nil {
		t.Error("Send to unknown recipient succeeded, want error")
	}
	if n := mem.Pending("lobby", "stranger"); n != 0 {
		t.Errorf("mailbox write happened despite rejection: %d pending", n)
	}

	if err := c.Send(ctx, testEnvelope("me", "friend")); err != nil {
		t.Errorf("Send to known recipient: %v", err)
	}
	if n := mem.Pending("lobby", "friend"); n != 1 {
		t.Errorf("pending = %d for known recipient, want 1", n)
	}
}

// TestDedupSetCap verifies the bounded dedup set evicts oldest ids once
// the cap is exceeded while acks keep failing.
func TestDedupSetCap(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRelay()
	mem.FailAcks = true

	c := NewClient(mem, "lobby", "me", 3,
		func(string) bool { return true },
		func(Envelope) {},
	)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	for i := 0; i < 10; i++ {
		mem.Send(ctx, "lobby", testEnvelope("peer", "me"))
	}
	if len(c.seen) > 3 {
		t.Errorf("dedup set holds %d ids, cap is 3", len(c.seen))
	}
}
