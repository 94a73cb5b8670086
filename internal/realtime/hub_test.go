package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventStatusChanged, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventStatusChanged, EventDisputeOpened},
	}}

	statusEvent := &Event{Type: EventStatusChanged}
	disputeEvent := &Event{Type: EventDisputeOpened}
	payoutEvent := &Event{Type: EventPayoutCompleted}

	if !h.shouldSend(client, statusEvent) {
		t.Error("Should receive status_changed events")
	}
	if !h.shouldSend(client, disputeEvent) {
		t.Error("Should receive dispute_opened events")
	}
	if h.shouldSend(client, payoutEvent) {
		t.Error("Should NOT receive payout_completed events")
	}
}

func TestShouldSend_PaymentFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		PaymentIDs: []string{"pay_1"},
	}}

	matching := &Event{
		Type: EventStatusChanged,
		Data: map[string]interface{}{"paymentId": "pay_1", "status": "funded"},
	}
	notMatching := &Event{
		Type: EventStatusChanged,
		Data: map[string]interface{}{"paymentId": "pay_2", "status": "funded"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on payment id")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated payments")
	}
}

func TestShouldSend_EmailFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Emails: []string{"payer@example.com"},
	}}

	asPayer := &Event{
		Type: EventStatusChanged,
		Data: map[string]interface{}{"payerEmail": "payer@example.com", "payeeEmail": "x@example.com"},
	}
	asPayee := &Event{
		Type: EventStatusChanged,
		Data: map[string]interface{}{"payerEmail": "x@example.com", "payeeEmail": "payer@example.com"},
	}
	unrelated := &Event{
		Type: EventStatusChanged,
		Data: map[string]interface{}{"payerEmail": "a@example.com", "payeeEmail": "b@example.com"},
	}

	if !h.shouldSend(client, asPayer) {
		t.Error("Should match on payer email")
	}
	if !h.shouldSend(client, asPayee) {
		t.Error("Should match on payee email")
	}
	if h.shouldSend(client, unrelated) {
		t.Error("Should NOT match unrelated parties")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventStatusChanged}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		PaymentIDs: []string{"pay_1"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: EventStatusChanged,
		Data: "string data not a map",
	}

	// Payment filter can't extract an id from non-map data, so the event is dropped
	if h.shouldSend(client, event) {
		t.Error("Non-map data should not match a payment filter")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventStatusChanged, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastStatus("pay_1", "payer@example.com", "payee@example.com", "custody_active")

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants dispute events
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventDisputeOpened}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a status event (should be filtered out)
	h.Broadcast(&Event{Type: EventStatusChanged, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive status event")
	default:
		// Good - filtered out
	}

	// Send a dispute event (should be received)
	h.Broadcast(&Event{Type: EventDisputeOpened, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive dispute event")
	}
}
