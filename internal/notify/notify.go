// Package notify delivers payment lifecycle events to subscriber
// webhooks.
//
// Parties register a URL keyed by their email and receive signed JSON
// payloads for the payments they are involved in. Delivery is fire and
// forget from the caller's perspective; durable retry lives in the
// outbox.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// EventType represents the type of notification event.
type EventType string

const (
	EventPaymentCreated  EventType = "payment.created"
	EventPaymentFunded   EventType = "payment.funded"
	EventCustodyStarted  EventType = "custody.started"
	EventCustodyReleased EventType = "custody.released"
	EventDisputeOpened   EventType = "dispute.opened"
	EventDisputeResolved EventType = "dispute.resolved"
	EventPayoutCompleted EventType = "payout.completed"
	EventPaymentFailed   EventType = "payment.failed"
	EventYieldPaid       EventType = "yield.paid"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

// Event is one notification payload.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription is one party's webhook registration.
type Subscription struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // Used for HMAC signing
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByEmail(ctx context.Context, email string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher sends notification events to subscribers.
type Dispatcher struct {
	store  Store
	client *http.Client
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// DispatchTo sends an event to one party's active subscriptions,
// synchronously. The outbox calls this and owns retry.
func (d *Dispatcher) DispatchTo(ctx context.Context, email string, event *Event) error {
	subs, err := d.store.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	var firstErr error
	for _, sub := range subs {
		if !sub.Active || !sub.wants(event.Type) {
			continue
		}
		if err := d.send(ctx, sub, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Subscription) wants(t EventType) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, et := range s.Events {
		if et == t {
			return true
		}
	}
	return false
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.updateError(ctx, sub, "failed to create request")
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pactum-Event", string(event.Type))
	req.Header.Set("X-Pactum-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	if sub.Secret != "" {
		req.Header.Set("X-Pactum-Signature", Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.updateError(ctx, sub, fmt.Sprintf("request failed: %v", err))
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.updateSuccess(ctx, sub)
		return nil
	}
	d.updateError(ctx, sub, fmt.Sprintf("status %d", resp.StatusCode))
	return fmt.Errorf("subscriber %s returned status %d", sub.ID, resp.StatusCode)
}

// Sign computes the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now().UTC()
	sub.LastSuccess = &now
	sub.LastError = ""
	_ = d.store.Update(ctx, sub)
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	_ = d.store.Update(ctx, sub)
}

// MemoryStore is an in-memory subscription store for dev and tests.
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return sub, nil
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.Email == email {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.wants(eventType) {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
