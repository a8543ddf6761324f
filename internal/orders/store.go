// Package orders is the order-record lookup boundary.
//
// The real data source is external to the agent; this package defines
// the interface the tool executor depends on and a fixture-backed
// implementation. Absence is an expected outcome: lookups return
// [ErrNotFound], never a fabricated record.
package orders

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no order matches the lookup key.
var ErrNotFound = errors.New("order not found")

// Item is one line item on an order.
type Item struct {
	Title string  `json:"title"`
	Price float64 `json:"price"`
}

// Order is a single customer order.
type Order struct {
	ID                string  `json:"order_id"`
	CustomerEmail     string  `json:"customer_email"`
	Status            string  `json:"status"` // Processing, In Transit, Delivered
	Items             []Item  `json:"items"`
	OrderDate         string  `json:"order_date"`
	DeliveryDate      string  `json:"delivery_date,omitempty"`
	EstimatedDelivery string  `json:"estimated_delivery,omitempty"`
	TrackingNumber    string  `json:"tracking_number,omitempty"`
	Total             float64 `json:"total"`
	ReturnEligible    bool    `json:"return_eligible"`
}

// Store looks up order records.
type Store interface {
	ByID(ctx context.Context, orderID string) (*Order, error)
	ByEmail(ctx context.Context, email string) ([]Order, error)
}

// FixtureStore is an in-memory Store seeded with sample orders.
type FixtureStore struct {
	mu     sync.RWMutex
	orders map[string]Order
}

// NewFixtureStore creates a store preloaded with the sample order set.
func NewFixtureStore() *FixtureStore {
	s := &FixtureStore{orders: make(map[string]Order)}
	for _, o := range fixtureOrders {
		s.orders[o.ID] = o
	}
	return s
}

// ByID returns the order with the given ID, or ErrNotFound.
func (s *FixtureStore) ByID(ctx context.Context, orderID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

// ByEmail returns all orders for a customer email, or ErrNotFound if
// there are none.
func (s *FixtureStore) ByEmail(ctx context.Context, email string) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Order
	for _, o := range s.orders {
		if o.CustomerEmail == email {
			matches = append(matches, o)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return matches, nil
}

// Put adds or replaces an order. Used by tests and seeders.
func (s *FixtureStore) Put(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}
