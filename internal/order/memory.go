package order

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	notes  map[string][]Note
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		notes:  make(map[string][]Note),
	}
}

// Put inserts or replaces an order.
func (s *MemoryStore) Put(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := o
	s.orders[o.ID] = &copied
}

// Notes returns the notes recorded for an order.
func (s *MemoryStore) Notes(id string) []Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Note, len(s.notes[id]))
	copy(out, s.notes[id])
	return out
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return *o, nil
}

// GetByNumber implements Store.
func (s *MemoryStore) GetByNumber(ctx context.Context, number string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Number == number {
			return *o, nil
		}
	}
	return Order{}, ErrNotFound
}

// UpdateStatus implements Store.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	return nil
}

// AddNote implements Store.
func (s *MemoryStore) AddNote(ctx context.Context, id string, text string, customerFacing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return ErrNotFound
	}
	s.notes[id] = append(s.notes[id], Note{Text: text, CustomerFacing: customerFacing})
	return nil
}

// PaymentComplete implements Store.
func (s *MemoryStore) PaymentComplete(ctx context.Context, id string, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.TransactionID = transactionID
	if o.AllVirtual() {
		o.Status = StatusCompleted
	} else {
		o.Status = StatusProcessing
	}
	return nil
}

// SetPaymentMethod implements Store.
func (s *MemoryStore) SetPaymentMethod(ctx context.Context, id string, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentMethod = title
	return nil
}

// SetLastReference implements Store.
func (s *MemoryStore) SetLastReference(ctx context.Context, id string, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.LastReference = reference
	return nil
}

// AddRefund implements Store.
func (s *MemoryStore) AddRefund(ctx context.Context, id string, amount float64, reference string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return 0, ErrNotFound
	}
	o.RefundedTotal += amount
	return o.RefundedTotal, nil
}

// ListOnHold implements Store.
func (s *MemoryStore) ListOnHold(ctx context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if o.Status == StatusOnHold {
			out = append(out, *o)
		}
	}
	return out, nil
}
