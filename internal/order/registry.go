package order

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the in-memory order store. Every mutation goes through the
// registry's lock; callers receive snapshots, never live pointers, so reads
// stay safe under concurrent pipeline writes.
type Registry struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

func NewRegistry() *Registry {
	return &Registry{orders: make(map[string]*Order)}
}

// Create registers a new pending order for the given items.
func (r *Registry) Create(items []GroceryItem) (*Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item")
	}

	o := &Order{
		ID:        uuid.NewString()[:8],
		Items:     append([]GroceryItem(nil), items...),
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.orders[o.ID] = o
	r.mu.Unlock()

	return snapshot(o), nil
}

// Get returns a snapshot of the order, or false if unknown.
func (r *Registry) Get(id string) (*Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, false
	}
	return snapshot(o), true
}

// SetStatus applies a status transition. Transitions must move forward:
// pending -> processing -> terminal. Anything else is rejected.
func (r *Registry) SetStatus(id string, status Status, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("unknown order %s", id)
	}
	if !validTransition(o.Status, status) {
		return fmt.Errorf("invalid order transition %s -> %s", o.Status, status)
	}

	o.Status = status
	if message != "" {
		o.Message = message
	}
	return nil
}

// AppendStageResults attaches pipeline stage results to the order record.
func (r *Registry) AppendStageResults(id string, results []StageResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("unknown order %s", id)
	}
	o.Stages = append(o.Stages, results...)
	return nil
}

// LatestPending returns the most recently created order among ids that is
// still pending, or false if none. Used to resolve bare confirmations that
// name no order explicitly.
func (r *Registry) LatestPending(ids []string) (*Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *Order
	for _, id := range ids {
		o, ok := r.orders[id]
		if !ok || o.Status != StatusPending {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, false
	}
	return snapshot(latest), true
}

func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

func snapshot(o *Order) *Order {
	cp := *o
	cp.Items = append([]GroceryItem(nil), o.Items...)
	cp.Stages = append([]StageResult(nil), o.Stages...)
	return &cp
}
