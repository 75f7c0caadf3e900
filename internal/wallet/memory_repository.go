package wallet

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string][]PaymentMethod
}

// NewMemoryRepository constructs an in-memory payment method repository for tests
// and development.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string][]PaymentMethod)}
}

func (r *memoryRepository) Add(_ context.Context, method PaymentMethod) (PaymentMethod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	method.IsDefault = len(r.storage[method.OwnerID]) == 0
	r.storage[method.OwnerID] = append(r.storage[method.OwnerID], method)
	return method, nil
}

func (r *memoryRepository) List(_ context.Context, ownerID string) ([]PaymentMethod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]PaymentMethod, len(r.storage[ownerID]))
	copy(methods, r.storage[ownerID])
	sort.SliceStable(methods, func(i, j int) bool { return methods[i].CreatedAt.Before(methods[j].CreatedAt) })
	return methods, nil
}

func (r *memoryRepository) Get(_ context.Context, ownerID, id string) (PaymentMethod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.storage[ownerID] {
		if m.ID == id {
			return m, nil
		}
	}
	return PaymentMethod{}, ErrPaymentMethodNotFound
}

func (r *memoryRepository) Remove(_ context.Context, ownerID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	methods := r.storage[ownerID]
	for i, m := range methods {
		if m.ID != id {
			continue
		}
		methods = append(methods[:i:i], methods[i+1:]...)
		if m.IsDefault && len(methods) > 0 {
			oldest := 0
			for j := range methods {
				if methods[j].CreatedAt.Before(methods[oldest].CreatedAt) {
					oldest = j
				}
			}
			methods[oldest].IsDefault = true
			methods[oldest].UpdatedAt = time.Now().UTC()
		}
		r.storage[ownerID] = methods
		return nil
	}
	return ErrPaymentMethodNotFound
}

func (r *memoryRepository) SetDefault(_ context.Context, ownerID, id string) (PaymentMethod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	methods := r.storage[ownerID]
	target := -1
	for i := range methods {
		if methods[i].ID == id {
			target = i
		}
	}
	if target < 0 {
		return PaymentMethod{}, ErrPaymentMethodNotFound
	}
	now := time.Now().UTC()
	for i := range methods {
		if methods[i].IsDefault != (i == target) {
			methods[i].IsDefault = i == target
			methods[i].UpdatedAt = now
		}
	}
	return methods[target], nil
}
