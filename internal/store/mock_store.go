package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/leottami/mindull-sub001/internal/domain"
)

// MockStore is a hand-written, in-memory implementation of Store used in
// unit tests. No mock-generation library needed.
type MockStore struct {
	mu    sync.RWMutex
	items map[string]*domain.Item

	// Optional error overrides, set in tests to simulate failure paths.
	AppendErr      error
	LoadPendingErr error
	UpdateErr      error
	RemoveErr      error

	// UpdateErrOnce fails the next Update only, then clears itself.
	// Simulates a one-off storage hiccup mid-drain.
	UpdateErrOnce error
}

func NewMockStore() *MockStore {
	return &MockStore{items: make(map[string]*domain.Item)}
}

func (m *MockStore) Append(_ context.Context, item *domain.Item) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[item.ID]; exists {
		return fmt.Errorf("item %s already exists", item.ID)
	}
	clone := *item
	m.items[item.ID] = &clone
	return nil
}

func (m *MockStore) LoadPending(_ context.Context) ([]*domain.Item, error) {
	if m.LoadPendingErr != nil {
		return nil, m.LoadPendingErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(i *domain.Item) bool { return i.Status == domain.StatusPending }), nil
}

func (m *MockStore) Update(_ context.Context, item *domain.Item) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErrOnce != nil {
		err := m.UpdateErrOnce
		m.UpdateErrOnce = nil
		return err
	}
	if _, exists := m.items[item.ID]; !exists {
		return domain.ErrNotFound
	}
	clone := *item
	m.items[item.ID] = &clone
	return nil
}

func (m *MockStore) Remove(_ context.Context, id string) error {
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[id]; !exists {
		return domain.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *MockStore) LoadAll(_ context.Context) ([]*domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(*domain.Item) bool { return true }), nil
}

func (m *MockStore) ResetInFlight(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reset := 0
	for _, item := range m.items {
		if item.Status == domain.StatusInFlight {
			item.Status = domain.StatusPending
			reset++
		}
	}
	return reset, nil
}

func (m *MockStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*domain.Item)
	return nil
}

// Get returns a clone of the stored item, for test assertions.
func (m *MockStore) Get(id string) (*domain.Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, false
	}
	clone := *item
	return &clone, true
}

func (m *MockStore) collect(match func(*domain.Item) bool) []*domain.Item {
	var result []*domain.Item
	for _, item := range m.items {
		if match(item) {
			clone := *item
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(a, b int) bool {
		if result[a].CreatedAt.Equal(result[b].CreatedAt) {
			return result[a].ID < result[b].ID
		}
		return result[a].CreatedAt.Before(result[b].CreatedAt)
	})
	return result
}

// compile-time check that MockStore implements Store
var _ Store = (*MockStore)(nil)
