package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/leottami/mindull-sub001/internal/domain"
)

// storageKey is the fixed key the item collection is serialized under.
// Keeping the items inside a keyed document leaves room for sibling
// collections in the same file without a layout change.
const storageKey = "outbox.items.v1"

// FileStore persists the whole collection as a single JSON document,
// rewritten atomically (temp file + rename) on every mutation. This is the
// on-device mode: queue sizes are small, so whole-collection writes are
// cheaper than they look and keep crash behavior trivial to reason about.
//
// Unknown fields in a previously written document are ignored on read.
type FileStore struct {
	mu    sync.Mutex
	path  string
	items map[string]*domain.Item
}

// NewFileStore loads the collection at path, creating an empty store if the
// file does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:  path,
		items: make(map[string]*domain.Item),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read outbox file: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode outbox file: %w", err)
	}
	raw, ok := doc[storageKey]
	if !ok {
		return fs, nil
	}
	var items []*domain.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode outbox items: %w", err)
	}
	for _, item := range items {
		fs.items[item.ID] = item
	}
	return fs, nil
}

func (fs *FileStore) Append(_ context.Context, item *domain.Item) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.items[item.ID]; exists {
		return fmt.Errorf("item %s already exists", item.ID)
	}
	clone := *item
	fs.items[item.ID] = &clone
	return fs.flush()
}

func (fs *FileStore) LoadPending(_ context.Context) ([]*domain.Item, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.collect(func(i *domain.Item) bool { return i.Status == domain.StatusPending }), nil
}

func (fs *FileStore) Update(_ context.Context, item *domain.Item) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.items[item.ID]; !exists {
		return domain.ErrNotFound
	}
	clone := *item
	fs.items[item.ID] = &clone
	return fs.flush()
}

func (fs *FileStore) Remove(_ context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.items[id]; !exists {
		return domain.ErrNotFound
	}
	delete(fs.items, id)
	return fs.flush()
}

func (fs *FileStore) LoadAll(_ context.Context) ([]*domain.Item, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.collect(func(*domain.Item) bool { return true }), nil
}

func (fs *FileStore) ResetInFlight(_ context.Context) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	reset := 0
	for _, item := range fs.items {
		if item.Status == domain.StatusInFlight {
			item.Status = domain.StatusPending
			reset++
		}
	}
	if reset == 0 {
		return 0, nil
	}
	return reset, fs.flush()
}

func (fs *FileStore) Clear(_ context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.items = make(map[string]*domain.Item)
	return fs.flush()
}

// collect returns clones of matching items, oldest-createdAt-first with the
// generation-ordered ID as tiebreaker. Callers must hold fs.mu.
func (fs *FileStore) collect(match func(*domain.Item) bool) []*domain.Item {
	var result []*domain.Item
	for _, item := range fs.items {
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

// flush serializes the collection and replaces the file atomically.
// Callers must hold fs.mu.
func (fs *FileStore) flush() error {
	items := fs.collect(func(*domain.Item) bool { return true })
	if items == nil {
		items = []*domain.Item{}
	}

	data, err := json.MarshalIndent(map[string]any{storageKey: items}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode outbox file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".outbox-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace outbox file: %w", err)
	}
	return nil
}

// compile-time check that FileStore implements Store
var _ Store = (*FileStore)(nil)
