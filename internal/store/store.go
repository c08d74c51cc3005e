// Package store provides a generic, thread-safe, in-memory keyed collection
// with insertion-ordered listing, cursor pagination and a simulated clock.
// Nothing here is persisted; state lives for the life of the process.
package store

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Store holds items of type T keyed by string ID.
type Store[T any] struct {
	mu      sync.RWMutex
	items   map[string]T
	order   []string
	prefix  string
	counter atomic.Uint64
}

// New creates a Store whose generated IDs carry prefix (e.g. "pred").
func New[T any](prefix string) *Store[T] {
	return &Store[T]{
		items:  make(map[string]T),
		prefix: prefix,
	}
}

// NextID returns a sequential ID such as "pred_000001".
func (s *Store[T]) NextID() string {
	return fmt.Sprintf("%s_%06d", s.prefix, s.counter.Add(1))
}

// Set inserts or replaces the item under id. Replacing keeps the original
// position in the listing order.
func (s *Store[T]) Set(id string, item T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		s.order = append(s.order, id)
	}
	s.items[id] = item
}

// Get returns the item under id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// Delete removes id and reports whether it existed.
func (s *Store[T]) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	return true
}

// DeleteFunc removes every item for which drop returns true and returns the
// removed IDs in listing order.
func (s *Store[T]) DeleteFunc(drop func(id string, item T) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	kept := s.order[:0]
	for _, id := range s.order {
		if drop(id, s.items[id]) {
			delete(s.items, id)
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// List returns every item in insertion order.
func (s *Store[T]) List() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// Count returns the number of items.
func (s *Store[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Page is one slice of a paginated listing.
type Page[T any] struct {
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more"`
	Cursor  string `json:"cursor,omitempty"`
	Total   int    `json:"total"`
}

// Paginate returns up to limit items following the item whose ID is cursor.
// An empty or unknown cursor starts at the beginning; limit <= 0 returns the
// rest of the listing.
func (s *Store[T]) Paginate(cursor string, limit int) Page[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if cursor != "" {
		if i := slices.Index(s.order, cursor); i >= 0 {
			start = i + 1
		}
	}
	end := len(s.order)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	page := Page[T]{
		Data:    make([]T, 0, end-start),
		HasMore: end < len(s.order),
		Total:   len(s.order),
	}
	for _, id := range s.order[start:end] {
		page.Data = append(page.Data, s.items[id])
		page.Cursor = id
	}
	return page
}

// Reset removes every item and restarts ID generation.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
	s.order = nil
	s.counter.Store(0)
}

// Snapshot copies all items into a map.
func (s *Store[T]) Snapshot() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]T, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

// LoadSnapshot replaces all items. Listing order becomes the sorted IDs.
func (s *Store[T]) LoadSnapshot(snapshot map[string]T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T, len(snapshot))
	s.order = make([]string, 0, len(snapshot))
	for k, v := range snapshot {
		s.items[k] = v
		s.order = append(s.order, k)
	}
	sort.Strings(s.order)
}

// Clock is a wall clock that can be moved forward for testing idle expiry.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
}

// NewClock returns a clock with no offset.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the simulated time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// Reset clears the offset.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
}

// Offset returns the current offset.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
