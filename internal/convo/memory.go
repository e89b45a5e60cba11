package convo

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/hydrosense/hydrochat/internal/observe"
	"github.com/hydrosense/hydrochat/internal/state"
)

// MemoryStore is the default conversation store: a map with TTL expiry and
// LRU capacity eviction. Conversation locks are held outside the store lock,
// so one slow turn never blocks unrelated conversations.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*memEntry
	order     *list.List // front = most recently used
	cap       int
	ttl       time.Duration
	evictions int64

	newState func() *state.ConversationState
	now      func() time.Time
}

type memEntry struct {
	id       string
	st       *state.ConversationState
	mu       sync.Mutex
	elem     *list.Element
	lastUsed time.Time

	// busy counts outstanding handles. Busy entries are never evicted.
	busy int
}

// NewMemory creates a MemoryStore retaining at most capacity conversations,
// each for at most ttl since last use. newState constructs fresh state for
// unknown ids.
func NewMemory(capacity int, ttl time.Duration, newState func() *state.ConversationState) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryStore{
		entries:  map[string]*memEntry{},
		order:    list.New(),
		cap:      capacity,
		ttl:      ttl,
		newState: newState,
		now:      time.Now,
	}
}

// Acquire implements [Store].
func (m *MemoryStore) Acquire(ctx context.Context, id string) (*Handle, error) {
	m.mu.Lock()
	now := m.now()
	m.evictExpiredLocked(now)

	e, ok := m.entries[id]
	if !ok {
		m.evictOverCapLocked()
		e = &memEntry{id: id, st: m.newState(), lastUsed: now}
		e.elem = m.order.PushFront(e)
		m.entries[id] = e
	} else {
		m.order.MoveToFront(e.elem)
	}
	e.busy++
	e.lastUsed = now
	m.mu.Unlock()

	// The conversation lock is taken outside the store lock; a turn in
	// progress on this conversation blocks only this caller.
	e.mu.Lock()

	return &Handle{
		ID:    id,
		State: e.st,
		release: func(context.Context) error {
			e.mu.Unlock()
			m.mu.Lock()
			e.busy--
			e.lastUsed = m.now()
			m.mu.Unlock()
			return nil
		},
	}, nil
}

// Stats implements [Store]. Expired entries are evicted before counting.
func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictExpiredLocked(m.now())
	return Stats{Active: len(m.entries), Evictions: m.evictions}, nil
}

// Close implements [Store]. The in-memory store holds no external resources.
func (m *MemoryStore) Close(ctx context.Context) error { return nil }

// evictExpiredLocked drops idle entries older than the TTL, oldest first.
func (m *MemoryStore) evictExpiredLocked(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	for elem := m.order.Back(); elem != nil; {
		e := elem.Value.(*memEntry)
		prev := elem.Prev()
		if now.Sub(e.lastUsed) <= m.ttl {
			break
		}
		if e.busy == 0 {
			m.removeLocked(e)
		}
		elem = prev
	}
}

// evictOverCapLocked makes room for one new entry by dropping the least
// recently used idle conversation. With every entry busy the cap is allowed
// to overflow rather than failing the turn.
func (m *MemoryStore) evictOverCapLocked() {
	if len(m.entries) < m.cap {
		return
	}
	for elem := m.order.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*memEntry)
		if e.busy == 0 {
			m.removeLocked(e)
			return
		}
	}
	observe.Warn(context.Background(), observe.CategoryError,
		"conversation cap exceeded with all entries busy", "cap", m.cap)
}

func (m *MemoryStore) removeLocked(e *memEntry) {
	m.order.Remove(e.elem)
	delete(m.entries, e.id)
	m.evictions++
}
