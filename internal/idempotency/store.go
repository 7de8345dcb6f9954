package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Response is a cached checkout answer.
type Response struct {
	StatusCode  int
	Headers     map[string]string
	Body        []byte
	Fingerprint string // hash of the request body that produced it
	CachedAt    time.Time
}

// Store keeps responses keyed by scoped Idempotency-Key.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is a bounded LRU Store with periodic expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
	now     func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type entry struct {
	key      string
	response *Response
	expires  time.Time
}

// DefaultMaxEntries bounds NewMemoryStore.
const DefaultMaxEntries = 10000

// NewMemoryStore starts a store that sweeps expired entries every interval.
// A non-positive maxSize uses DefaultMaxEntries; a non-positive interval
// disables the sweeper and expiry happens on read only.
func NewMemoryStore(maxSize int, interval time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	s := &MemoryStore{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if interval > 0 {
		go s.sweep(interval)
	} else {
		close(s.done)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if now.After(e.expires) {
		s.remove(el)
		return nil, false
	}
	s.lru.MoveToFront(el)
	return e.response, true
}

func (s *MemoryStore) Set(_ context.Context, key string, response *Response, ttl time.Duration) error {
	expires := s.now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry)
		e.response, e.expires = response, expires
		s.lru.MoveToFront(el)
		return nil
	}
	for len(s.entries) >= s.maxSize {
		s.remove(s.lru.Back())
	}
	s.entries[key] = s.lru.PushFront(&entry{key: key, response: response, expires: expires})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.remove(el)
	}
	return nil
}

// Len reports the number of cached responses, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// remove requires s.mu.
func (s *MemoryStore) remove(el *list.Element) {
	if el == nil {
		return
	}
	s.lru.Remove(el)
	delete(s.entries, el.Value.(*entry).key)
}

// Purge drops expired entries and returns how many were removed.
func (s *MemoryStore) Purge() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expires) {
			s.remove(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Purge()
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
