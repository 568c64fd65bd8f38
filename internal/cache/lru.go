// Package cache provides a bounded, expiring set of recently seen keys.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Seen remembers up to maxSize keys for ttl each, evicting the least
// recently marked key first. The statements worker uses it to drop
// redelivered messages.
type Seen struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	items   map[string]*list.Element
	order   *list.List // front is most recent
}

type entry struct {
	key       string
	expiresAt time.Time
}

func NewSeen(maxSize int, ttl time.Duration) *Seen {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Seen{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Contains reports whether key was marked and has not expired.
func (s *Seen) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return false
	}
	if s.now().After(elem.Value.(*entry).expiresAt) {
		s.remove(elem)
		return false
	}
	return true
}

// Mark records key, refreshing its expiry if it is already present.
func (s *Seen) Mark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(s.ttl)
	if elem, ok := s.items[key]; ok {
		elem.Value.(*entry).expiresAt = expiresAt
		s.order.MoveToFront(elem)
		return
	}

	s.items[key] = s.order.PushFront(&entry{key: key, expiresAt: expiresAt})
	if s.order.Len() > s.maxSize {
		s.remove(s.order.Back())
	}
}

// Len returns the number of keys held, expired ones included until they
// are next looked up.
func (s *Seen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Seen) remove(elem *list.Element) {
	delete(s.items, elem.Value.(*entry).key)
	s.order.Remove(elem)
}
