package federation

import (
	"container/list"
	"sync"
)

// seenCapacity caps the in-memory dedup window for event ids.
const seenCapacity = 10000

// seenEvents is a bounded LRU of recently processed event ids with a
// drop-oldest policy. It is the fast path in front of the store's durable
// idempotency log.
type seenEvents struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	index map[string]*list.Element
}

func newSeenEvents(capacity int) *seenEvents {
	if capacity <= 0 {
		capacity = seenCapacity
	}
	return &seenEvents{
		cap:   capacity,
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Observe records an event id and reports whether it was already seen.
func (s *seenEvents) Observe(id string) (seen bool) {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[id]; ok {
		s.order.MoveToFront(el)
		return true
	}
	s.index[id] = s.order.PushFront(id)
	if s.order.Len() > s.cap {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
	return false
}

// Len reports the tracked id count.
func (s *seenEvents) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
