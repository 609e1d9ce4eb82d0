// Package alerts holds the bounded, most-recent-first log of user-facing
// events and fans new entries out to live subscribers.
package alerts

import (
	"sync"

	"streetlamp/internal/model"
)

// DefaultCapacity is the number of entries kept for display.
const DefaultCapacity = 10

// Sink is a bounded ordered log of alert entries, most recent first.
type Sink struct {
	capacity int

	mu      sync.RWMutex
	entries []model.AlertEntry
	subs    map[int]chan model.AlertEntry
	nextSub int
}

func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{
		capacity: capacity,
		entries:  make([]model.AlertEntry, 0, capacity+1),
		subs:     make(map[int]chan model.AlertEntry),
	}
}

// Push inserts entry at the head and drops whatever falls past capacity.
func (s *Sink) Push(entry model.AlertEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, model.AlertEntry{})
	copy(s.entries[1:], s.entries)
	s.entries[0] = entry
	if len(s.entries) > s.capacity {
		s.entries = s.entries[:s.capacity]
	}

	for _, ch := range s.subs {
		// slow subscribers miss entries rather than stall the caller
		select {
		case ch <- entry:
		default:
		}
	}
}

// All returns a copy of the entries, most recent first.
func (s *Sink) All() []model.AlertEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AlertEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribe returns a channel receiving every entry pushed after the call and
// a function that detaches it. The channel is closed on detach.
func (s *Sink) Subscribe(buffer int) (<-chan model.AlertEntry, func()) {
	if buffer <= 0 {
		buffer = s.capacity
	}
	ch := make(chan model.AlertEntry, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}
