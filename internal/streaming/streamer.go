// Package streaming fans watch value updates out to remote subscribers and
// serves them over gRPC.
package streaming

import (
	"sync"
	"sync/atomic"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
	"github.com/google/uuid"
)

const subscriberBuffer = 100

type subscriber struct {
	ch    chan watch.Entry
	names map[string]bool
}

// Streamer delivers watch entries to every subscriber interested in them.
// A subscriber that falls behind misses updates rather than blocking the
// poll loop.
type Streamer struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*subscriber
	dropped     atomic.Uint64
}

func NewStreamer() *Streamer {
	return &Streamer{
		subscribers: make(map[uuid.UUID]*subscriber),
	}
}

// Subscribe returns a channel of updates for names, or for every entry when
// names is empty.
func (s *Streamer) Subscribe(names []string) (uuid.UUID, <-chan watch.Entry) {
	sub := &subscriber{ch: make(chan watch.Entry, subscriberBuffer)}
	if len(names) > 0 {
		sub.names = make(map[string]bool, len(names))
		for _, n := range names {
			sub.names[n] = true
		}
	}

	id := uuid.New()
	s.mu.Lock()
	s.subscribers[id] = sub
	s.mu.Unlock()
	return id, sub.ch
}

func (s *Streamer) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(sub.ch)
	}
}

func (s *Streamer) Broadcast(e watch.Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscribers {
		if !sub.wants(e.Name) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Streamer) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Dropped counts updates lost to full subscriber buffers.
func (s *Streamer) Dropped() uint64 {
	return s.dropped.Load()
}

func (sub *subscriber) wants(name string) bool {
	return sub.names == nil || sub.names[name]
}
