package server

import (
	"sync"

	"github.com/focusd/focusd/internal/protocol"
)

// subscriberBuffer bounds each subscriber's tick queue. Only the latest
// ticks matter, so a slow subscriber loses its oldest entries, never the
// publisher's time.
const subscriberBuffer = 16

// Subscriber is one independent view of the tick broadcast.
type Subscriber struct {
	ch chan protocol.ViewState
}

// Ticks returns the subscriber's ordered tick stream, starting at the
// subscription point. Nothing published earlier is replayed.
func (s *Subscriber) Ticks() <-chan protocol.ViewState {
	return s.ch
}

// Hub fans timer ticks out to any number of subscribers. The publisher
// never blocks: when a subscriber's queue is full its oldest tick is
// dropped, locally to that subscriber only.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber receiving all ticks published from
// this point forward.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan protocol.ViewState, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes s from the hub. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Publish delivers v to every current subscriber.
func (h *Hub) Publish(v protocol.ViewState) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		for {
			select {
			case s.ch <- v:
			default:
				// Queue full: drop this subscriber's oldest tick and retry.
				select {
				case <-s.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// SubscriberCount reports how many subscribers are attached.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
