// Package feed carries validated donation events from the webhook handler to
// the swap modes subscribed to them. Delivery is synchronous and in-process;
// handlers must not block.
package feed

import (
	"log"
	"sync"

	"github.com/scythe504/gameswap-backend/internal"
)

type Handler func(event internal.DonationEvent)

type Subscription struct {
	feed *DonationFeed
	id   int
}

func (s *Subscription) Unsubscribe() {
	if s.feed == nil {
		return
	}
	s.feed.mu.Lock()
	delete(s.feed.handlers, s.id)
	s.feed.mu.Unlock()
	s.feed = nil
}

type DonationFeed struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextId   int
}

func NewDonationFeed() *DonationFeed {
	return &DonationFeed{handlers: make(map[int]Handler)}
}

func (f *DonationFeed) Subscribe(handler Handler) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextId++
	f.handlers[f.nextId] = handler
	return &Subscription{feed: f, id: f.nextId}
}

// Publish delivers the event to every subscriber. A panicking handler is
// logged and must not take down the publisher or the other subscribers.
func (f *DonationFeed) Publish(event internal.DonationEvent) {
	f.mu.RLock()
	handlers := make([]Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, event)
	}
}

func deliver(h Handler, event internal.DonationEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[DonationFeed] Handler panicked on event %s: %v", event.Id, r)
		}
	}()
	h(event)
}
