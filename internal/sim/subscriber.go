package sim

import (
	"sync"

	"github.com/strategos-sim/strategos/internal/event"
)

// DefaultSubscriptionBuffer is the queue depth used when Subscribe is
// called with a non-positive buffer size.
const DefaultSubscriptionBuffer = 64

// Subscription is a live feed of committed events with a bounded queue.
//
// Delivery never blocks the writer: when a subscriber falls behind, the
// oldest queued event is dropped to make room for the newest. Dropped()
// reports how many were lost, so consumers that need a gapless view can
// detect the gap and re-read the log instead.
type Subscription struct {
	ch chan event.Event

	mu      sync.Mutex
	dropped int64
	closed  bool
}

// Events returns the subscriber's receive channel. The channel is
// closed when the subscription is cancelled.
func (s *Subscription) Events() <-chan event.Event {
	return s.ch
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// push enqueues evt, evicting the oldest queued event if the buffer is full.
func (s *Subscription) push(evt event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- evt:
			return
		default:
			select {
			case <-s.ch:
				s.dropped++
			default:
			}
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// subscriberSet fans committed events out to live subscriptions.
type subscriberSet struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{subs: make(map[*Subscription]struct{})}
}

func (ss *subscriberSet) add(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	sub := &Subscription{ch: make(chan event.Event, buffer)}
	ss.mu.Lock()
	ss.subs[sub] = struct{}{}
	ss.mu.Unlock()
	return sub
}

func (ss *subscriberSet) remove(sub *Subscription) {
	ss.mu.Lock()
	_, ok := ss.subs[sub]
	delete(ss.subs, sub)
	ss.mu.Unlock()
	if ok {
		sub.close()
	}
}

func (ss *subscriberSet) publish(evt event.Event) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for sub := range ss.subs {
		sub.push(evt)
	}
}

func (ss *subscriberSet) closeAll() {
	ss.mu.Lock()
	subs := make([]*Subscription, 0, len(ss.subs))
	for sub := range ss.subs {
		subs = append(subs, sub)
	}
	ss.subs = make(map[*Subscription]struct{})
	ss.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}
