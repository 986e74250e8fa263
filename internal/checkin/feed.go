package checkin

import "sync"

// Feed is a publish/subscribe hub for check-in record changes. Subscribers
// receive fresh snapshots after every successful transition; delivery is
// best-effort and never blocks a publisher (slow subscribers drop updates).
type Feed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan CheckIn
}

func NewFeed() *Feed {
	return &Feed{subs: map[string]map[int]chan CheckIn{}}
}

// Subscribe registers a listener for the owner's check-in updates and returns
// the update channel plus a cancel func that must be called on teardown.
func (f *Feed) Subscribe(ownerID string) (<-chan CheckIn, func()) {
	ch := make(chan CheckIn, 8)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	if f.subs[ownerID] == nil {
		f.subs[ownerID] = map[int]chan CheckIn{}
	}
	f.subs[ownerID][id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if owner, ok := f.subs[ownerID]; ok {
			if sub, ok := owner[id]; ok {
				delete(owner, id)
				close(sub)
			}
			if len(owner) == 0 {
				delete(f.subs, ownerID)
			}
		}
	}
	return ch, cancel
}

// Publish fans a snapshot out to the owner's subscribers.
func (f *Feed) Publish(item CheckIn) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs[item.OwnerID] {
		select {
		case ch <- item:
		default:
		}
	}
}

// SubscriberCount reports active subscriptions for an owner.
func (f *Feed) SubscriberCount(ownerID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[ownerID])
}
