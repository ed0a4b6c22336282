package plugin

import (
	"sync"

	"github.com/google/uuid"
)

// EventKind is a lifecycle event type.
type EventKind int

const (
	EventRegistered EventKind = iota
	EventEnabled
	EventDisabled
	EventUninstalled
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventRegistered:
		return "registered"
	case EventEnabled:
		return "enabled"
	case EventDisabled:
		return "disabled"
	case EventUninstalled:
		return "uninstalled"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification. Plugin is the record after the change;
// for EventUninstalled it is the record as it was before removal.
type Event struct {
	Kind   EventKind
	ID     string
	Plugin Plugin
}

const defaultSubscriptionBuffer = 16

// Subscription receives lifecycle events until cancelled.
type Subscription struct {
	ID string
	c  chan Event

	once   sync.Once
	cancel func()
}

// C returns the event channel. It is closed by Cancel.
func (s *Subscription) C() <-chan Event {
	return s.c
}

// Cancel stops delivery and closes the channel. It is safe to call twice.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// broker fans events out without blocking the registry; a full subscriber
// misses the event.
type broker struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func (b *broker) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	s := &Subscription{ID: uuid.NewString(), c: make(chan Event, buffer)}
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, s.ID)
		close(s.c)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[string]*Subscription)
	}
	b.subs[s.ID] = s
	return s
}

// publish returns the number of subscribers that missed the event.
func (b *broker) publish(e Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	missed := 0
	for _, s := range b.subs {
		select {
		case s.c <- e:
		default:
			missed++
		}
	}
	return missed
}
