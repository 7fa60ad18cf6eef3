package messaging

import (
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Event kinds published on the bus.
const (
	KindNews            = "news"
	KindSuggestion      = "suggestion"
	KindSound           = "sound"
	KindOrderUpdate     = "order_update"
	KindPositionChanged = "position_changed"
	KindError           = "error"
)

// Event is one notification for observers. Payload is a value type owned by the event.
type Event struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
	Time    time.Time   `json:"time"`
}

type subscriber struct {
	ch    chan Event
	kinds map[string]bool
}

// Bus is an in-process fan-out of core events. Publish never blocks; a
// subscriber that falls behind loses events.
type Bus struct {
	Log *logger.Entry

	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
	buffer int
	closed bool
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		Log:    logger.WithField("component", "bus"),
		subs:   make(map[int]*subscriber),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events of the given kinds (all kinds when
// none are given) and a function that cancels the subscription.
func (b *Bus) Subscribe(kinds ...string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

func (b *Bus) Publish(kind string, payload interface{}) {
	ev := Event{Kind: kind, Payload: payload, Time: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[kind] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.Log.WithField("kind", kind).Warn("subscriber buffer full, event dropped")
		}
	}
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
