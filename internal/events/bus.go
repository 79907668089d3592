package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexanderramin/dayplan/internal/domain"
)

// TopicDataUpdated is published after any collection changes, for consumers
// that only care that something changed.
const TopicDataUpdated = "data:updated"

// UpdatedTopic names the event carrying a collection's new value.
func UpdatedTopic(c domain.Collection) string { return topic(c, "updated") }

// AddedTopic names the event carrying a newly added record.
func AddedTopic(c domain.Collection) string { return topic(c, "added") }

// DeletedTopic names the event carrying a removed record.
func DeletedTopic(c domain.Collection) string { return topic(c, "deleted") }

// OperationTopic names the event carrying an applied mutation operation.
func OperationTopic(c domain.Collection) string { return topic(c, "operation") }

func topic(c domain.Collection, verb string) string {
	return fmt.Sprintf("data:%s:%s", c, verb)
}

// DataUpdated is the payload of TopicDataUpdated.
type DataUpdated struct {
	Collection domain.Collection `json:"collection"`
}

// Event is one delivered notification.
type Event struct {
	Name    string
	Payload any
	At      time.Time
}

// Handler receives events. It runs on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous publish/subscribe hub. Handlers for a name run in
// registration order, once per publish, on the publishing goroutine.
// There is no replay: late subscribers see only later events.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
}

// NewBus creates an empty bus. A nil logger discards output.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{logger: logger, subs: make(map[string][]subscription)}
}

// Subscribe registers fn for name and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(name string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, handler: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			// Copy so in-flight publishes keep iterating their snapshot.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, name)
			} else {
				b.subs[name] = next
			}
			return
		}
	}
}

// Publish delivers payload to every handler currently subscribed to name.
// Handlers run outside the bus lock, so they may publish or subscribe.
func (b *Bus) Publish(name string, payload any) {
	b.mu.RLock()
	subs := b.subs[name]
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	ev := Event{Name: name, Payload: payload, At: time.Now()}
	for _, s := range subs {
		b.safeInvoke(s.handler, ev)
	}
}

// PublishUpdate publishes the two update events for a collection change.
func (b *Bus) PublishUpdate(c domain.Collection, value any) {
	b.Publish(UpdatedTopic(c), value)
	b.Publish(TopicDataUpdated, DataUpdated{Collection: c})
}

// Subscribers returns the number of handlers registered for name.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

func (b *Bus) safeInvoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event_handler_panicked", "event", ev.Name, "panic", fmt.Sprint(r))
		}
	}()
	h(ev)
}
