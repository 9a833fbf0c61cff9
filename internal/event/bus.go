package event

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler processes an event payload. A non-nil error is logged against the
// owning plugin; it never stops dispatch to later handlers.
type Handler func(data map[string]any) error

// Logger is the subset of the host logger the bus needs.
type Logger interface {
	Error(msg string, args ...any)
}

// nopLogger discards bus diagnostics when no logger is wired.
type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}

// Subscription ties a handler to an event on behalf of a plugin.
type Subscription struct {
	ID     string
	Plugin string
	Event  string

	handler Handler
}

// Stats reports bus counters.
type Stats struct {
	EventsEmitted       uint64
	HandlersExecuted    uint64
	HandlerErrors       uint64
	HandlerPanics       uint64
	ActiveSubscriptions int
}

// Bus is the process-scoped event hub. It is constructed once at host
// startup and torn down with RemoveAll on shutdown.
//
// Dispatch is synchronous on the emitter's goroutine and runs handlers in
// subscription order. Unsubscribing during a dispatch does not affect
// handlers already snapshotted for the current emit; it takes effect for all
// future emits.
type Bus struct {
	mu sync.RWMutex

	// Ordered subscriptions per event name.
	subs map[string][]*Subscription
	byID map[string]*Subscription

	logger Logger

	eventsEmitted    atomic.Uint64
	handlersExecuted atomic.Uint64
	handlerErrors    atomic.Uint64
	handlerPanics    atomic.Uint64
}

// NewBus creates an empty bus. A nil logger disables diagnostics.
func NewBus(logger Logger) *Bus {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Bus{
		subs:   make(map[string][]*Subscription),
		byID:   make(map[string]*Subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for the event on behalf of the plugin.
// Returns the subscription ID. The plugin tag enables bulk removal when the
// plugin is disabled or unloaded.
func (b *Bus) Subscribe(plugin, eventName string, h Handler) string {
	if h == nil || eventName == "" {
		return ""
	}

	sub := &Subscription{
		ID:      uuid.NewString(),
		Plugin:  plugin,
		Event:   eventName,
		handler: h,
	}

	b.mu.Lock()
	b.subs[eventName] = append(b.subs[eventName], sub)
	b.byID[sub.ID] = sub
	b.mu.Unlock()

	return sub.ID
}

// Unsubscribe removes a subscription by ID. Returns true if it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)
	b.removeFromEventLocked(sub)
	return true
}

// RemovePlugin removes every subscription owned by the plugin. Returns the
// number removed. This is the single bulk operation the runtime calls on
// disable/unload; no handler of the plugin runs for any emit after it
// returns.
func (b *Bus) RemovePlugin(plugin string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, sub := range b.byID {
		if sub.Plugin != plugin {
			continue
		}
		delete(b.byID, id)
		b.removeFromEventLocked(sub)
		removed++
	}
	return removed
}

// RemoveAll clears every subscription. Called at host shutdown.
func (b *Bus) RemoveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]*Subscription)
	b.byID = make(map[string]*Subscription)
}

// Emit dispatches the event to all handlers subscribed at the moment of the
// call, in subscription order. Handler errors and panics are contained and
// logged with the offending plugin's identity.
func (b *Bus) Emit(eventName string, data map[string]any) {
	b.mu.RLock()
	snapshot := make([]*Subscription, len(b.subs[eventName]))
	copy(snapshot, b.subs[eventName])
	b.mu.RUnlock()

	b.eventsEmitted.Add(1)

	for _, sub := range snapshot {
		b.dispatch(sub, data)
	}
}

// dispatch runs one handler with panic recovery.
func (b *Bus) dispatch(sub *Subscription, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerPanics.Add(1)
			b.logger.Error("event handler panic: event=%s plugin=%s: %v",
				sub.Event, sub.Plugin, r)
		}
	}()

	b.handlersExecuted.Add(1)
	if err := sub.handler(data); err != nil {
		b.handlerErrors.Add(1)
		b.logger.Error("event handler error: event=%s plugin=%s: %v",
			sub.Event, sub.Plugin, err)
	}
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	active := len(b.byID)
	b.mu.RUnlock()

	return Stats{
		EventsEmitted:       b.eventsEmitted.Load(),
		HandlersExecuted:    b.handlersExecuted.Load(),
		HandlerErrors:       b.handlerErrors.Load(),
		HandlerPanics:       b.handlerPanics.Load(),
		ActiveSubscriptions: active,
	}
}

// Subscriptions returns the subscription count for an event, for tests and
// diagnostics.
func (b *Bus) Subscriptions(eventName string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventName])
}

// removeFromEventLocked removes sub from its event's ordered slice.
// Must be called with mu held.
func (b *Bus) removeFromEventLocked(sub *Subscription) {
	list := b.subs[sub.Event]
	for i, s := range list {
		if s.ID == sub.ID {
			b.subs[sub.Event] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.Event]) == 0 {
		delete(b.subs, sub.Event)
	}
}

// String implements fmt.Stringer for diagnostics.
func (s Stats) String() string {
	return fmt.Sprintf("emitted=%d executed=%d errors=%d panics=%d active=%d",
		s.EventsEmitted, s.HandlersExecuted, s.HandlerErrors, s.HandlerPanics,
		s.ActiveSubscriptions)
}
