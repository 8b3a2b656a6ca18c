package service

import (
	"context"
	"sync"
	"time"

	"mpifleet/internal/domain"
)

// EventType defines the type of event
type EventType string

const (
	EventScanStarted     EventType = "scan_started"
	EventScanProgress    EventType = "scan_progress"
	EventScanFinished    EventType = "scan_finished"
	EventMachineUpdated  EventType = "machine_updated"
	EventMachineRemoved  EventType = "machine_removed"
	EventInstallProgress EventType = "install_progress"
)

// Event is one state change or progress update. Exactly one of Machine,
// Scan and Install is set, matching Type.
type Event struct {
	Type    EventType        `json:"type"`
	CycleID string           `json:"cycle_id,omitempty"` // Scan or install cycle
	Machine *domain.Machine  `json:"machine,omitempty"`
	Scan    *ScanProgress    `json:"scan,omitempty"`
	Install *InstallProgress `json:"install,omitempty"`
	Time    time.Time        `json:"time"`
}

// subscriber is one registered channel. A lossless subscriber is never
// skipped; Publish waits for it until its context is done.
type subscriber struct {
	ch       chan<- Event
	lossless bool
	done     <-chan struct{}
	types    map[EventType]bool // nil means every type
}

func (s subscriber) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]subscriber
	next        int
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[int]subscriber),
	}
}

// Subscribe adds a subscriber to receive events. The returned function
// removes it; the channel is never closed by the bus.
func (eb *EventBus) Subscribe(ch chan<- Event) (unsubscribe func()) {
	return eb.add(subscriber{ch: ch})
}

// SubscribeLossless adds a subscriber that receives every event of the
// given types (all types when none are given). Publish blocks until ch
// accepts the event or ctx is done, so a slow reader slows publishers down
// instead of missing events.
func (eb *EventBus) SubscribeLossless(ctx context.Context, ch chan<- Event, types ...EventType) (unsubscribe func()) {
	sub := subscriber{ch: ch, lossless: true, done: ctx.Done()}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	return eb.add(sub)
}

func (eb *EventBus) add(sub subscriber) func() {
	eb.mu.Lock()
	id := eb.next
	eb.next++
	eb.subscribers[id] = sub
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			eb.mu.Lock()
			delete(eb.subscribers, id)
			eb.mu.Unlock()
		})
	}
}

// Publish sends an event to all subscribers. Best-effort subscribers that
// are not ready miss the event.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	subs := make([]subscriber, 0, len(eb.subscribers))
	for _, sub := range eb.subscribers {
		subs = append(subs, sub)
	}
	eb.mu.RUnlock()

	for _, sub := range subs {
		if !sub.wants(event.Type) {
			continue
		}
		if sub.lossless {
			select {
			case sub.ch <- event:
			case <-sub.done:
			}
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
