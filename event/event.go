package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueSize is the buffer of each subscriber channel.
const QueueSize = 20

type Type string

type SubscriberID int

type HandlerFunc func(Event)

// Event is a domain event emitted by the contract. Data holds the typed
// payload for the event's Type.
type Event struct {
	ID        uuid.UUID
	Type      Type
	Timestamp time.Time
	Data      any
}

func New(eventType Type, timestamp time.Time, data any) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: timestamp,
		Data:      data,
	}
}

// Bus is an in-process publish/subscribe hub keyed by event type. Delivery is
// best-effort: a subscriber whose channel buffer is full misses the event and
// the drop is counted, so Publish never blocks a contract operation.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type]map[SubscriberID]chan Event
	lastSubID   SubscriberID
	metrics     *busMetrics
}

// NewBus creates a Bus. promRegistry may be nil to disable metrics.
func NewBus(promRegistry prometheus.Registerer) *Bus {
	b := &Bus{
		subscribers: make(map[Type]map[SubscriberID]chan Event),
	}
	if promRegistry != nil {
		b.metrics = newBusMetrics(promRegistry)
	}
	return b
}

// Subscribe registers a channel receiving events of the given type.
func (b *Bus) Subscribe(eventType Type) (SubscriberID, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, QueueSize)
	b.lastSubID++
	subID := b.lastSubID
	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[SubscriberID]chan Event)
	}
	b.subscribers[eventType][subID] = ch
	if b.metrics != nil {
		b.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return subID, ch
}

// SubscribeFunc registers a callback receiving events of the given type.
func (b *Bus) SubscribeFunc(eventType Type, handlerFunc HandlerFunc) SubscriberID {
	subID, ch := b.Subscribe(eventType)
	go func() {
		for evt := range ch {
			handlerFunc(evt)
		}
	}()
	return subID
}

// Unsubscribe stops delivery for a subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType Type, subID SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[eventType]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(b.subscribers, eventType)
	}
	if b.metrics != nil {
		b.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
	}
	close(ch)
}

// Publish delivers an event to every subscriber of its type. Sends happen
// under the read lock so Unsubscribe cannot close a channel mid-delivery.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	for _, ch := range b.subscribers[evt.Type] {
		select {
		case ch <- evt:
		default:
			if b.metrics != nil {
				b.metrics.dropped.WithLabelValues(string(evt.Type)).Inc()
			}
		}
	}
	b.mu.RUnlock()
	if b.metrics != nil {
		b.metrics.published.WithLabelValues(string(evt.Type)).Inc()
	}
}

type busMetrics struct {
	published   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
}

func newBusMetrics(registry prometheus.Registerer) *busMetrics {
	m := &busMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circle_events_published_total",
			Help: "Total domain events published, by type",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circle_events_dropped_total",
			Help: "Events dropped because a subscriber's buffer was full, by type",
		}, []string{"type"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circle_event_subscribers",
			Help: "Current event subscribers, by type",
		}, []string{"type"}),
	}
	registry.MustRegister(m.published, m.dropped, m.subscribers)
	return m
}
