package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr1hm/go-weather-alerts/internal/models"
)

const subscriberBuffer = 64

type StatusEvent struct {
	AlertID   string                  `json:"alertId"`
	Location  string                  `json:"locationName"`
	Status    models.GeoTaggingStatus `json:"geoTaggingStatus"`
	Latitude  *float64                `json:"latitude,omitempty"`
	Longitude *float64                `json:"longitude,omitempty"`
	Error     *string                 `json:"geoTaggingError,omitempty"`
	At        time.Time               `json:"at"`
}

func NewStatusEvent(a *models.Alert) StatusEvent {
	return StatusEvent{
		AlertID:   a.ID,
		Location:  a.LocationName,
		Status:    a.GeoTaggingStatus,
		Latitude:  a.Latitude,
		Longitude: a.Longitude,
		Error:     a.GeoTaggingError,
		At:        time.Now().UTC(),
	}
}

// Broadcaster fans geo-tagging status changes out to subscribers.
// Publishing never blocks: a subscriber with a full buffer misses the event.
type Broadcaster struct {
	subscribers map[uint64]chan StatusEvent
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan StatusEvent),
	}
}

func (b *Broadcaster) Subscribe() (uint64, <-chan StatusEvent) {
	id := b.nextID.Add(1)
	ch := make(chan StatusEvent, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(ev StatusEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PublishAlert publishes the alert's current geo-tagging state.
func (b *Broadcaster) PublishAlert(a *models.Alert) {
	if b == nil || a == nil {
		return
	}
	b.Publish(NewStatusEvent(a))
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels so streams can exit.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
