// Package notify carries recovery notifications to subscribers: in-process
// listeners, the log, and optionally an AMQP exchange.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level is the notification severity.
type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Notification reports the outcome of a recovery attempt.
type Notification struct {
	Level         Level     `json:"level"`
	PublicationID string    `json:"publicationId"`
	CampaignID    string    `json:"campaignId"`
	Message       string    `json:"message"`
	Strategy      string    `json:"strategy,omitempty"`
	RetryCount    int       `json:"retryCount"`
	Time          time.Time `json:"time"`
}

// Handler receives notifications.
type Handler func(Notification)

type subscription struct {
	id int
	fn Handler
}

// Bus fans notifications out to subscribers synchronously, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers n to every current subscriber.
func (b *Bus) Publish(n Notification) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(n)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// LogHandler returns a handler that writes notifications to logger.
func LogHandler(logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(n Notification) {
		fields := []zap.Field{
			zap.String("publication_id", n.PublicationID),
			zap.String("campaign_id", n.CampaignID),
			zap.String("strategy", n.Strategy),
			zap.Int("retry_count", n.RetryCount),
		}
		if n.Level == LevelCritical {
			logger.Error(n.Message, fields...)
			return
		}
		logger.Warn(n.Message, fields...)
	}
}
