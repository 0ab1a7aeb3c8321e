// Package events is the in-process pub/sub bus feeding the dashboard
// WebSocket and metrics.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventBotCreated     EventType = "BOT_CREATED"
	EventBotStarted     EventType = "BOT_STARTED"
	EventBotStopped     EventType = "BOT_STOPPED"
	EventBotDeleted     EventType = "BOT_DELETED"
	EventTradeExecuted  EventType = "TRADE_EXECUTED"
	EventPositionUpdate EventType = "POSITION_UPDATE"
	EventSignal         EventType = "SIGNAL"
	EventSymbolSwitch   EventType = "SYMBOL_SWITCH"
	EventOrphanAdopted  EventType = "ORPHAN_ADOPTED"
	EventError          EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	BotID     int                    `json:"bot_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish delivers an event to all matching subscribers. Delivery is
// asynchronous; a slow WebSocket client cannot stall a worker tick.
func (b *Bus) Publish(eventType EventType, botID int, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		BotID:     botID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers[eventType])+len(b.allSubs))
	subs = append(subs, b.subscribers[eventType]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		go sub(event)
	}
}
