package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of engine event on the bus.
type EventType string

const (
	EventTrailingUpdate EventType = "TRAILING_UPDATE"
	EventTrailingReset  EventType = "TRAILING_RESET"
	EventOrderPlaced    EventType = "ORDER_PLACED"
	EventOrderFilled    EventType = "ORDER_FILLED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
	EventDealClosed     EventType = "DEAL_CLOSED"
	EventBotEvaluated   EventType = "BOT_EVALUATED"
	EventError          EventType = "ERROR"
)

// Event is one engine event published on the bus.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events.
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events.
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Delivery is asynchronous
// so a slow subscriber never blocks an evaluation cycle.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTrailingUpdate publishes a trailing stop-loss/take-profit
// update for a deal.
func (eb *EventBus) PublishTrailingUpdate(botID, dealID int64, pair string, profit, stopLoss, takeProfit float64) {
	eb.Publish(Event{
		Type: EventTrailingUpdate,
		Data: map[string]interface{}{
			"bot_id":      botID,
			"deal_id":     dealID,
			"pair":        pair,
			"profit":      profit,
			"stop_loss":   stopLoss,
			"take_profit": takeProfit,
		},
	})
}

// PublishTrailingReset publishes a trailing reset for a deal. The
// reason distinguishes profit reversal, drawdown recovery and missed
// safety-order windows.
func (eb *EventBus) PublishTrailingReset(botID, dealID int64, pair, reason string) {
	eb.Publish(Event{
		Type: EventTrailingReset,
		Data: map[string]interface{}{
			"bot_id":  botID,
			"deal_id": dealID,
			"pair":    pair,
			"reason":  reason,
		},
	})
}

// PublishOrderPlaced publishes a placed safety order.
func (eb *EventBus) PublishOrderPlaced(botID, dealID int64, pair, orderID string, quantity, limitPrice float64) {
	eb.Publish(Event{
		Type: EventOrderPlaced,
		Data: map[string]interface{}{
			"bot_id":      botID,
			"deal_id":     dealID,
			"pair":        pair,
			"order_id":    orderID,
			"quantity":    quantity,
			"limit_price": limitPrice,
		},
	})
}

// PublishOrderFilled publishes a filled safety order.
func (eb *EventBus) PublishOrderFilled(botID, dealID int64, pair, orderID string, filledSOCount int) {
	eb.Publish(Event{
		Type: EventOrderFilled,
		Data: map[string]interface{}{
			"bot_id":          botID,
			"deal_id":         dealID,
			"pair":            pair,
			"order_id":        orderID,
			"filled_so_count": filledSOCount,
		},
	})
}

// PublishOrderCancelled publishes a cancelled safety order.
func (eb *EventBus) PublishOrderCancelled(botID, dealID int64, pair, orderID string) {
	eb.Publish(Event{
		Type: EventOrderCancelled,
		Data: map[string]interface{}{
			"bot_id":   botID,
			"deal_id":  dealID,
			"pair":     pair,
			"order_id": orderID,
		},
	})
}

// PublishDealClosed publishes a locally triggered deal close.
func (eb *EventBus) PublishDealClosed(botID, dealID int64, pair string, profit float64) {
	eb.Publish(Event{
		Type: EventDealClosed,
		Data: map[string]interface{}{
			"bot_id":  botID,
			"deal_id": dealID,
			"pair":    pair,
			"profit":  profit,
		},
	})
}

// PublishBotEvaluated publishes the outcome of one bot cycle.
func (eb *EventBus) PublishBotEvaluated(botID int64, monitored int, err error) {
	data := map[string]interface{}{
		"bot_id":    botID,
		"monitored": monitored,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventBotEvaluated, Data: data})
}

// PublishError publishes an engine error.
func (eb *EventBus) PublishError(component string, err error) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"component": component,
			"error":     err.Error(),
		},
	})
}
