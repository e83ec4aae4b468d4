// Event bridge wires domain events and the inbound message stream into the
// WebSocket hub so connected clients see session transitions and traffic live.
package api

import (
	"context"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/bus"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

// EventBridge connects the event bus and message bus to the WebSocket hub.
type EventBridge struct {
	events domain.EventBus
	bus    *bus.MessageBus
	hub    *WSHub
}

// NewEventBridge creates a bridge. Either source may be nil.
func NewEventBridge(events domain.EventBus, mb *bus.MessageBus, hub *WSHub) *EventBridge {
	return &EventBridge{events: events, bus: mb, hub: hub}
}

// Run subscribes to both sources and returns immediately; forwarding stops
// when ctx is cancelled.
func (eb *EventBridge) Run(ctx context.Context) {
	logger.InfoC("events", "Event bridge started, forwarding events to WebSocket")

	if eb.events != nil {
		eb.events.SubscribeAll(func(e domain.Event) {
			if ctx.Err() != nil {
				return
			}
			eb.hub.Broadcast(string(e.EventType()), map[string]interface{}{
				"id":           e.EventID().String(),
				"aggregate_id": e.AggregateID().String(),
				"data":         e.Payload(),
			})
		})
	}

	if eb.bus != nil {
		// Fan-out tap: receives copies without stealing from the relay.
		go eb.forwardInbound(ctx, eb.bus.SubscribeInboundTap("event-bridge"))
	}
}

func (eb *EventBridge) forwardInbound(ctx context.Context, tap <-chan bus.InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			logger.InfoC("events", "Inbound event bridge stopped")
			return
		case msg, ok := <-tap:
			if !ok {
				return
			}
			eb.hub.Broadcast("message.inbound", map[string]interface{}{
				"id":       msg.Message.ID,
				"from":     msg.Message.From,
				"type":     msg.Message.Type,
				"is_group": msg.Message.IsGroup,
				"body":     truncate(msg.Message.Body, 200),
			})
		}
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "…"
}
