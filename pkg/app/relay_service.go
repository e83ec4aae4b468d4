package app

import (
	"context"
	"time"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/bus"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

// UnknownSender is the display name used when none can be resolved.
const UnknownSender = "Unknown user"

const contactLookupTimeout = 5 * time.Second

// ContactResolver resolves a sender's display name.
type ContactResolver interface {
	ContactName(ctx context.Context, chatID string) (string, error)
}

// RelayService forwards direct inbound messages to the automation webhook.
// Group traffic is dropped.
type RelayService struct {
	notifier Notifier
	contacts ContactResolver
	eventBus domain.EventBus
}

// NewRelayService creates the inbound relay.
func NewRelayService(notifier Notifier, contacts ContactResolver, eventBus domain.EventBus) *RelayService {
	return &RelayService{
		notifier: notifier,
		contacts: contacts,
		eventBus: eventBus,
	}
}

// Run consumes the inbound queue until ctx is done or the bus is closed.
func (r *RelayService) Run(ctx context.Context, mb *bus.MessageBus) error {
	logger.InfoC("relay", "Inbound relay started")
	for {
		msg, ok := mb.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("relay", "Inbound relay stopped")
			return nil
		}
		r.Handle(ctx, msg.Message)
	}
}

// Handle relays one message. It reports whether the message was forwarded.
func (r *RelayService) Handle(ctx context.Context, msg channel.InboundMessage) bool {
	if msg.IsGroup || channel.IsGroupChat(msg.From) {
		logger.DebugCF("relay", "Ignoring group message", map[string]interface{}{
			"from": msg.From,
		})
		return false
	}

	logger.InfoCF("relay", "Incoming message", map[string]interface{}{
		"from": msg.From,
		"body": preview(msg.Body, 80),
	})

	event := channel.InboundEvent{
		From:      msg.From,
		Body:      msg.Body,
		PushName:  r.displayName(ctx, msg),
		Timestamp: msg.Timestamp,
		Type:      msg.Type,
	}

	if r.eventBus != nil {
		r.eventBus.Publish(domain.NewEvent(domain.EventMessageReceived, domain.EntityID(msg.From), event))
	}
	if r.notifier != nil {
		r.notifier.Notify(ctx, event)
	}
	return true
}

// displayName prefers the contact record, then the name carried on the
// message, then UnknownSender.
func (r *RelayService) displayName(ctx context.Context, msg channel.InboundMessage) string {
	if r.contacts != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, contactLookupTimeout)
		name, err := r.contacts.ContactName(lookupCtx, msg.From)
		cancel()
		if err != nil {
			logger.DebugCF("relay", "Contact lookup failed", map[string]interface{}{
				"from":  msg.From,
				"error": err.Error(),
			})
		} else if name != "" {
			return name
		}
	}
	if msg.PushName != "" {
		return msg.PushName
	}
	return UnknownSender
}

func preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
