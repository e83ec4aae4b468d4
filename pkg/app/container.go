// Package app provides application services that orchestrate domain operations.
// These services sit between the transport/API layers and the domain layer:
// the session state machine with its recovery watchdog, the outbound
// gateway and the inbound relay.
package app

import (
	"time"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/bus"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

// ---------------------------------------------------------------------------
// Application container: dependency injection root
// ---------------------------------------------------------------------------

// Container holds all application services and their dependencies.
type Container struct {
	// Domain event bus
	EventBus domain.EventBus
	// Inbound message queue between the transport and the relay
	Bus *bus.MessageBus

	Transport channel.Transport

	Sessions *SessionService
	Messages *MessageService
	Relay    *RelayService
}

// NewContainer wires the services around transport and registers Dispatch
// as the transport's event handler.
func NewContainer(
	transport channel.Transport,
	notifier Notifier,
	fetcher MediaFetcher,
	eventBus domain.EventBus,
	messageBus *bus.MessageBus,
	watchdog WatchdogConfig,
) *Container {
	sessions := NewSessionService(transport, notifier, eventBus, watchdog)
	c := &Container{
		EventBus:  eventBus,
		Bus:       messageBus,
		Transport: transport,
		Sessions:  sessions,
		Messages:  NewMessageService(sessions, transport, fetcher, eventBus),
		Relay:     NewRelayService(notifier, transport, eventBus),
	}
	transport.OnEvent(c.Dispatch)
	return c
}

// Dispatch routes one transport event. It never blocks: session transitions
// are short critical sections and inbound messages are queued.
func (c *Container) Dispatch(evt channel.Event) {
	switch evt.Kind {
	case channel.EventPairingCode:
		c.Sessions.PairingCodeIssued(evt.Code)
	case channel.EventAuthenticated:
		c.Sessions.Authenticated()
	case channel.EventReady:
		c.Sessions.Ready()
	case channel.EventStateChanged:
		c.Sessions.StateChanged(evt.State)
	case channel.EventDisconnected:
		c.Sessions.Disconnected(evt.Reason)
	case channel.EventAuthFailure:
		c.Sessions.AuthFailed(evt.Reason)
	case channel.EventMessage:
		if evt.Message == nil {
			return
		}
		c.Bus.PublishInbound(bus.InboundMessage{
			Message:    *evt.Message,
			ReceivedAt: time.Now().UTC(),
		})
	default:
		logger.DebugCF("app", "Unhandled transport event", map[string]interface{}{
			"kind": string(evt.Kind),
		})
	}
}
