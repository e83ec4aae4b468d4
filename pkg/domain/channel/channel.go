// Package channel defines the chat transport boundary: the Transport port the
// service drives, the lifecycle events it emits, and the message value
// objects that cross it.
package channel

import (
	"context"
	"fmt"
)

// ---------------------------------------------------------------------------
// Transport port
// ---------------------------------------------------------------------------

// StateConnected is the raw transport state meaning "fully connected and
// logged in". Any other raw state is informational only.
const StateConnected = "CONNECTED"

// IsConnectedState reports whether a raw transport state means connected.
func IsConnectedState(raw string) bool {
	return raw == StateConnected
}

// Transport is the chat network session. Implementations live in
// infrastructure; the core only talks to this interface.
type Transport interface {
	// Connect opens the session. Lifecycle events are delivered to the
	// handlers registered with OnEvent.
	Connect(ctx context.Context) error
	// Disconnect tears the session down.
	Disconnect(ctx context.Context) error
	// OnEvent registers a lifecycle/message handler. Handlers are invoked
	// from the transport's dispatch goroutine and must not block.
	OnEvent(handler EventHandler)
	// State reports the raw connectivity state (StateConnected when ready).
	State(ctx context.Context) (string, error)
	// SendText delivers a text message and returns the assigned message id.
	SendText(ctx context.Context, chatID, body string, opts SendOptions) (string, error)
	// SendMedia delivers a media message and returns the assigned message id.
	SendMedia(ctx context.Context, chatID string, media Media, opts SendOptions) (string, error)
	// ContactName resolves the display name of a chat participant.
	ContactName(ctx context.Context, chatID string) (string, error)
}

// SendOptions are per-send delivery flags.
type SendOptions struct {
	LinkPreview bool
	MarkSeen    bool
	AsDocument  bool
	Caption     string
}

// ---------------------------------------------------------------------------
// Transport events
// ---------------------------------------------------------------------------

// EventKind identifies a transport lifecycle event.
type EventKind string

const (
	EventPairingCode   EventKind = "pairing_code"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventStateChanged  EventKind = "state_changed"
	EventDisconnected  EventKind = "disconnected"
	EventAuthFailure   EventKind = "auth_failure"
	EventMessage       EventKind = "message"
)

// Event is a single lifecycle or message notification from the transport.
type Event struct {
	Kind EventKind
	// Code is set for EventPairingCode.
	Code string
	// State is the raw state for EventStateChanged.
	State string
	// Reason is set for EventDisconnected and EventAuthFailure.
	Reason string
	// Message is set for EventMessage.
	Message *InboundMessage
}

// EventHandler receives transport events.
type EventHandler func(Event)

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// OutboundMessage is either a TextMessage or a MediaMessage.
type OutboundMessage interface {
	outbound()
}

// TextMessage is a plain text send.
type TextMessage struct {
	Body string
}

// MediaMessage is a document fetched from SourceURL and sent as FileName.
type MediaMessage struct {
	SourceURL string
	FileName  string
	Caption   string
}

func (TextMessage) outbound()  {}
func (MediaMessage) outbound() {}

// Media is downloaded content ready to be uploaded to the transport.
type Media struct {
	Data     []byte
	MimeType string
	FileName string
}

// InboundMessage is a message received from the chat network.
type InboundMessage struct {
	ID        string
	From      string
	Body      string
	PushName  string
	Timestamp int64
	Type      string
	IsGroup   bool
}

// DeliveryStatus is the outcome of a send that did not fail.
type DeliveryStatus string

const (
	DeliverySent DeliveryStatus = "sent"
	// DeliveryCheckDevice means the transport reported a cosmetic failure
	// after the media most likely went out. Check the device to confirm.
	DeliveryCheckDevice DeliveryStatus = "check_device"
)

// SendResult acknowledges an outbound send.
type SendResult struct {
	MessageID string         `json:"message_id,omitempty"`
	ChatID    string         `json:"chat_id"`
	Status    DeliveryStatus `json:"status"`
	Details   string         `json:"details,omitempty"`
}

// Advisory reports whether the result is a soft success.
func (r SendResult) Advisory() bool { return r.Status == DeliveryCheckDevice }

// ---------------------------------------------------------------------------
// Webhook payloads
// ---------------------------------------------------------------------------

// DisconnectedEvent is the webhook event name for disconnect alerts.
const DisconnectedEvent = "device.disconnected"

// DisconnectAlert is posted to the automation webhook once per disconnect.
type DisconnectAlert struct {
	Event     string `json:"event"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// InboundEvent is posted to the automation webhook for each direct message.
type InboundEvent struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	PushName  string `json:"pushName"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

// ChannelError is a typed error for the channel domain.
type ChannelError string

func (e ChannelError) Error() string { return string(e) }

const (
	ErrNotReady            ChannelError = "whatsapp session is not ready yet, wait for the ready signal and retry"
	ErrInvalidRecipient    ChannelError = "recipient number has no digits"
	ErrTransportNotStarted ChannelError = "transport session not started"
)

// DeliveryError means the transport rejected or failed a send.
type DeliveryError struct {
	Recipient string
	Cause     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Recipient, e.Cause)
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// AuthFailure means the transport rejected the session credentials. The
// session must be re-paired.
type AuthFailure struct {
	Reason string
}

func (e *AuthFailure) Error() string {
	return "authentication failed: " + e.Reason
}

// TransientQueryError wraps a failed connectivity probe. It is logged and
// never escalated to callers.
type TransientQueryError struct {
	Cause error
}

func (e *TransientQueryError) Error() string {
	return fmt.Sprintf("transport state query failed: %v", e.Cause)
}

func (e *TransientQueryError) Unwrap() error { return e.Cause }
