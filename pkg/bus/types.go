package bus

import (
	"time"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
)

// InboundMessage is a received chat message queued for relay.
type InboundMessage struct {
	Message    channel.InboundMessage `json:"message"`
	ReceivedAt time.Time              `json:"received_at"`
}
