package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

// cosmeticFailureSignature marks errors the transport raises after a media
// send has already been handed to the network.
const cosmeticFailureSignature = "markedUnread"

// cosmeticFailureDetails accompanies a check_device result.
const cosmeticFailureDetails = "media send processed with bypass"

// ReadinessChecker reports whether the session accepts outbound sends.
type ReadinessChecker interface {
	IsReady() bool
}

// MessageSender is the outbound half of the transport.
type MessageSender interface {
	SendText(ctx context.Context, chatID, body string, opts channel.SendOptions) (string, error)
	SendMedia(ctx context.Context, chatID string, media channel.Media, opts channel.SendOptions) (string, error)
}

// MediaFetcher downloads a document from a URL.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (*channel.Media, error)
}

// IsCosmeticSendFailure reports whether err is the known benign failure that
// follows a successful media send. All send-failure classification lives here.
func IsCosmeticSendFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), cosmeticFailureSignature)
}

// MessageService is the outbound gateway.
type MessageService struct {
	readiness ReadinessChecker
	sender    MessageSender
	fetcher   MediaFetcher
	eventBus  domain.EventBus
}

// NewMessageService creates the outbound gateway.
func NewMessageService(readiness ReadinessChecker, sender MessageSender, fetcher MediaFetcher, eventBus domain.EventBus) *MessageService {
	return &MessageService{
		readiness: readiness,
		sender:    sender,
		fetcher:   fetcher,
		eventBus:  eventBus,
	}
}

// Send dispatches on the outbound message variant.
func (s *MessageService) Send(ctx context.Context, recipient string, msg channel.OutboundMessage) (channel.SendResult, error) {
	switch m := msg.(type) {
	case channel.TextMessage:
		return s.SendText(ctx, recipient, m.Body)
	case channel.MediaMessage:
		return s.SendMedia(ctx, recipient, m.SourceURL, m.FileName, m.Caption)
	case *channel.TextMessage:
		return s.SendText(ctx, recipient, m.Body)
	case *channel.MediaMessage:
		return s.SendMedia(ctx, recipient, m.SourceURL, m.FileName, m.Caption)
	default:
		return channel.SendResult{}, fmt.Errorf("unsupported outbound message %T", msg)
	}
}

// SendText delivers a text message. Link previews are disabled and the chat
// is not marked as seen.
func (s *MessageService) SendText(ctx context.Context, recipient, body string) (channel.SendResult, error) {
	if !s.readiness.IsReady() {
		return channel.SendResult{}, channel.ErrNotReady
	}
	chatID, err := channel.ParseRecipient(recipient)
	if err != nil {
		return channel.SendResult{}, err
	}

	logger.InfoCF("gateway", "Sending text message", map[string]interface{}{
		"chat_id": chatID,
	})

	id, err := s.sender.SendText(ctx, chatID, body, channel.SendOptions{
		LinkPreview: false,
		MarkSeen:    false,
	})
	if err != nil {
		return channel.SendResult{}, s.failed(chatID, err)
	}
	return s.sent(chatID, id), nil
}

// SendMedia downloads sourceURL and delivers it as a document with caption.
// A cosmetic post-send failure is reported as a check_device result.
func (s *MessageService) SendMedia(ctx context.Context, recipient, sourceURL, fileName, caption string) (channel.SendResult, error) {
	if !s.readiness.IsReady() {
		return channel.SendResult{}, channel.ErrNotReady
	}
	chatID, err := channel.ParseRecipient(recipient)
	if err != nil {
		return channel.SendResult{}, err
	}

	logger.InfoCF("gateway", "Sending document", map[string]interface{}{
		"chat_id":   chatID,
		"file_name": fileName,
	})

	id, err := s.deliverMedia(ctx, chatID, sourceURL, fileName, caption)
	if err != nil {
		if IsCosmeticSendFailure(err) {
			logger.WarnCF("gateway", "Interface error after document send, the file most likely went out", map[string]interface{}{
				"chat_id": chatID,
				"error":   err.Error(),
			})
			return channel.SendResult{
				ChatID:  chatID,
				Status:  channel.DeliveryCheckDevice,
				Details: cosmeticFailureDetails,
			}, nil
		}
		return channel.SendResult{}, s.failed(chatID, err)
	}
	return s.sent(chatID, id), nil
}

func (s *MessageService) deliverMedia(ctx context.Context, chatID, sourceURL, fileName, caption string) (string, error) {
	if s.fetcher == nil {
		return "", fmt.Errorf("no media fetcher configured")
	}
	media, err := s.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	if fileName != "" {
		media.FileName = fileName
	}
	return s.sender.SendMedia(ctx, chatID, *media, channel.SendOptions{
		AsDocument: true,
		MarkSeen:   false,
		Caption:    caption,
	})
}

func (s *MessageService) sent(chatID, messageID string) channel.SendResult {
	logger.InfoCF("gateway", "Message sent", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	s.publish(domain.NewEvent(domain.EventMessageSent, domain.EntityID(chatID), map[string]string{
		"chat_id":    chatID,
		"message_id": messageID,
	}))
	return channel.SendResult{
		MessageID: messageID,
		ChatID:    chatID,
		Status:    channel.DeliverySent,
	}
}

func (s *MessageService) failed(chatID string, cause error) error {
	derr := &channel.DeliveryError{Recipient: chatID, Cause: cause}
	logger.ErrorCF("gateway", "Error sending message", map[string]interface{}{
		"chat_id": chatID,
		"error":   cause.Error(),
	})
	s.publish(domain.NewEvent(domain.EventMessageFailed, domain.EntityID(chatID), map[string]string{
		"chat_id": chatID,
		"error":   cause.Error(),
	}))
	return derr
}

func (s *MessageService) publish(e domain.Event) {
	if s.eventBus != nil {
		s.eventBus.Publish(e)
	}
}
