package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
)

type staticReadiness bool

func (r staticReadiness) IsReady() bool { return bool(r) }

func TestSendTextWhenReady(t *testing.T) {
	transport := newFakeTransport()
	bus, log := newEventLog()
	svc := NewMessageService(staticReadiness(true), transport, &fakeFetcher{}, bus)

	res, err := svc.SendText(context.Background(), "+1 (555) 010-2030", "hello")
	require.NoError(t, err)
	assert.Equal(t, channel.DeliverySent, res.Status)
	assert.Equal(t, "15550102030@c.us", res.ChatID)
	assert.Equal(t, "MSG-1", res.MessageID)
	assert.False(t, res.Advisory())

	require.Len(t, transport.textSends, 1)
	sent := transport.textSends[0]
	assert.Equal(t, "15550102030@c.us", sent.chatID)
	assert.Equal(t, "hello", sent.body)
	assert.False(t, sent.opts.LinkPreview)
	assert.False(t, sent.opts.MarkSeen)
	assert.Equal(t, 1, log.count(domain.EventMessageSent))
}

func TestSendRejectedBeforeReady(t *testing.T) {
	transport := newFakeTransport()
	fetcher := &fakeFetcher{}
	svc := NewMessageService(staticReadiness(false), transport, fetcher, nil)

	_, err := svc.SendText(context.Background(), "15550102030", "hello")
	assert.ErrorIs(t, err, channel.ErrNotReady)

	_, err = svc.SendMedia(context.Background(), "15550102030", "http://x/a.pdf", "a.pdf", "")
	assert.ErrorIs(t, err, channel.ErrNotReady)

	assert.Zero(t, transport.sendCount())
	assert.Empty(t, fetcher.urls)
}

func TestSendRejectsRecipientWithoutDigits(t *testing.T) {
	transport := newFakeTransport()
	svc := NewMessageService(staticReadiness(true), transport, &fakeFetcher{}, nil)

	_, err := svc.SendText(context.Background(), "not-a-number", "hello")
	assert.ErrorIs(t, err, channel.ErrInvalidRecipient)
	assert.Zero(t, transport.sendCount())
}

func TestSendMediaAsDocument(t *testing.T) {
	transport := newFakeTransport()
	fetcher := &fakeFetcher{}
	svc := NewMessageService(staticReadiness(true), transport, fetcher, nil)

	res, err := svc.SendMedia(context.Background(), "5215512345678", "https://files.example/inv.pdf", "invoice.pdf", "Your invoice")
	require.NoError(t, err)
	assert.Equal(t, channel.DeliverySent, res.Status)

	assert.Equal(t, []string{"https://files.example/inv.pdf"}, fetcher.urls)
	require.Len(t, transport.mediaSend, 1)
	sent := transport.mediaSend[0]
	assert.Equal(t, "5215512345678@c.us", sent.chatID)
	assert.Equal(t, "invoice.pdf", sent.media.FileName)
	assert.Equal(t, "application/pdf", sent.media.MimeType)
	assert.True(t, sent.opts.AsDocument)
	assert.False(t, sent.opts.MarkSeen)
	assert.Equal(t, "Your invoice", sent.opts.Caption)
}

func TestSendMediaCosmeticFailureIsAdvisory(t *testing.T) {
	transport := newFakeTransport()
	transport.sendErr = errors.New("Cannot read properties of undefined (reading 'markedUnread')")
	bus, log := newEventLog()
	svc := NewMessageService(staticReadiness(true), transport, &fakeFetcher{}, bus)

	res, err := svc.SendMedia(context.Background(), "5215512345678", "https://files.example/inv.pdf", "invoice.pdf", "")
	require.NoError(t, err)
	assert.Equal(t, channel.DeliveryCheckDevice, res.Status)
	assert.True(t, res.Advisory())
	assert.NotEmpty(t, res.Details)
	assert.Zero(t, log.count(domain.EventMessageFailed))
}

func TestSendFailureBecomesDeliveryError(t *testing.T) {
	transport := newFakeTransport()
	cause := errors.New("socket closed")
	transport.sendErr = cause
	bus, log := newEventLog()
	svc := NewMessageService(staticReadiness(true), transport, &fakeFetcher{}, bus)

	_, err := svc.SendText(context.Background(), "15550102030", "hello")
	var derr *channel.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "15550102030@c.us", derr.Recipient)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, log.count(domain.EventMessageFailed))
}

func TestSendMediaFetchFailure(t *testing.T) {
	transport := newFakeTransport()
	svc := NewMessageService(staticReadiness(true), transport, &fakeFetcher{err: errors.New("fetch media: 404 Not Found")}, nil)

	_, err := svc.SendMedia(context.Background(), "15550102030", "http://x/missing.pdf", "a.pdf", "")
	var derr *channel.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, err.Error(), "404")
	assert.Zero(t, transport.sendCount())
}

func TestSendDispatchesOnMessageVariant(t *testing.T) {
	transport := newFakeTransport()
	svc := NewMessageService(staticReadiness(true), transport, &fakeFetcher{}, nil)

	_, err := svc.Send(context.Background(), "15550102030", channel.TextMessage{Body: "hi"})
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), "15550102030", channel.MediaMessage{SourceURL: "http://x/a.pdf", FileName: "a.pdf"})
	require.NoError(t, err)

	assert.Len(t, transport.textSends, 1)
	assert.Len(t, transport.mediaSend, 1)
}

func TestIsCosmeticSendFailure(t *testing.T) {
	assert.True(t, IsCosmeticSendFailure(errors.New("evaluation failed: markedUnread")))
	assert.False(t, IsCosmeticSendFailure(errors.New("socket closed")))
	assert.False(t, IsCosmeticSendFailure(nil))
}
