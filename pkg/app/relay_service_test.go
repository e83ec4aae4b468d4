package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/bus"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
)

func TestRelayForwardsDirectMessage(t *testing.T) {
	transport := newFakeTransport()
	transport.contacts["15550102030@c.us"] = "Ana"
	notifier := &recordingNotifier{}
	eb, log := newEventLog()
	relay := NewRelayService(notifier, transport, eb)

	ok := relay.Handle(context.Background(), channel.InboundMessage{
		From:      "15550102030@c.us",
		Body:      "hola",
		PushName:  "ana_phone",
		Timestamp: 1700000000,
		Type:      "chat",
	})
	require.True(t, ok)

	payloads := notifier.all()
	require.Len(t, payloads, 1)
	assert.Equal(t, channel.InboundEvent{
		From:      "15550102030@c.us",
		Body:      "hola",
		PushName:  "Ana",
		Timestamp: 1700000000,
		Type:      "chat",
	}, payloads[0])
	assert.Equal(t, 1, log.count(domain.EventMessageReceived))
}

func TestRelayDropsGroupMessages(t *testing.T) {
	notifier := &recordingNotifier{}
	relay := NewRelayService(notifier, newFakeTransport(), nil)

	assert.False(t, relay.Handle(context.Background(), channel.InboundMessage{From: "120363000000000000@g.us", Body: "hi all"}))
	assert.False(t, relay.Handle(context.Background(), channel.InboundMessage{From: "15550102030@c.us", IsGroup: true}))
	assert.Empty(t, notifier.all())
}

func TestRelayDisplayNameFallbacks(t *testing.T) {
	notifier := &recordingNotifier{}
	relay := NewRelayService(notifier, newFakeTransport(), nil)

	relay.Handle(context.Background(), channel.InboundMessage{From: "1@c.us", PushName: "Pat"})
	relay.Handle(context.Background(), channel.InboundMessage{From: "2@c.us"})

	payloads := notifier.all()
	require.Len(t, payloads, 2)
	assert.Equal(t, "Pat", payloads[0].(channel.InboundEvent).PushName)
	assert.Equal(t, UnknownSender, payloads[1].(channel.InboundEvent).PushName)
}

func TestRelayRunConsumesBus(t *testing.T) {
	notifier := &recordingNotifier{}
	relay := NewRelayService(notifier, nil, nil)
	mb := bus.NewMessageBus()

	done := make(chan error, 1)
	go func() { done <- relay.Run(context.Background(), mb) }()

	mb.PublishInbound(bus.InboundMessage{Message: channel.InboundMessage{From: "1@c.us", Body: "a"}})
	mb.PublishInbound(bus.InboundMessage{Message: channel.InboundMessage{From: "1@g.us", Body: "b"}})
	mb.PublishInbound(bus.InboundMessage{Message: channel.InboundMessage{From: "2@c.us", Body: "c"}})

	require.Eventually(t, func() bool { return len(notifier.all()) == 2 }, time.Second, time.Millisecond)
	mb.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after bus close")
	}
}
