package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain"
)

func TestPublishOrderTypedThenGlobal(t *testing.T) {
	b := New()
	var got []string
	b.SubscribeAll(func(domain.Event) { got = append(got, "all") })
	b.Subscribe(domain.EventSessionReady, func(domain.Event) { got = append(got, "typed") })
	b.Subscribe(domain.EventDisconnected, func(domain.Event) { got = append(got, "other") })

	b.Publish(domain.NewEvent(domain.EventSessionReady, "s1", nil))

	assert.Equal(t, []string{"typed", "all"}, got)
	assert.Equal(t, 3, b.HandlerCount())
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	b := New()
	called := false
	b.SubscribeAll(func(domain.Event) { panic("boom") })
	b.SubscribeAll(func(domain.Event) { called = true })

	assert.NotPanics(t, func() {
		b.Publish(domain.NewEvent(domain.EventAuthFailed, "s1", nil))
	})
	assert.True(t, called)
}

func TestClosedBusDropsEvents(t *testing.T) {
	b := New()
	n := 0
	b.SubscribeAll(func(domain.Event) { n++ })
	b.Close()
	b.PublishAll([]domain.Event{
		domain.NewEvent(domain.EventSessionReady, "s1", nil),
		domain.NewEvent(domain.EventDisconnected, "s1", nil),
	})
	assert.Zero(t, n)
}

func TestHandlerMaySubscribeDuringPublish(t *testing.T) {
	b := New()
	b.SubscribeAll(func(domain.Event) {
		b.Subscribe(domain.EventMessageSent, func(domain.Event) {})
	})
	assert.NotPanics(t, func() {
		b.Publish(domain.NewEvent(domain.EventSessionReady, "s1", nil))
	})
	assert.Equal(t, 2, b.HandlerCount())
}
