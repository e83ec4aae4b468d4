package app

import (
	"context"
	"errors"
	"sync"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/infrastructure/eventbus"
)

// fakeTransport implements channel.Transport for tests.
type fakeTransport struct {
	mu       sync.Mutex
	state    string
	stateErr error
	probes   int

	sendErr   error
	textSends []textSend
	mediaSend []mediaSend
	contacts  map[string]string
	handlers  []channel.EventHandler
}

type textSend struct {
	chatID string
	body   string
	opts   channel.SendOptions
}

type mediaSend struct {
	chatID string
	media  channel.Media
	opts   channel.SendOptions
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: "OPENING", contacts: map[string]string{}}
}

func (f *fakeTransport) Connect(ctx context.Context) error    { return nil }
func (f *fakeTransport) Disconnect(ctx context.Context) error { return nil }

func (f *fakeTransport) OnEvent(h channel.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeTransport) emit(evt channel.Event) {
	f.mu.Lock()
	handlers := append([]channel.EventHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (f *fakeTransport) State(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.state, f.stateErr
}

func (f *fakeTransport) setState(state string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.stateErr = err
}

func (f *fakeTransport) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

func (f *fakeTransport) SendText(ctx context.Context, chatID, body string, opts channel.SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textSends = append(f.textSends, textSend{chatID: chatID, body: body, opts: opts})
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "MSG-1", nil
}

func (f *fakeTransport) SendMedia(ctx context.Context, chatID string, media channel.Media, opts channel.SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mediaSend = append(f.mediaSend, mediaSend{chatID: chatID, media: media, opts: opts})
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "MSG-2", nil
}

func (f *fakeTransport) ContactName(ctx context.Context, chatID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.contacts[chatID]
	if !ok {
		return "", errors.New("contact not found")
	}
	return name, nil
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.textSends) + len(f.mediaSend)
}

var _ channel.Transport = (*fakeTransport)(nil)

// recordingNotifier captures webhook payloads.
type recordingNotifier struct {
	mu       sync.Mutex
	payloads []interface{}
}

func (n *recordingNotifier) Notify(ctx context.Context, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, payload)
}

func (n *recordingNotifier) all() []interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]interface{}(nil), n.payloads...)
}

// fakeFetcher returns canned media.
type fakeFetcher struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*channel.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &channel.Media{Data: []byte("%PDF-1.7"), MimeType: "application/pdf", FileName: "remote.pdf"}, nil
}

// eventLog records every domain event published on a real bus.
type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func newEventLog() (*eventbus.InProcessEventBus, *eventLog) {
	b := eventbus.New()
	l := &eventLog{}
	b.SubscribeAll(func(e domain.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, e)
	})
	return b, l
}

func (l *eventLog) count(t domain.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}
