package whatsapp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []channel.Event
}

func (r *eventRecorder) handle(evt channel.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) all() []channel.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]channel.Event(nil), r.events...)
}

// scriptedRounds hands out one prepared code stream per pairing round.
type scriptedRounds struct {
	mu     sync.Mutex
	rounds [][]whatsmeow.QRChannelItem
	errs   []error
	opened int
}

func (s *scriptedRounds) open(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.opened
	s.opened++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.rounds) {
		// Nothing left: block until the loop is cancelled.
		return make(chan whatsmeow.QRChannelItem), nil
	}
	ch := make(chan whatsmeow.QRChannelItem, len(s.rounds[i]))
	for _, item := range s.rounds[i] {
		ch <- item
	}
	close(ch)
	return ch, nil
}

func (s *scriptedRounds) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func code(c string) whatsmeow.QRChannelItem {
	return whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: c}
}

func newPairingClient(rec *eventRecorder) *Client {
	c := New(Config{PairingRetryDelay: time.Millisecond})
	c.OnEvent(rec.handle)
	return c
}

func pairingCodes(events []channel.Event) []string {
	var codes []string
	for _, e := range events {
		if e.Kind == channel.EventPairingCode {
			codes = append(codes, e.Code)
		}
	}
	return codes
}

func TestPairingRestartsAfterCodesExpire(t *testing.T) {
	rec := &eventRecorder{}
	c := newPairingClient(rec)
	rounds := &scriptedRounds{rounds: [][]whatsmeow.QRChannelItem{
		{code("A1"), code("A2"), whatsmeow.QRChannelTimeout},
		{code("B1"), whatsmeow.QRChannelSuccess},
	}}

	c.runPairing(context.Background(), rounds.open)

	assert.Equal(t, 2, rounds.count())
	assert.Equal(t, []string{"A1", "A2", "B1"}, pairingCodes(rec.all()))
	for _, e := range rec.all() {
		assert.NotEqual(t, channel.EventDisconnected, e.Kind, "code expiry must not raise a disconnect alert")
	}
}

func TestPairingRetriesWhenRoundFailsToOpen(t *testing.T) {
	rec := &eventRecorder{}
	c := newPairingClient(rec)
	rounds := &scriptedRounds{
		errs: []error{errors.New("dial tcp: connection refused"), nil},
		rounds: [][]whatsmeow.QRChannelItem{
			nil,
			{code("C1"), whatsmeow.QRChannelSuccess},
		},
	}

	c.runPairing(context.Background(), rounds.open)

	assert.Equal(t, 2, rounds.count())
	assert.Equal(t, []string{"C1"}, pairingCodes(rec.all()))
}

func TestPairingErrorReportsAuthFailureAndRetries(t *testing.T) {
	rec := &eventRecorder{}
	c := newPairingClient(rec)
	rounds := &scriptedRounds{rounds: [][]whatsmeow.QRChannelItem{
		{code("D1"), {Event: whatsmeow.QRChannelEventError, Error: errors.New("invalid device identity")}},
		{code("E1"), whatsmeow.QRChannelSuccess},
	}}

	c.runPairing(context.Background(), rounds.open)

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, channel.Event{Kind: channel.EventAuthFailure, Reason: "invalid device identity"}, events[1])
	assert.Equal(t, []string{"D1", "E1"}, pairingCodes(events))
}

func TestPairingStopsOnClientOutdated(t *testing.T) {
	rec := &eventRecorder{}
	c := newPairingClient(rec)
	rounds := &scriptedRounds{rounds: [][]whatsmeow.QRChannelItem{
		{whatsmeow.QRChannelClientOutdated},
		{code("never")},
	}}

	c.runPairing(context.Background(), rounds.open)

	assert.Equal(t, 1, rounds.count())
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, channel.EventAuthFailure, events[0].Kind)
}

func TestPairingStopsWhenCancelled(t *testing.T) {
	c := newPairingClient(&eventRecorder{})
	rounds := &scriptedRounds{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.runPairing(ctx, rounds.open)
		close(done)
	}()

	require.Eventually(t, func() bool { return rounds.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pairing loop did not stop after cancel")
	}
}

func TestPairingDelayBacksOff(t *testing.T) {
	c := New(Config{PairingRetryDelay: time.Second})
	assert.Equal(t, time.Second, c.pairingDelay(0))
	assert.Equal(t, 4*time.Second, c.pairingDelay(2))
	assert.Equal(t, maxPairingDelay, c.pairingDelay(10))
}
