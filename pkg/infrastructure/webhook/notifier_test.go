package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
)

func TestDeliverPostsJSONWithAPIKey(t *testing.T) {
	var (
		gotKey  string
		gotType string
		gotReq  string
		gotBody channel.DisconnectAlert
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotKey = r.Header.Get("apikey")
		gotType = r.Header.Get("Content-Type")
		gotReq = r.Header.Get("X-Request-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(Config{URL: srv.URL, APIKey: "secret"})
	err := n.Deliver(context.Background(), channel.DisconnectAlert{
		Event:  channel.DisconnectedEvent,
		Reason: "LOGOUT",
	})
	require.NoError(t, err)

	assert.Equal(t, "secret", gotKey)
	assert.Contains(t, gotType, "application/json")
	assert.NotEmpty(t, gotReq)
	assert.Equal(t, "device.disconnected", gotBody.Event)
	assert.Equal(t, "LOGOUT", gotBody.Reason)
}

func TestDeliverReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier(Config{URL: srv.URL})
	err := n.Deliver(context.Background(), map[string]string{"a": "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNotifySwallowsFailures(t *testing.T) {
	n := NewNotifier(Config{URL: "http://127.0.0.1:1/unreachable", Timeout: 200 * time.Millisecond})
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), map[string]string{"a": "b"})
	})
}

func TestDisabledNotifierSendsNothing(t *testing.T) {
	n := NewNotifier(Config{})
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Deliver(context.Background(), map[string]string{}))
}

func TestDeliverIsSingleAttempt(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := NewNotifier(Config{URL: srv.URL})
	n.Notify(context.Background(), channel.InboundEvent{From: "1@c.us"})
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestSetAPIKeyReplacesHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(APIKeyHeader)
	}))
	defer srv.Close()

	n := NewNotifier(Config{URL: srv.URL, APIKey: "old"})
	n.SetAPIKey("generated")
	require.NoError(t, n.Deliver(context.Background(), map[string]string{}))
	assert.Equal(t, "generated", got)
}
