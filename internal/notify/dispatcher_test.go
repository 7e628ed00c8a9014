package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-statuswatch/internal/utils"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func newTestDispatcher(url string, sleeps *sleepRecorder) *WebhookDispatcher {
	policy := DefaultRetry
	policy.Sleep = sleeps.sleep
	return NewWebhookDispatcher(url, time.Second, WithRetry(policy))
}

func TestSendSucceedsOnThirdAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "application/json"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["text"])

		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"spaces/x/messages/y"}`)
	}))
	defer server.Close()

	sleeps := &sleepRecorder{}
	err := newTestDispatcher(server.URL, sleeps).Send(context.Background(), map[string]string{"text": "hello"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
}

func TestSendReturnsFinalFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, "bad card, attempt %d", n)
	}))
	defer server.Close()

	err := newTestDispatcher(server.URL, &sleepRecorder{}).Send(context.Background(), map[string]string{})
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())

	var dispatchErr *DispatchError
	require.True(t, errors.As(err, &dispatchErr))
	assert.Equal(t, http.StatusBadRequest, dispatchErr.StatusCode)
	assert.Equal(t, "400 Bad Request", dispatchErr.Status)
	assert.Equal(t, "bad card, attempt 3", dispatchErr.Body)
	assert.NotContains(t, err.Error(), server.URL)
}

func TestSendRejectsMalformedAcknowledgment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, "<html>oops</html>")
	}))
	defer server.Close()

	err := newTestDispatcher(server.URL, &sleepRecorder{}).Send(context.Background(), map[string]string{})
	var dispatchErr *DispatchError
	require.True(t, errors.As(err, &dispatchErr))
	assert.EqualError(t, dispatchErr.Err, "malformed acknowledgment")
}

func TestSendAcceptsNonJSONAcknowledgment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	assert.NoError(t, newTestDispatcher(server.URL, &sleepRecorder{}).Send(context.Background(), map[string]string{}))
}

func TestSendHidesWebhookURLOnTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL + "/v1/spaces/AAA/messages?key=secret"
	server.Close()

	policy := utils.RetryPolicy{MaxAttempts: 1}
	err := NewWebhookDispatcher(url, time.Second, WithRetry(policy)).Send(context.Background(), map[string]string{})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestSendWithoutURL(t *testing.T) {
	err := NewWebhookDispatcher("  ", time.Second).Send(context.Background(), nil)
	var dispatchErr *DispatchError
	assert.ErrorAs(t, err, &dispatchErr)
}
