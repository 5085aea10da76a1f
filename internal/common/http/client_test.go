package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSON_RetriesServerErrorsWithFreshBody(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ping", body["msg"])
		assert.Equal(t, "secret", r.Header.Get("Authorization"))

		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"msg":"pong"}`))
	}))
	defer server.Close()

	client := NewClient(time.Second, 3).WithBackoff(time.Millisecond)

	var out map[string]string
	err := client.DoJSON(context.Background(), http.MethodPost, server.URL,
		map[string]string{"Authorization": "secret"}, map[string]string{"msg": "ping"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "pong", out["msg"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoJSON_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	client := NewClient(time.Second, 3).WithBackoff(time.Millisecond)
	err := client.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil, nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoJSON_ExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(time.Second, 1).WithBackoff(time.Millisecond)
	err := client.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil, nil)

	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestDoJSON_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := NewClient(5*time.Second, 2).WithBackoff(time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.DoJSON(ctx, http.MethodGet, server.URL, nil, nil, nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDoJSON_InvalidJSONIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := NewClient(time.Second, 3).WithBackoff(time.Millisecond)
	var out map[string]interface{}
	err := client.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil, &out)

	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
