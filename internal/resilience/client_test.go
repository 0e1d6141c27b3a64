package resilience_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordontrips/cordontrips/internal/resilience"
)

func fastConfig(name string) resilience.ClientConfig {
	breaker := resilience.DefaultBreakerConfig(name)
	breaker.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.Requests >= 100 }
	return resilience.ClientConfig{
		Name:            name,
		Logger:          zerolog.Nop(),
		Timeout:         5 * time.Second,
		MaxRetries:      5,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Breaker:         &breaker,
	}
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<network/>"))
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("ok"))
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "<network/>", string(body))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("retry"))
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastConfig("exhaust")
	cfg.MaxRetries = 2
	client := resilience.NewClient(cfg)

	_, err := client.Get(context.Background(), server.URL)
	assert.ErrorIs(t, err, resilience.ErrMaxRetriesExceeded)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("404"))
	_, err := client.Get(context.Background(), server.URL)

	assert.ErrorIs(t, err, resilience.ErrUnexpectedStatus)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_CircuitOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := resilience.DefaultBreakerConfig("trip")
	breaker.Timeout = time.Minute
	client := resilience.NewClient(resilience.ClientConfig{
		Name:            "trip",
		Logger:          zerolog.Nop(),
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Breaker:         &breaker,
	})

	for i := 0; i < 2; i++ {
		_, _ = client.Get(context.Background(), server.URL)
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())

	_, err := client.Get(context.Background(), server.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestTripOnFailureRatio(t *testing.T) {
	assert.False(t, resilience.TripOnFailureRatio(gobreaker.Counts{Requests: 2, TotalFailures: 2}))
	assert.True(t, resilience.TripOnFailureRatio(gobreaker.Counts{Requests: 4, TotalFailures: 2}))
	assert.False(t, resilience.TripOnFailureRatio(gobreaker.Counts{Requests: 4, TotalFailures: 1}))
}
