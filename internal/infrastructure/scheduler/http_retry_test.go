package scheduler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

type countingMetrics struct {
	mu     sync.Mutex
	status []string
}

func (m *countingMetrics) ObserveDeliveryAttempt(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = append(m.status, status)
}

var fastPolicy = domain.RetryPolicy{MaxRetries: 3, InitialInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond}

func serve(t *testing.T, statuses ...int) (*httptest.Server, *int32, chan string) {
	t.Helper()
	var calls int32
	bodies := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		bodies <- string(body)
		idx := int(n) - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		w.WriteHeader(statuses[idx])
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, bodies
}

func TestScheduleRetriesTransientFailures(t *testing.T) {
	srv, calls, bodies := serve(t, http.StatusServiceUnavailable, http.StatusLocked, http.StatusOK)
	m := &countingMetrics{}
	s := NewHTTPRetryScheduler(nil, m, zap.NewNop())

	err := s.Schedule(context.Background(), domain.CallbackRequest{URL: srv.URL, Payload: []byte(`{"intentId":"a"}`), Policy: fastPolicy})
	require.NoError(t, err)
	assert.Equal(t, `{"intentId":"a"}`, <-bodies)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(calls) == 3 }, time.Second, 5*time.Millisecond)
	s.Close()
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	assert.Equal(t, []string{"5xx", "4xx", "2xx"}, m.status)
}

func TestScheduleStopsOnTerminalStatus(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusNotFound, http.StatusForbidden, http.StatusUnprocessableEntity} {
		srv, calls, _ := serve(t, status)
		s := NewHTTPRetryScheduler(nil, nil, zap.NewNop())
		require.NoError(t, s.Schedule(context.Background(), domain.CallbackRequest{URL: srv.URL, Policy: fastPolicy}))

		time.Sleep(60 * time.Millisecond)
		s.Close()
		assert.Equal(t, int32(1), atomic.LoadInt32(calls), "status %d", status)
	}
}

func TestScheduleGivesUpAfterMaxRetries(t *testing.T) {
	srv, calls, _ := serve(t, http.StatusInternalServerError)
	s := NewHTTPRetryScheduler(nil, nil, zap.NewNop())
	require.NoError(t, s.Schedule(context.Background(), domain.CallbackRequest{URL: srv.URL, Policy: fastPolicy}))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(calls) == 4 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	s.Close()
	assert.Equal(t, int32(4), atomic.LoadInt32(calls))
}

func TestScheduleRejectsBadURL(t *testing.T) {
	s := NewHTTPRetryScheduler(nil, nil, zap.NewNop())
	defer s.Close()
	err := s.Schedule(context.Background(), domain.CallbackRequest{URL: "not a url"})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestCloseAbandonsPendingRetries(t *testing.T) {
	srv, calls, _ := serve(t, http.StatusServiceUnavailable)
	s := NewHTTPRetryScheduler(nil, nil, zap.NewNop())
	slow := domain.RetryPolicy{MaxRetries: 5, InitialInterval: time.Hour, MaxInterval: time.Hour}
	require.NoError(t, s.Schedule(context.Background(), domain.CallbackRequest{URL: srv.URL, Policy: slow}))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(calls) == 1 }, time.Second, 5*time.Millisecond)
	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on pending retry")
	}
	assert.Error(t, s.Schedule(context.Background(), domain.CallbackRequest{URL: srv.URL}))
}
