package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

// DeliveryMetrics is satisfied by *metrics.CreditMetrics.
type DeliveryMetrics interface {
	ObserveDeliveryAttempt(status string)
}

// HTTPRetryScheduler delivers callbacks with at-least-once semantics inside
// this process: the first attempt is immediate, failures are retried with
// exponential backoff until the policy is exhausted. Pending deliveries die
// with the process; the incomplete intent remains visible to operators.
type HTTPRetryScheduler struct {
	client  *http.Client
	metrics DeliveryMetrics
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHTTPRetryScheduler(client *http.Client, metrics DeliveryMetrics, logger *zap.Logger) *HTTPRetryScheduler {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Minute}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPRetryScheduler{
		client:  client,
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *HTTPRetryScheduler) Schedule(_ context.Context, req domain.CallbackRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: callback url %q", domain.ErrInvalidParameter, req.URL)
	}
	if s.ctx.Err() != nil {
		return errors.New("scheduler closed")
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(req)
	}()
	return nil
}

// Close abandons pending retries and waits for in-flight attempts.
func (s *HTTPRetryScheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

func newBackOff(policy domain.RetryPolicy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	retries := policy.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}

func (s *HTTPRetryScheduler) deliver(req domain.CallbackRequest) {
	attempt := 0
	op := func() error {
		attempt++
		return s.post(req)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("Callback delivery failed, retrying",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("next_in", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(newBackOff(req.Policy), s.ctx), notify)
	if err != nil {
		s.logger.Error("Callback abandoned",
			zap.String("url", req.URL),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return
	}
	s.logger.Info("Callback delivered", zap.String("url", req.URL), zap.Int("attempts", attempt))
}

// StatusError is a callback answered with a non-success status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("callback returned %d: %s", e.Status, e.Body)
}

// retryable reports whether the callback asked to be delivered again.
func retryable(status int) bool {
	return status == http.StatusLocked || status == http.StatusTooManyRequests || status >= 500
}

func (s *HTTPRetryScheduler) post(req domain.CallbackRequest) error {
	httpReq, err := http.NewRequestWithContext(s.ctx, http.MethodPost, req.URL, bytes.NewReader(req.Payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.observe("error")
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	s.observe(strconv.Itoa(resp.StatusCode/100) + "xx")
	if resp.StatusCode < 300 {
		return nil
	}
	statusErr := &StatusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	if retryable(resp.StatusCode) {
		return statusErr
	}
	return backoff.Permanent(statusErr)
}

func (s *HTTPRetryScheduler) observe(status string) {
	if s.metrics != nil {
		s.metrics.ObserveDeliveryAttempt(status)
	}
}
