package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CreditMetrics tracks intent execution. A nil *CreditMetrics is a valid no-op.
type CreditMetrics struct {
	intentsSubmitted *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec
	lockContention   prometheus.Counter
	schedulerRetries *prometheus.CounterVec
	feesCollected    prometheus.Counter
}

var (
	creditOnce     sync.Once
	creditRegistry *CreditMetrics
)

// Credit returns the process-wide metrics registered with the default registry.
func Credit() *CreditMetrics {
	creditOnce.Do(func() {
		creditRegistry = newCreditMetrics()
		prometheus.MustRegister(
			creditRegistry.intentsSubmitted,
			creditRegistry.callbacks,
			creditRegistry.callbackDuration,
			creditRegistry.lockContention,
			creditRegistry.schedulerRetries,
			creditRegistry.feesCollected,
		)
	})
	return creditRegistry
}

func newCreditMetrics() *CreditMetrics {
	return &CreditMetrics{
		intentsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_intents_submitted_total",
			Help: "Intents created and handed to the scheduler, by kind.",
		}, []string{"kind"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_callbacks_total",
			Help: "Callback executions by kind and result.",
		}, []string{"kind", "result"}),
		callbackDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_callback_duration_seconds",
			Help:    "Wall time of callback executions including confirmation waits.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credit_lock_contention_total",
			Help: "Callbacks rejected because the wallet lock was held.",
		}),
		schedulerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_scheduler_attempts_total",
			Help: "Callback delivery attempts by final status class.",
		}, []string{"status"}),
		feesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credit_fees_collected_usd",
			Help: "Rake collected into the treasury, in USD.",
		}),
	}
}

func (m *CreditMetrics) ObserveIntentSubmitted(kind string) {
	if m == nil {
		return
	}
	m.intentsSubmitted.WithLabelValues(label(kind)).Inc()
}

func (m *CreditMetrics) ObserveCallback(kind, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(label(kind), label(result)).Inc()
	m.callbackDuration.WithLabelValues(label(kind)).Observe(elapsed.Seconds())
}

func (m *CreditMetrics) IncLockContention() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

func (m *CreditMetrics) ObserveDeliveryAttempt(status string) {
	if m == nil {
		return
	}
	m.schedulerRetries.WithLabelValues(label(status)).Inc()
}

func (m *CreditMetrics) AddFeeCollected(usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.feesCollected.Add(usd)
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
