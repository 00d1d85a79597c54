package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteComputeTotal counts pricing computations by outcome.
	QuoteComputeTotal *prometheus.CounterVec
	// QuoteComputeDuration records end-to-end pricing latency in milliseconds.
	QuoteComputeDuration prometheus.Histogram
	// QuoteFinalizedTotal counts quote finalizations by outcome.
	QuoteFinalizedTotal *prometheus.CounterVec
	// PricingGapTotal counts refused computations caused by missing table data.
	PricingGapTotal *prometheus.CounterVec
	// RatesheetFetchTotal counts rate sheet lookups by source and outcome.
	RatesheetFetchTotal *prometheus.CounterVec
	// WebhookDeliveriesTotal tracks webhook dispatch outcomes.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// WebhookAttemptLatency records delivery attempt latency in milliseconds.
	WebhookAttemptLatency *prometheus.HistogramVec
	// WebhookDispatchAttempts counts dispatcher attempts regardless of outcome.
	WebhookDispatchAttempts prometheus.Counter
	// WebhookDispatchDLQ counts deliveries moved to dead-letter queue.
	WebhookDispatchDLQ prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteComputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_compute_total",
			Help:      "Count of quote pricing computations by outcome.",
		}, []string{"result"})
		QuoteComputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_compute_duration_ms",
			Help:      "Latency of a full pricing computation in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		})
		QuoteFinalizedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_finalized_total",
			Help:      "Count of quote finalizations by outcome.",
		}, []string{"result"})
		PricingGapTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_gap_total",
			Help:      "Count of computations refused because table data was missing.",
		}, []string{"style"})
		RatesheetFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratesheet_fetch_total",
			Help:      "Count of rate sheet lookups by source and outcome.",
		}, []string{"source", "result"})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of webhook delivery outcomes.",
		}, []string{"result"})
		WebhookAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_ms",
			Help:      "Latency for webhook delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		WebhookDispatchAttempts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_dispatch_attempts_total",
			Help:      "Total number of webhook dispatch attempts.",
		})
		WebhookDispatchDLQ = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_dispatch_dlq_total",
			Help:      "Number of webhook deliveries moved to the dead-letter queue.",
		})

		mustRegisterCollector(reg, QuoteComputeTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteComputeTotal = v
			}
		})
		mustRegisterCollector(reg, QuoteComputeDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				QuoteComputeDuration = v
			}
		})
		mustRegisterCollector(reg, QuoteFinalizedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteFinalizedTotal = v
			}
		})
		mustRegisterCollector(reg, PricingGapTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PricingGapTotal = v
			}
		})
		mustRegisterCollector(reg, RatesheetFetchTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RatesheetFetchTotal = v
			}
		})
		mustRegisterCollector(reg, WebhookDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, WebhookAttemptLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				WebhookAttemptLatency = v
			}
		})
		mustRegisterCollector(reg, WebhookDispatchAttempts, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				WebhookDispatchAttempts = v
			}
		})
		mustRegisterCollector(reg, WebhookDispatchDLQ, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				WebhookDispatchDLQ = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
