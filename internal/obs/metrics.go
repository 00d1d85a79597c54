package obs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics bundles the server-level Prometheus collectors.
type HTTPMetrics struct {
	ReqTotal *prometheus.CounterVec
	ReqDur   *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics builds and registers the HTTP collectors. A nil
// registry registers on the default one; re-registration reuses the
// existing collectors so tests can call this repeatedly.
func NewHTTPMetrics(namespace string, buckets []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}
	} else {
		sort.Float64s(buckets)
	}
	m := &HTTPMetrics{
		ReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		ReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   buckets,
		}, []string{"method", "route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}
	registerHTTPMetrics(reg, m)
	return m
}

// ParseBucketsCSV turns "5,25,100" into histogram bucket boundaries
// (milliseconds), skipping anything unparsable or non-positive.
func ParseBucketsCSV(csv string) []float64 {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var out []float64
	for _, part := range strings.Split(csv, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// DurationMillis converts a duration to float milliseconds.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func registerHTTPMetrics(reg prometheus.Registerer, m *HTTPMetrics) {
	if err := reg.Register(m.ReqTotal); err != nil {
		var are prometheus.AlreadyRegisteredError
		if asRegistered(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.ReqTotal = existing
			}
		} else {
			panic(fmt.Errorf("register counter: %w", err))
		}
	}
	if err := reg.Register(m.ReqDur); err != nil {
		var are prometheus.AlreadyRegisteredError
		if asRegistered(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.ReqDur = existing
			}
		} else {
			panic(fmt.Errorf("register histogram: %w", err))
		}
	}
	if err := reg.Register(m.InFlight); err != nil {
		var are prometheus.AlreadyRegisteredError
		if asRegistered(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				m.InFlight = existing
			}
		} else {
			panic(fmt.Errorf("register gauge: %w", err))
		}
	}
}

func asRegistered(err error, target *prometheus.AlreadyRegisteredError) bool {
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if ok {
		*target = are
	}
	return ok
}
