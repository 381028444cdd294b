// Package metrics defines the Prometheus collectors exported by the service.
//
// Collectors are registered on a caller supplied prometheus.Registerer so
// tests can use a private registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "poschodech"

// Refresh results
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Metrics struct {
	// gRPC host surface
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec

	// refresh cycle
	Refreshes       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	LastSuccess     prometheus.Gauge
	Records         prometheus.Gauge

	// upstream API
	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec

	// one series per Record Key
	MeterState *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC requests by method and status code.",
		}, []string{"method", "code"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Refresh cycles by result.",
		}, []string{"result"}),
		RefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of refresh cycles.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_refresh_timestamp_seconds",
			Help:      "Unix time of the last successful refresh.",
		}),
		Records: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_records",
			Help:      "Number of records in the current snapshot.",
		}),
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests sent to the metering API by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of requests sent to the metering API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		MeterState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "meter_state",
			Help:      "Latest meter state (StateTo) per meter.",
		}, []string{"key", "unit", "device_class"}),
	}
}

// ObserveUpstreamRequest records one call to the metering API.
func (m *Metrics) ObserveUpstreamRequest(endpoint string, statusCode int, duration time.Duration) {
	code := "error"
	if statusCode != 0 {
		code = strconv.Itoa(statusCode)
	}
	m.UpstreamRequests.WithLabelValues(endpoint, code).Inc()
	m.UpstreamLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRefresh records the outcome of one refresh cycle.
func (m *Metrics) ObserveRefresh(err error, duration time.Duration, records int, at time.Time) {
	m.RefreshDuration.Observe(duration.Seconds())
	if err != nil {
		m.Refreshes.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.Refreshes.WithLabelValues(ResultSuccess).Inc()
	m.LastSuccess.Set(float64(at.Unix()))
	m.Records.Set(float64(records))
}

// SetMeterState publishes the value of one meter.
func (m *Metrics) SetMeterState(key, unit, deviceClass string, value float64) {
	m.MeterState.WithLabelValues(key, unit, deviceClass).Set(value)
}

// ClearMeterState removes every series of one meter.
func (m *Metrics) ClearMeterState(key string) {
	m.MeterState.DeletePartialMatch(prometheus.Labels{"key": key})
}
