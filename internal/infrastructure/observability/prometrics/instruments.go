package prometrics

import (
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

type counterSpec struct {
	help   string
	labels []string
}

type histogramSpec struct {
	help    string
	buckets []float64
	labels  []string
}

var counterSpecs = map[observability.MetricKey]counterSpec{
	observability.MUsecaseRequests:         {"Total number of use case invocations.", []string{"use_case", "outcome"}},
	observability.MHTTPRequests:            {"Total number of HTTP requests.", []string{"method", "route", "status"}},
	observability.MExternalRequests:        {"Total number of calls to collaborators.", []string{"peer", "endpoint", "outcome"}},
	observability.MSagaCompensations:       {"Stock re-credits attempted after a failed order write.", []string{"outcome"}},
	observability.MStockReservationRetries: {"Conditional stock decrements retried after a conflict.", []string{"operation"}},
	observability.MCatalogCacheLookups:     {"Catalog cache lookups by result.", []string{"result"}},
	observability.MNotificationsPublished:  {"Order notifications handed to the notifier.", []string{"topic", "outcome"}},
}

var histogramSpecs = map[observability.MetricKey]histogramSpec{
	observability.MUsecaseDuration:         {"Duration of use case execution in seconds.", prometheus.DefBuckets, []string{"use_case"}},
	observability.MHTTPRequestDuration:     {"Duration of HTTP requests in seconds.", prometheus.DefBuckets, []string{"method", "route"}},
	observability.MExternalRequestDuration: {"Duration of collaborator calls in seconds.", prometheus.DefBuckets, []string{"peer", "endpoint"}},
}

// Metrics is an observability.Metrics with every application instrument
// registered up front.
type Metrics struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func NewMetrics(r Registry) *Metrics {
	m := &Metrics{
		counters:   make(map[observability.MetricKey]observability.Counter, len(counterSpecs)),
		histograms: make(map[observability.MetricKey]observability.Histogram, len(histogramSpecs)),
	}
	for key, spec := range counterSpecs {
		m.counters[key] = r.Counter(string(key), spec.help, spec.labels...)
	}
	for key, spec := range histogramSpecs {
		m.histograms[key] = r.Histogram(string(key), spec.help, spec.buckets, spec.labels...)
	}
	return m
}

// Counter returns a no-op counter for keys that were never registered.
func (m *Metrics) Counter(name observability.MetricKey) observability.Counter {
	if c, ok := m.counters[name]; ok {
		return c
	}
	return observability.NopCounter()
}

func (m *Metrics) Histogram(name observability.MetricKey) observability.Histogram {
	if h, ok := m.histograms[name]; ok {
		return h
	}
	return observability.NopHistogram()
}
