package prometrics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry hands out the order service's Prometheus vectors by name.
type Registry interface {
	Counter(name string, help string, labelKeys ...string) observability.Counter
	Histogram(name string, help string, buckets []float64, labelKeys ...string) observability.Histogram
}

// registry remembers each vector with the label keys it was declared with.
// Asking again for a name returns the first vector; so does registering a
// name another registry already put on the same Registerer.
type registry struct {
	reg       prometheus.Registerer
	namespace string
	subsystem string

	mu         sync.Mutex
	counters   map[string]*counter
	histograms map[string]*histogram
}

// New registers instruments on reg, or on the default registerer when reg is
// nil.
func New(reg prometheus.Registerer, namespace, subsystem string) Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &registry{
		reg:        reg,
		namespace:  namespace,
		subsystem:  subsystem,
		counters:   make(map[string]*counter),
		histograms: make(map[string]*histogram),
	}
}

func (r *registry) Counter(name string, help string, labelKeys ...string) observability.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: name, Help: help,
	}, labelKeys)
	c := &counter{vec: register(r.reg, vec), keys: labelKeys}
	r.counters[name] = c
	return c
}

func (r *registry) Histogram(name string, help string, buckets []float64, labelKeys ...string) observability.Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histograms[name]; ok {
		return h
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labelKeys)
	h := &histogram{vec: register(r.reg, vec), keys: labelKeys}
	r.histograms[name] = h
	return h
}

// register panics on anything but a duplicate: a clash in label keys or
// help text is a wiring bug.
func register[V prometheus.Collector](reg prometheus.Registerer, vec V) V {
	err := reg.Register(vec)
	if err == nil {
		return vec
	}
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		if existing, ok := dup.ExistingCollector.(V); ok {
			return existing
		}
	}
	panic(fmt.Sprintf("prometrics: register: %v", err))
}

type counter struct {
	vec  *prometheus.CounterVec
	keys []string
}

func (c *counter) Add(d float64, labels ...observability.Label) {
	c.vec.WithLabelValues(labelValues(c.keys, labels)...).Add(d)
}

func (c *counter) Bind(labels ...observability.Label) observability.BoundCounter {
	return boundCounter{c.vec.WithLabelValues(labelValues(c.keys, labels)...)}
}

type boundCounter struct{ c prometheus.Counter }

func (b boundCounter) Add(d float64) { b.c.Add(d) }

type histogram struct {
	vec  *prometheus.HistogramVec
	keys []string
}

func (h *histogram) Observe(v float64, labels ...observability.Label) {
	h.vec.WithLabelValues(labelValues(h.keys, labels)...).Observe(v)
}

func (h *histogram) Bind(labels ...observability.Label) observability.BoundHistogram {
	return boundHistogram{h.vec.WithLabelValues(labelValues(h.keys, labels)...)}
}

type boundHistogram struct{ o prometheus.Observer }

func (b boundHistogram) Observe(v float64) { b.o.Observe(v) }

// labelValues orders labels by the declared keys. Missing keys export as
// empty and undeclared ones are dropped, so a call site can never panic the
// vector.
func labelValues(keys []string, labels []observability.Label) []string {
	out := make([]string, len(keys))
	for _, l := range labels {
		for i, k := range keys {
			if k == l.Key {
				out[i] = l.Value
				break
			}
		}
	}
	return out
}
