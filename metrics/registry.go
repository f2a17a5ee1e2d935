// Package metrics implements the Metric Registry & Exposer: a counter/
// gauge/histogram store keyed by label set, with expiry for transient
// gauges, rendered over HTTP in Prometheus text format.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// backendLabel is the label every series carries in addition to whatever
// the query's metadata_columns contribute (§3).
const backendLabel = "backend"

type vecEntry struct {
	labelNames []string
	counterVec *prometheus.CounterVec
	gaugeVec   *prometheus.GaugeVec
	histoVec   *prometheus.HistogramVec
}

// Registry holds every metric series pgstatsmon exposes. It is the one
// piece of process-wide shared mutable state the Collection Engine touches
// from multiple worker goroutines concurrently; every public method is safe
// for concurrent use.
type Registry struct {
	promReg     *prometheus.Registry
	fixedLabels map[string]string

	mu         sync.Mutex
	counters   map[string]*vecEntry
	gauges     map[string]*vecEntry
	histograms map[string]*vecEntry

	expiryMu sync.Mutex
	expiry   map[string]*expirySeries

	stop chan struct{}
	once sync.Once
}

type expirySeries struct {
	vec        *prometheus.GaugeVec
	labelNames []string
	labels     map[string]string
	lastSet    time.Time
	period     time.Duration
}

// New builds an empty Registry. fixedLabels are applied to every series
// (the configuration's target.metadata, per §6).
func New(fixedLabels map[string]string) *Registry {
	r := &Registry{
		promReg:     prometheus.NewRegistry(),
		fixedLabels: fixedLabels,
		counters:    make(map[string]*vecEntry),
		gauges:      make(map[string]*vecEntry),
		histograms:  make(map[string]*vecEntry),
		expiry:      make(map[string]*expirySeries),
		stop:        make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Stop halts the background gauge-expiry sweep.
func (r *Registry) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// Gatherer exposes the underlying prometheus.Registry for the HTTP exposer.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.promReg }

func (r *Registry) mergedLabelNames(labels map[string]string) []string {
	set := make(map[string]bool, len(labels)+len(r.fixedLabels)+1)
	set[backendLabel] = true
	for k := range labels {
		set[k] = true
	}
	for k := range r.fixedLabels {
		set[k] = true
	}

	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) labelValues(labelNames []string, labels map[string]string) []string {
	values := make([]string, len(labelNames))
	for i, name := range labelNames {
		if v, ok := labels[name]; ok {
			values[i] = v
			continue
		}
		values[i] = r.fixedLabels[name]
	}
	return values
}

func expiryKey(name string, labelNames []string, values []string) string {
	var b strings.Builder
	b.WriteString(name)
	for i, n := range labelNames {
		b.WriteByte('|')
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(values[i])
	}
	return b.String()
}

// AddCounter adds a non-negative delta to counter name{labels}, creating
// the series (and registering it) on first use. Delta recorder callers must
// never pass a negative delta (§3 invariant: counters are monotonic).
func (r *Registry) AddCounter(name, help string, labels map[string]string, delta float64) error {
	if delta < 0 {
		return errors.Errorf("counter %q: refusing negative delta %f", name, delta)
	}

	r.mu.Lock()
	entry, ok := r.counters[name]
	if !ok {
		labelNames := r.mergedLabelNames(labels)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labelNames)
		r.promReg.MustRegister(vec)
		entry = &vecEntry{labelNames: labelNames, counterVec: vec}
		r.counters[name] = entry
	}
	r.mu.Unlock()

	entry.counterVec.WithLabelValues(r.labelValues(entry.labelNames, labels)...).Add(delta)
	return nil
}

// SetGauge sets gauge name{labels} to value. If expires, the series is
// evicted if not set again within expiryPeriod.
func (r *Registry) SetGauge(name, help string, labels map[string]string, value float64, expires bool, expiryPeriod time.Duration) error {
	r.mu.Lock()
	entry, ok := r.gauges[name]
	if !ok {
		labelNames := r.mergedLabelNames(labels)
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labelNames)
		r.promReg.MustRegister(vec)
		entry = &vecEntry{labelNames: labelNames, gaugeVec: vec}
		r.gauges[name] = entry
	}
	r.mu.Unlock()

	values := r.labelValues(entry.labelNames, labels)
	entry.gaugeVec.WithLabelValues(values...).Set(value)

	if expires {
		r.trackExpiry(name, entry, labels, values, expiryPeriod)
	}
	return nil
}

func (r *Registry) trackExpiry(name string, entry *vecEntry, labels map[string]string, values []string, period time.Duration) {
	r.expiryMu.Lock()
	defer r.expiryMu.Unlock()

	key := expiryKey(name, entry.labelNames, values)
	r.expiry[key] = &expirySeries{
		vec:        entry.gaugeVec,
		labelNames: entry.labelNames,
		labels:     labels,
		lastSet:    time.Now(),
		period:     period,
	}
}

// ObserveHistogram records value (milliseconds, per §6) into histogram
// name{labels}, using the standard Prometheus default buckets.
func (r *Registry) ObserveHistogram(name, help string, labels map[string]string, value float64) error {
	r.mu.Lock()
	entry, ok := r.histograms[name]
	if !ok {
		labelNames := r.mergedLabelNames(labels)
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: prometheus.DefBuckets,
		}, labelNames)
		r.promReg.MustRegister(vec)
		entry = &vecEntry{labelNames: labelNames, histoVec: vec}
		r.histograms[name] = entry
	}
	r.mu.Unlock()

	entry.histoVec.WithLabelValues(r.labelValues(entry.labelNames, labels)...).Observe(value)
	return nil
}

const minSweepInterval = time.Second

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(minSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

func (r *Registry) sweepExpired() {
	now := time.Now()

	r.expiryMu.Lock()
	defer r.expiryMu.Unlock()

	for key, series := range r.expiry {
		if now.Sub(series.lastSet) < series.period {
			continue
		}
		series.vec.DeleteLabelValues(r.labelValues(series.labelNames, series.labels)...)
		delete(r.expiry, key)
	}
}
