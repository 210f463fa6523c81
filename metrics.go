package casc

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes.
const (
	outcomeFound   = "found"
	outcomeMissing = "missing"
)

// metrics holds the collectors registered by WithMetrics. A nil *metrics
// records nothing. Counters and the archive gauge aggregate over every
// Storage registered on the same registry.
type metrics struct {
	resolutions  *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	readBytes    prometheus.Counter
	openArchives prometheus.Gauge
	tableEntries *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	return &metrics{
		resolutions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casc",
			Name:      "resolutions_total",
			Help:      "File resolutions by lookup kind and outcome.",
		}, []string{"kind", "outcome"})),
		cacheLookups: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casc",
			Name:      "cache_lookups_total",
			Help:      "Decoded content cache lookups by result.",
		}, []string{"result"})),
		readBytes: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casc",
			Name:      "read_bytes_total",
			Help:      "Decoded bytes returned by ReadFile.",
		})),
		openArchives: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "casc",
			Name:      "open_archives",
			Help:      "Data archive handles currently open.",
		})),
		tableEntries: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "casc",
			Name:      "table_entries",
			Help:      "Entries loaded per table.",
		}, []string{"table"})),
	}
}

// register adds c to reg. Storages sharing a registry share collectors: when
// an identical collector is already registered, that one is returned. A
// conflicting registration leaves c unregistered but usable.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	return c
}

func (m *metrics) resolved(kind string, found bool) {
	if m == nil {
		return
	}
	outcome := outcomeMissing
	if found {
		outcome = outcomeFound
	}
	m.resolutions.WithLabelValues(kind, outcome).Inc()
}

func (m *metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *metrics) read(n int) {
	if m == nil {
		return
	}
	m.readBytes.Add(float64(n))
}

func (m *metrics) archiveOpened() {
	if m == nil {
		return
	}
	m.openArchives.Inc()
}

func (m *metrics) archivesClosed(n int) {
	if m == nil {
		return
	}
	m.openArchives.Sub(float64(n))
}

func (m *metrics) loaded(table string, n int) {
	if m == nil {
		return
	}
	m.tableEntries.WithLabelValues(table).Set(float64(n))
}
