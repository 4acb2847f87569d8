// Package metrics exposes Prometheus instruments for synchronization, edits
// and merges. All methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "posyncd"

// Metrics bundles the instruments
type Metrics struct {
	translations  *prometheus.CounterVec
	entryWrites   *prometheus.CounterVec
	commits       prometheus.Counter
	mergeFailures prometheus.Counter
	mergeSkipped  *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	webhookEvents *prometheus.CounterVec
}

// New creates the instruments and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_synchronized_total",
			Help:      "Catalog synchronizations by result.",
		}, []string{"result"}),
		entryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entry_writes_total",
			Help:      "Entry rows written by kind.",
		}, []string{"kind"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commits created for edits and imports.",
		}),
		mergeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_failures_total",
			Help:      "Upstream merges that were aborted.",
		}),
		mergeSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_units_skipped_total",
			Help:      "Imported units that were not merged, by reason.",
		}, []string{"reason"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "component_sync_duration_seconds",
			Help:      "Duration of component synchronization.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Received webhook deliveries by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.translations,
		m.entryWrites,
		m.commits,
		m.mergeFailures,
		m.mergeSkipped,
		m.syncDuration,
		m.webhookEvents,
	)
	return m
}

// TranslationSynced counts one catalog synchronization
func (m *Metrics) TranslationSynced(result string) {
	if m == nil {
		return
	}
	m.translations.WithLabelValues(result).Inc()
}

// EntryWrites counts n entry rows of a kind
func (m *Metrics) EntryWrites(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.entryWrites.WithLabelValues(kind).Add(float64(n))
}

// Commit counts a created commit
func (m *Metrics) Commit() {
	if m == nil {
		return
	}
	m.commits.Inc()
}

// MergeFailure counts an aborted upstream merge
func (m *Metrics) MergeFailure() {
	if m == nil {
		return
	}
	m.mergeFailures.Inc()
}

// ImportSkipped counts an imported unit that was not merged
func (m *Metrics) ImportSkipped(reason string) {
	if m == nil {
		return
	}
	m.mergeSkipped.WithLabelValues(reason).Inc()
}

// ObserveSync records the duration of a component synchronization
func (m *Metrics) ObserveSync(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(result).Observe(d.Seconds())
}

// WebhookEvent counts a webhook delivery
func (m *Metrics) WebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
}
