package snapshotter

import (
	"github.com/fiffu/regwatch/lib/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cycleMetrics counts what a single poll cycle did, for the summary log line.
type cycleMetrics struct {
	servers  int
	added    int
	updated  int
	bumped   int
	removed  int
	matched  int
	enqueued int
}

func (m *cycleMetrics) countChange(ct models.ChangeType) {
	switch ct {
	case models.ChangeTypeNew:
		m.added++
	case models.ChangeTypeUpdated:
		m.updated++
	case models.ChangeTypeVersionBump:
		m.bumped++
	case models.ChangeTypeRemoved:
		m.removed++
	}
}

func (m *cycleMetrics) totalChanges() int {
	return m.added + m.updated + m.bumped + m.removed
}

const (
	outcomeLabel    = "outcome"
	changeTypeLabel = "change_type"
)

// MetricVecs stores poll-cycle metrics.
type MetricVecs struct {
	cycles    *prometheus.CounterVec
	changes   *prometheus.CounterVec
	servers   prometheus.Gauge
	durations prometheus.Histogram
}

func NewMetricVecs(reg prometheus.Registerer) MetricVecs {
	cycles := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_poll_cycles_total",
			Help: "A counter for poll cycles by outcome",
		},
		[]string{outcomeLabel},
	)

	changes := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_changes_total",
			Help: "A counter for detected registry changes by type",
		},
		[]string{changeTypeLabel},
	)

	servers := promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name: "regwatch_registry_servers",
			Help: "A gauge of servers in the most recent snapshot",
		},
	)

	durations := promauto.With(reg).NewHistogram(
		prometheus.HistogramOpts{
			Name: "regwatch_poll_duration_ms",
			Help: "A histogram of poll cycle durations",
			Buckets: []float64{
				50, 100, 250, 500,
				1000, 2500, 5000,
				10000, 30000, 60000,
			},
		},
	)

	return MetricVecs{
		cycles:    cycles,
		changes:   changes,
		servers:   servers,
		durations: durations,
	}
}

func (mv MetricVecs) observeCycle(outcome string, m *cycleMetrics, elapsedMsecs float64) {
	mv.cycles.WithLabelValues(outcome).Inc()
	mv.durations.Observe(elapsedMsecs)
	if m == nil {
		return
	}
	mv.servers.Set(float64(m.servers))
	mv.changes.WithLabelValues(string(models.ChangeTypeNew)).Add(float64(m.added))
	mv.changes.WithLabelValues(string(models.ChangeTypeUpdated)).Add(float64(m.updated))
	mv.changes.WithLabelValues(string(models.ChangeTypeVersionBump)).Add(float64(m.bumped))
	mv.changes.WithLabelValues(string(models.ChangeTypeRemoved)).Add(float64(m.removed))
}
