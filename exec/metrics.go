package exec

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the executor's prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	queries       *prometheus.CounterVec
	queryDuration prometheus.Histogram
	rowsScanned   prometheus.Counter
	rowsProduced  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		queries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "vireo",
			Name:      "queries_total",
			Help:      "Completed queries by status.",
		}, []string{"status"}),
		queryDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "vireo",
			Name:      "query_duration_seconds",
			Help:      "Wall time per query.",
			Buckets:   prometheus.DefBuckets,
		}),
		rowsScanned: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "vireo",
			Name:      "rows_scanned_total",
			Help:      "Rows read from sources.",
		}),
		rowsProduced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "vireo",
			Name:      "rows_produced_total",
			Help:      "Rows returned to callers.",
		}),
	}
}

func (m *Metrics) observeQuery(took time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.queries.WithLabelValues(status).Inc()
	m.queryDuration.Observe(took.Seconds())
}

func (m *Metrics) addRowsScanned(n int) {
	if m != nil {
		m.rowsScanned.Add(float64(n))
	}
}

func (m *Metrics) addRowsProduced(n int) {
	if m != nil {
		m.rowsProduced.Add(float64(n))
	}
}
