package stage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by every stage registered
// against one registry. Stages are told apart by the "stage" label.
// A nil *Metrics disables recording.
type Metrics struct {
	records      *prometheus.CounterVec   // by stage and status (passed/dropped)
	matches      *prometheus.CounterVec   // by stage and label
	bytesScanned *prometheus.CounterVec   // by stage
	scanDuration *prometheus.HistogramVec // by stage
	sessions     *prometheus.GaugeVec     // by stage
	swaps        *prometheus.CounterVec   // by stage
}

// NewMetrics creates the stage collectors and registers them with reg.
// A nil reg returns nil, nil (metrics disabled).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kwtag",
			Subsystem: "stage",
			Name:      "records_total",
			Help:      "Total number of records processed by a stage",
		}, []string{"stage", "status"}),

		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kwtag",
			Subsystem: "stage",
			Name:      "matches_total",
			Help:      "Keyword matches by label",
		}, []string{"stage", "label"}),

		bytesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kwtag",
			Subsystem: "stage",
			Name:      "bytes_scanned_total",
			Help:      "Field bytes fed to the matcher",
		}, []string{"stage"}),

		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kwtag",
			Subsystem: "stage",
			Name:      "scan_duration_seconds",
			Help:      "Per-record scan duration in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"stage"}),

		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kwtag",
			Subsystem: "stage",
			Name:      "stream_sessions",
			Help:      "Open streaming match states",
		}, []string{"stage"}),

		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kwtag",
			Subsystem: "stage",
			Name:      "matcher_swaps_total",
			Help:      "Matcher replacements after a dictionary reload",
		}, []string{"stage"}),
	}

	for _, c := range []prometheus.Collector{m.records, m.matches, m.bytesScanned, m.scanDuration, m.sessions, m.swaps} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordScan(stage string, passed bool, bytes int, duration time.Duration) {
	if m == nil {
		return
	}

	status := "dropped"
	if passed {
		status = "passed"
	}
	m.records.WithLabelValues(stage, status).Inc()
	m.bytesScanned.WithLabelValues(stage).Add(float64(bytes))
	m.scanDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (m *Metrics) recordMatch(stage, label string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(stage, label).Inc()
}

func (m *Metrics) setSessions(stage string, n int) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(stage).Set(float64(n))
}

func (m *Metrics) recordSwap(stage string) {
	if m == nil {
		return
	}
	m.swaps.WithLabelValues(stage).Inc()
}
