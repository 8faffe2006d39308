package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	subdocuments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterdoc",
			Name:      "subdocuments_total",
			Help:      "Sub-documents handled by the orchestrator, labeled by result",
		},
		[]string{"result"},
	)

	rollovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterdoc",
			Name:      "rollovers_total",
			Help:      "Masters sealed because the byte cap would be exceeded",
		},
		[]string{"category"},
	)

	prunes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterdoc",
			Name:      "prunes_total",
			Help:      "Page range removals by save mode (incremental, full, failed)",
		},
		[]string{"save"},
	)

	assignShifts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "masterdoc",
			Name:      "assign_shifts_total",
			Help:      "Ledger records shifted forward to make room for targeted inserts",
		},
	)

	appendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "masterdoc",
			Name:      "append_duration_seconds",
			Help:      "Duration of one physical append plus ledger commit",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	masterBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "masterdoc",
			Name:      "master_bytes",
			Help:      "Size of the active master per category",
		},
		[]string{"category"},
	)
)

var registerOnce sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(subdocuments, rollovers, prunes, assignShifts, appendLatency, masterBytes)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncSubdocument(result string) { subdocuments.WithLabelValues(result).Inc() }
func IncRollover(category string)  { rollovers.WithLabelValues(category).Inc() }
func IncPrune(save string)         { prunes.WithLabelValues(save).Inc() }
func AddAssignShifts(n int)        { assignShifts.Add(float64(n)) }

func ObserveAppend(category string, dur time.Duration) {
	appendLatency.WithLabelValues(category).Observe(dur.Seconds())
}

func SetMasterBytes(category string, v int64) { masterBytes.WithLabelValues(category).Set(float64(v)) }
