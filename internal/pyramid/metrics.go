package pyramid

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	TilesWritten  *prometheus.CounterVec
	TilesPadded   *prometheus.CounterVec
	TilesFailed   *prometheus.CounterVec
	LevelsFailed  prometheus.Counter
	LevelDuration *prometheus.HistogramVec
	Runs          *prometheus.CounterVec
}

// NewMetrics registers the pipeline instruments with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TilesWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyramid_tiles_written_total",
				Help: "Tiles encoded and written, by zoom level",
			},
			[]string{"zoom"},
		),
		TilesPadded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyramid_tiles_padded_total",
				Help: "Edge tiles filled with background, by zoom level",
			},
			[]string{"zoom"},
		),
		TilesFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyramid_tiles_failed_total",
				Help: "Tiles that could not be written, by error kind",
			},
			[]string{"kind"},
		),
		LevelsFailed: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pyramid_levels_failed_total",
				Help: "Zoom levels aborted before their tiles were attempted",
			},
		),
		LevelDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pyramid_level_duration_seconds",
				Help:    "Time to rasterize and tile one zoom level",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"zoom"},
		),
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyramid_runs_total",
				Help: "Pipeline runs, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) tileWritten(z int, padded bool) {
	if m == nil {
		return
	}
	zs := strconv.Itoa(z)
	m.TilesWritten.WithLabelValues(zs).Inc()
	if padded {
		m.TilesPadded.WithLabelValues(zs).Inc()
	}
}

func (m *Metrics) tileFailed(kind string) {
	if m == nil {
		return
	}
	m.TilesFailed.WithLabelValues(kind).Inc()
}

func (m *Metrics) levelDone(z int, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.LevelDuration.WithLabelValues(strconv.Itoa(z)).Observe(seconds)
	if failed {
		m.LevelsFailed.Inc()
	}
}

func (m *Metrics) runDone(r *Report) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case r.Failed():
		outcome = "failed"
	case r.TilesFailed > 0:
		outcome = "partial"
	}
	m.Runs.WithLabelValues(outcome).Inc()
}
