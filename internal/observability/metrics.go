package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gsod"

// Breaker states reported by the BreakerState gauge.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

// Metrics holds the Prometheus counters, histograms, and gauges for downloads, decoding and updates.
type Metrics struct {
	// Download metrics.
	FilesDownloaded  *prometheus.CounterVec // labels: kind={tar,station,history,index}
	DownloadFailures *prometheus.CounterVec // labels: reason={not_found,http,io,breaker}
	BytesDownloaded  prometheus.Counter
	DownloadDuration prometheus.Histogram
	BreakerState     prometheus.Gauge

	// Decode metrics.
	LinesDecoded   prometheus.Counter
	MalformedLines prometheus.Counter
	RowsLoaded     *prometheus.CounterVec // labels: sink
	FileFailures   prometheus.Counter
	FileDuration   prometheus.Histogram

	// Update metrics.
	UpdateRuns          *prometheus.CounterVec // labels: outcome={success,partial,error}
	LastUpdateTimestamp prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		FilesDownloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_downloaded_total",
			Help:      "Files fetched from the NOAA archive by kind.",
		}, []string{"kind"}),
		DownloadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_failures_total",
			Help:      "Downloads given up after retries, by reason.",
		}, []string{"reason"}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written to disk from the NOAA archive.",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of a single file download including retries.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "noaa_breaker_state",
			Help:      "NOAA client circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
		LinesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_decoded_total",
			Help:      "Station-day lines decoded successfully.",
		}),
		MalformedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_lines_total",
			Help:      "Lines skipped because they could not be decoded.",
		}),
		RowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "Station-day rows handed to each sink.",
		}, []string{"sink"}),
		FileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_failures_total",
			Help:      "Source files that could not be unpacked.",
		}),
		FileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_processing_duration_seconds",
			Help:      "Duration of unpacking one source file.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}),
		UpdateRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_runs_total",
			Help:      "Incremental update runs by outcome.",
		}, []string{"outcome"}),
		LastUpdateTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix time of the last update run that finished without fatal errors.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FilesDownloaded,
		m.DownloadFailures,
		m.BytesDownloaded,
		m.DownloadDuration,
		m.BreakerState,
		m.LinesDecoded,
		m.MalformedLines,
		m.RowsLoaded,
		m.FileFailures,
		m.FileDuration,
		m.UpdateRuns,
		m.LastUpdateTimestamp,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
