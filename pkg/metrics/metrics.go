package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fetchkit/pfetch/pkg/client"
)

const namespace = "pfetch"

// Recorder holds the counters for one process. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	transfers *prometheus.CounterVec
	bytes     prometheus.Counter
	downloads *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	chunks    prometheus.Histogram
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "HTTP transfers by outcome status.",
		}, []string{"status"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Body bytes written by transfers.",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download operations by mode and result.",
		}, []string{"mode", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Wall time of download operations.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"mode"}),
		chunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunks_per_download",
			Help:      "Number of chunk tasks planned per chunked download.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	r.registry.MustRegister(r.transfers, r.bytes, r.downloads, r.duration, r.chunks)
	return r
}

func (r *Recorder) ObserveTransfer(outcome client.Outcome) {
	if r == nil {
		return
	}
	r.transfers.WithLabelValues(outcome.Status.String()).Inc()
	r.bytes.Add(float64(outcome.BytesWritten))
}

func (r *Recorder) ObserveDownload(mode, result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.downloads.WithLabelValues(mode, result).Inc()
	r.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (r *Recorder) ObservePlan(chunks int) {
	if r == nil {
		return
	}
	r.chunks.Observe(float64(chunks))
}

// WriteFile writes the current values in the Prometheus text format, for node_exporter's
// textfile collector.
func (r *Recorder) WriteFile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
