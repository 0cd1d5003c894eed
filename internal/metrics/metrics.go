// Package metrics exposes upload-session counters as Prometheus metrics,
// following the collector-plus-HTTP-exposition pattern used by the
// runZeroInc/go-tcpinfo exporter in the example pack: a small struct of
// prometheus.Collector-compatible fields, registered once at process
// start and served over HTTP via promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "udpfiletransfer"

// Collector tracks process-wide upload counters. It is safe for
// concurrent use by multiple session workers.
type Collector struct {
	SessionsActive      prometheus.Gauge
	ChunksSent          prometheus.Counter
	ChunksAcked         prometheus.Counter
	ChunksRetransmitted prometheus.Counter
	BytesWritten        prometheus.Counter
}

// New builds a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of upload sessions currently in progress.",
		}),
		ChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Total number of File chunks transmitted by sender engines.",
		}),
		ChunksAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_acked_total",
			Help:      "Total number of Ack messages emitted by receiver engines.",
		}),
		ChunksRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_retransmitted_total",
			Help:      "Total number of chunk retransmissions triggered by the timeout.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Total number of bytes written to finalized output files.",
		}),
	}
	reg.MustRegister(c.SessionsActive, c.ChunksSent, c.ChunksAcked, c.ChunksRetransmitted, c.BytesWritten)
	return c
}

// Serve starts an HTTP server exposing the default Prometheus registry at
// /metrics on addr. It blocks until the server stops; callers typically
// run it in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
