// Package metrics records service counters in Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpmetrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

const namespace = "simpleimage"

// Recorder implements simpleimage.Metrics with Prometheus counters
type Recorder struct {
	uploads          *prometheus.CounterVec
	enrichment       *prometheus.CounterVec
	visionFailures   *prometheus.CounterVec
	signedURLFailure prometheus.Counter
}

var _ simpleimage.Metrics = (*Recorder)(nil)

// New creates a Recorder and registers its collectors with reg
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload requests by final status.",
		}, []string{"status"}),
		enrichment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_events_total",
			Help:      "Storage events handled by the enrichment pipeline.",
		}, []string{"trigger", "outcome"}),
		visionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_failures_total",
			Help:      "Failed vision annotation calls by feature.",
		}, []string{"feature"}),
		signedURLFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signed_url_failures_total",
			Help:      "Signed URLs that could not be minted.",
		}),
	}

	for _, c := range []prometheus.Collector{r.uploads, r.enrichment, r.visionFailures, r.signedURLFailure} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) UploadCompleted(status string) {
	r.uploads.WithLabelValues(status).Inc()
}

func (r *Recorder) EnrichmentHandled(trigger string, outcome simpleimage.Outcome) {
	r.enrichment.WithLabelValues(trigger, string(outcome)).Inc()
}

func (r *Recorder) VisionFailed(feature string) {
	r.visionFailures.WithLabelValues(feature).Inc()
}

func (r *Recorder) SignedURLFailed() {
	r.signedURLFailure.Inc()
}

// Handler serves the Prometheus exposition format for g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request latency and sizes per route into reg
func HTTPMiddleware(reg prometheus.Registerer) func(http.Handler) http.Handler {
	mdlw := middleware.New(middleware.Config{
		Recorder: httpmetrics.NewRecorder(httpmetrics.Config{Registry: reg}),
	})
	return std.HandlerProvider("", mdlw)
}
