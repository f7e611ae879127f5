// Package metrics holds the Prometheus collectors exported by the server
// and worker binaries.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trialregistry"

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry          *prometheus.Registry
	iamOps            *prometheus.CounterVec
	publishes         *prometheus.CounterVec
	compensations     *prometheus.CounterVec
	manifestChanges   *prometheus.CounterVec
	downloadJobPrefix prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		iamOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iam_operations_total",
			Help:      "IAM policy grants and revokes by resource kind and result.",
		}, []string{"op", "resource", "result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_publishes_total",
			Help:      "Messages published by topic and result.",
		}, []string{"topic", "result"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_compensations_total",
			Help:      "Sagas rolled back after a failed step.",
		}, []string{"saga"}),
		manifestChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_changes_total",
			Help:      "Detected manifest changes by entity type.",
		}, []string{"entity"}),
		downloadJobPrefix: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_job_prefixes",
			Help:      "Object prefixes enumerated per download permission job.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.iamOps, m.publishes, m.compensations, m.manifestChanges, m.downloadJobPrefix,
	)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) IAMOperation(op, resource string, err error) {
	if m == nil {
		return
	}
	m.iamOps.WithLabelValues(op, resource, result(err)).Inc()
}

func (m *Metrics) Publish(topic string, err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(topic, result(err)).Inc()
}

func (m *Metrics) Compensation(saga string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(saga).Inc()
}

func (m *Metrics) ManifestChange(entity string) {
	if m == nil {
		return
	}
	m.manifestChanges.WithLabelValues(entity).Inc()
}

func (m *Metrics) DownloadJobPrefixes(n int) {
	if m == nil {
		return
	}
	m.downloadJobPrefix.Observe(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Stopping metrics server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "Starting metrics server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
