package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils/logger"
	"github.com/datazip-inc/olake-github/utils/safego"
)

const namespace = "olake_github"

// Telemetry holds the sync metrics on a registry of its own; it observes both the paginator
// and the sync engine
type Telemetry struct {
	registry *prometheus.Registry

	records     *prometheus.CounterVec
	requests    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	checkpoints prometheus.Counter
	streams     *prometheus.HistogramVec
	syncs       *prometheus.CounterVec

	server *http.Server
}

func New() *Telemetry {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Records emitted per stream",
		}, []string{"stream"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "GitHub API requests per stream and status class",
		}, []string{"stream", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Retried GitHub API requests per stream and failure kind",
		}, []string{"stream", "kind"}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Persisted state checkpoints",
		}),
		streams: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of a stream pass by final status",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stream", "status"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Sync runs by final status",
		}, []string{"status"}),
	}

	t.registry.MustRegister(t.records, t.requests, t.retries, t.checkpoints, t.streams, t.syncs)
	t.registry.MustRegister(prometheus.NewGoCollector())
	t.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return t
}

func (t *Telemetry) ObserveRequest(stream string, statusCode int) {
	t.requests.WithLabelValues(stream, statusClass(statusCode)).Inc()
}

func (t *Telemetry) ObserveRetry(stream string, kind types.ErrorKindType) {
	t.retries.WithLabelValues(stream, string(kind)).Inc()
}

func (t *Telemetry) ObserveRecords(stream string, count int) {
	if count > 0 {
		t.records.WithLabelValues(stream).Add(float64(count))
	}
}

func (t *Telemetry) ObserveCheckpoint() {
	t.checkpoints.Inc()
}

func (t *Telemetry) ObserveStream(stream string, status types.StreamStatus, duration time.Duration) {
	t.streams.WithLabelValues(stream, string(status)).Observe(duration.Seconds())
}

// TrackSyncResult counts a finished run
func (t *Telemetry) TrackSyncResult(summary *types.SyncSummary) {
	if summary != nil {
		t.syncs.WithLabelValues(string(summary.Status)).Inc()
	}
}

func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr in the background until Shutdown
func (t *Telemetry) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	t.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	safego.Run(func() {
		logger.Infof("serving metrics on %s/metrics", addr)
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server stopped: %s", err)
		}
	})
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	if err := t.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop metrics server: %s", err)
	}
	return nil
}

func statusClass(statusCode int) string {
	if statusCode < 100 || statusCode > 599 {
		return strconv.Itoa(statusCode)
	}
	return fmt.Sprintf("%dxx", statusCode/100)
}
