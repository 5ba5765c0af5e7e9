// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the agent's Prometheus series, registered with
// promauto as package-level collectors on the default registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ddns_sd"

var (
	// BackendOpDuration / BackendOpTotal / BackendOpErrors / BackendOpInProgress
	// instrument the abstract backend ops, labeled by op ∈ {publish,suppress}
	// and rrtype.
	BackendOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "op_duration_seconds",
		Help:      "Duration of abstract backend operations (publish/suppress).",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "rrtype"})

	BackendOpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "op_total",
		Help:      "Count of abstract backend operations attempted.",
	}, []string{"op", "rrtype"})

	BackendOpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "op_errors_total",
		Help:      "Count of abstract backend operations that ended in an error.",
	}, []string{"op", "rrtype"})

	BackendOpInProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "op_in_progress",
		Help:      "Abstract backend operations currently in flight. Must never exceed 1 under the single-writer invariant.",
	}, []string{"op", "rrtype"})

	// ProviderOpDuration / ProviderOpTotal / ProviderOpInProgress
	// instrument the per-backend provider calls, labeled by op ∈
	// {list,get,change}.
	ProviderOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "op_duration_seconds",
		Help:      "Duration of underlying provider API calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	ProviderOpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "op_total",
		Help:      "Count of underlying provider API calls attempted.",
	}, []string{"op"})

	ProviderOpInProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "op_in_progress",
		Help:      "Underlying provider API calls currently in flight.",
	}, []string{"op"})

	// RuntimeEventsTotal counts container-runtime events by
	// type ∈ {started,stopped,ignored}.
	RuntimeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runtime",
		Name:      "events_total",
		Help:      "Count of container-runtime lifecycle events observed.",
	}, []string{"type"})

	// MetricsRequestsTotal counts requests to the metrics server itself.
	MetricsRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metrics_requests_total",
		Help:      "Count of requests served by the metrics HTTP server.",
	})

	// StartTimestamp is set once at boot, labeled with a build revision
	// string if known.
	StartTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "start_timestamp_seconds",
		Help:      "Unix timestamp the process started, labeled by build revision.",
	}, []string{"revision"})
)

// ObserveBackendOp times fn, incrementing the in-progress gauge around
// the call and the total/errors counters from its result, then records
// the duration histogram. It is the one place the "sum_in_progress
// (backend_ops) ≤ 1" single-writer invariant is made observable.
func ObserveBackendOp(op, rrtype string, fn func() error) error {
	g := BackendOpInProgress.WithLabelValues(op, rrtype)
	g.Inc()
	defer g.Dec()

	start := time.Now()
	err := fn()
	BackendOpDuration.WithLabelValues(op, rrtype).Observe(time.Since(start).Seconds())
	BackendOpTotal.WithLabelValues(op, rrtype).Inc()
	if err != nil {
		BackendOpErrors.WithLabelValues(op, rrtype).Inc()
	}
	return err
}

// ObserveProviderOp is ObserveBackendOp's counterpart for the per-backend
// provider calls.
func ObserveProviderOp(op string, fn func() error) error {
	g := ProviderOpInProgress.WithLabelValues(op)
	g.Inc()
	defer g.Dec()

	start := time.Now()
	err := fn()
	ProviderOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	ProviderOpTotal.WithLabelValues(op).Inc()
	return err
}

// Server is the agent's metrics HTTP server: a bare net/http.ServeMux
// serving /metrics, with no router library pulled in for a single
// endpoint this small.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics server bound to addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", countingHandler{promhttp.Handler()})
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

type countingHandler struct{ next http.Handler }

func (h countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	MetricsRequestsTotal.Inc()
	h.next.ServeHTTP(w, r)
}

// ListenAndServe blocks serving the metrics endpoint until ctx is done,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
