// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpc2

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusLogger is an RPCLogger that records per-method request counts,
// error counts by code, and response latency as Prometheus metrics. It is
// grounded in the counter/summary-vec middleware pattern other JSON-RPC
// servers in the wild use to export observability, as an alternative to the
// process-wide expvar counters ServerMetrics exposes.
type PrometheusLogger struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.SummaryVec

	mu     sync.Mutex
	starts map[*Request]time.Time
}

// NewPrometheusLogger constructs a PrometheusLogger and registers its
// collectors with reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewPrometheusLogger(reg prometheus.Registerer, namespace string) *PrometheusLogger {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	pl := &PrometheusLogger{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total number of RPC requests received, by method.",
		}, []string{"method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "Total number of RPC error responses, by method and code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  namespace,
			Name:       "rpc_request_duration_seconds",
			Help:       "RPC request handling latency in seconds, by method.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"method"}),
		starts: make(map[*Request]time.Time),
	}
	reg.MustRegister(pl.requests, pl.errors, pl.latency)
	return pl
}

// LogRequest implements part of the RPCLogger interface.
func (pl *PrometheusLogger) LogRequest(_ context.Context, req *Request) {
	pl.requests.WithLabelValues(req.Method()).Inc()
	pl.mu.Lock()
	pl.starts[req] = time.Now()
	pl.mu.Unlock()
}

// LogResponse implements part of the RPCLogger interface.
func (pl *PrometheusLogger) LogResponse(ctx context.Context, rsp *Response) {
	req := InboundRequest(ctx)
	if req == nil {
		return
	}
	pl.mu.Lock()
	start, ok := pl.starts[req]
	delete(pl.starts, req)
	pl.mu.Unlock()
	if ok {
		pl.latency.WithLabelValues(req.Method()).Observe(time.Since(start).Seconds())
	}
	if e := rsp.Error(); e != nil {
		pl.errors.WithLabelValues(req.Method(), e.Code.String()).Inc()
	}
}
