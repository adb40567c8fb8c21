// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for mBridge.
package metrics

import (
	"context"
	"errors"
	"time"

	mberrors "github.com/absmach/mbridge/pkg/errors"
	"github.com/absmach/mbridge/pkg/handler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeUnknown  = "unknown"
)

// Metrics holds all Prometheus metrics for mBridge.
type Metrics struct {
	// Connection metrics
	ActiveConnections  prometheus.Gauge
	ConnectionsTotal   *prometheus.CounterVec
	ConnectionDuration prometheus.Histogram

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	FrameSize       *prometheus.HistogramVec
}

// New creates a new Metrics instance registered with reg. A nil reg uses the
// default Prometheus registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "mbridge"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently served connections",
			},
		),
		ConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of finished connections",
			},
			[]string{"status"},
		),
		ConnectionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Connection duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"command", "outcome"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		FrameSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "frame_size_bytes",
				Help:      "Frame payload size in bytes",
				Buckets:   []float64{8, 32, 128, 512, 4096, 65536, 1 << 20},
			},
			[]string{"direction"},
		),
	}
}

var _ handler.Handler = (*Handler)(nil)

// Handler records metrics for every session event and forwards it to next.
type Handler struct {
	metrics *Metrics
	next    handler.Handler
}

// NewHandler wraps next with instrumentation. A nil next is a NoopHandler.
func NewHandler(m *Metrics, next handler.Handler) *Handler {
	if next == nil {
		next = &handler.NoopHandler{}
	}
	return &Handler{metrics: m, next: next}
}

// OnConnect counts the session as active.
func (h *Handler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	if err := h.next.OnConnect(ctx, hctx); err != nil {
		return err
	}
	h.metrics.ActiveConnections.Inc()
	return nil
}

// OnRequest records the exchange outcome.
func (h *Handler) OnRequest(ctx context.Context, hctx *handler.Context, ex handler.Exchange) error {
	outcome := OutcomeOK
	if ex.Fallback {
		outcome = OutcomeFallback
	}
	h.metrics.RequestsTotal.WithLabelValues(ex.Command, outcome).Inc()
	h.metrics.RequestDuration.WithLabelValues(ex.Command).Observe(ex.Duration.Seconds())
	h.metrics.FrameSize.WithLabelValues("in").Observe(float64(len(ex.Request)))
	h.metrics.FrameSize.WithLabelValues("out").Observe(float64(len(ex.Response)))
	return h.next.OnRequest(ctx, hctx, ex)
}

// OnDisconnect records the session result. The server calls it even when
// OnConnect refused the client, so the gauge is only decremented for
// sessions that were counted.
func (h *Handler) OnDisconnect(ctx context.Context, hctx *handler.Context, cause error) error {
	var serr *mberrors.SessionError
	refused := errors.As(cause, &serr) && serr.Op == "connect"
	if !refused {
		h.metrics.ActiveConnections.Dec()
	}

	status := "success"
	switch {
	case errors.Is(cause, mberrors.ErrUnknownCommand):
		status = "error"
		h.metrics.RequestsTotal.WithLabelValues("", OutcomeUnknown).Inc()
	case refused:
		status = "refused"
	case cause != nil:
		status = "error"
	}
	h.metrics.ConnectionsTotal.WithLabelValues(status).Inc()
	h.metrics.ConnectionDuration.Observe(time.Since(hctx.ConnectedAt).Seconds())

	return h.next.OnDisconnect(ctx, hctx, cause)
}
