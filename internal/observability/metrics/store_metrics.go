package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nyxstore/internal/raftstore"
)

const defaultNamespace = "nyxstore"

// StoreCollector exposes raftstore diagnostics as Prometheus metrics.
type StoreCollector struct {
	regions          prometheus.Gauge
	leaders          prometheus.Gauge
	tombstones       prometheus.Gauge
	pendingMerges    prometheus.Gauge
	pendingMessages  prometheus.Gauge
	appliedCommands  prometheus.Gauge
	rejectedCommands prometheus.Gauge
}

// NewStoreCollector creates a collector registered on the provided registry (default if nil).
func NewStoreCollector(reg prometheus.Registerer, namespace string) *StoreCollector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	builder := promauto.With(reg)
	return &StoreCollector{
		regions: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raftstore_region_count",
			Help:      "Live regions hosted by this store.",
		}),
		leaders: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raftstore_leader_count",
			Help:      "Regions whose local peer is the leader.",
		}),
		tombstones: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raftstore_tombstone_count",
			Help:      "Destroyed or merged-away regions still tracked locally.",
		}),
		pendingMerges: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raftstore_pending_merge_count",
			Help:      "Merges applied locally but not yet finished or rolled back.",
		}),
		pendingMessages: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raftstore_pending_message_count",
			Help:      "Messages waiting in the raftstore inbound channel.",
		}),
		appliedCommands: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raftstore_admin_applied_total",
			Help:      "Admin commands applied since start.",
		}),
		rejectedCommands: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raftstore_admin_rejected_total",
			Help:      "Admin commands rejected since start.",
		}),
	}
}

// Observe updates metrics from the supplied diagnostics sample.
func (c *StoreCollector) Observe(diag raftstore.Diagnostics) {
	c.regions.Set(float64(diag.Regions))
	c.leaders.Set(float64(diag.Leaders))
	c.tombstones.Set(float64(diag.Tombstones))
	c.pendingMerges.Set(float64(diag.PendingMerges))
	c.pendingMessages.Set(float64(diag.PendingMessages))
	c.appliedCommands.Set(float64(diag.AppliedCommands))
	c.rejectedCommands.Set(float64(diag.RejectedCommands))
}

// Sample calls Observe with fn's result every interval until ctx is done.
func (c *StoreCollector) Sample(ctx context.Context, interval time.Duration, fn func() raftstore.Diagnostics) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.Observe(fn())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Observe(fn())
		}
	}
}

// StartServer serves Prometheus metrics gathered from g on addr until the
// context is canceled. A nil g serves the default registry.
func StartServer(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) error {
	if addr == "" {
		return fmt.Errorf("metrics address is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := promhttp.Handler()
	if g != nil {
		handler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.String("addr", addr), zap.Error(err))
		}
	}()

	return nil
}
