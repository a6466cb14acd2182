// Package metrics exposes Prometheus collectors for the sync client and the
// server that publishes them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves /metrics from its own registry.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server
}

// New creates a metrics server for namespace. An empty addr creates the
// registry only and ListenAndServe becomes a no-op.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace})); err != nil {
		return nil, err
	}

	m := &MetricsServer{registry: registry}
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		m.srv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return m, nil
}

// Registry is where component collectors register.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsServer) ListenAndServe() error {
	if m.srv == nil {
		return nil
	}
	err := m.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}
