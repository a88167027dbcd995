// Package metrics exposes Prometheus metrics for storage providers and
// serves them over HTTP.
package metrics

import (
	"context"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the /metrics endpoint of its own registry.
type MetricsServer struct {
	registry  *prometheus.Registry
	providers *ProviderMetrics
	srv       *http.Server
}

// New creates a metrics server for namespace listening on listenAddr. The
// namespace may be a package path; it is reduced to a valid metric prefix.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	providers, err := NewProviderMetrics(Namespace(namespace), reg)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return &MetricsServer{
		registry:  reg,
		providers: providers,
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Registry returns the registry served by the server.
func (s *MetricsServer) Registry() *prometheus.Registry {
	return s.registry
}

// Providers returns the provider call metrics registered on the server.
func (s *MetricsServer) Providers() *ProviderMetrics {
	return s.providers
}

// Handler returns the HTTP handler serving /metrics.
func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Namespace turns a package path such as "github.com/org/tiered-storage" into
// a metric namespace such as "tiered_storage".
func Namespace(name string) string {
	name = path.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
