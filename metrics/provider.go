package metrics

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/tiered-storage/interfaces"
)

const subsystem = "provider"

// ProviderMetrics holds the RED metrics of provider calls, labelled by
// provider name and operation.
type ProviderMetrics struct {
	reqs   *prometheus.CounterVec
	misses *prometheus.CounterVec
	errs   *prometheus.CounterVec
	durs   *prometheus.HistogramVec
}

// NewProviderMetrics creates the provider metrics and registers them on reg.
func NewProviderMetrics(namespace string, reg prometheus.Registerer) (*ProviderMetrics, error) {
	m := &ProviderMetrics{
		reqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "call_total",
			Help:      "Number of calls to storage providers",
		}, []string{"provider", "op"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "miss_total",
			Help:      "Number of provider reads that found no value",
		}, []string{"provider", "op"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "error_total",
			Help:      "Number of errors returned by storage providers",
		}, []string{"provider", "op", "code"}),
		durs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Duration of storage provider calls",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"provider", "op"}),
	}

	for _, c := range []prometheus.Collector{m.reqs, m.misses, m.errs, m.durs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// InstrumentProvider wraps p so every call is counted and timed in m.
// Access policy checks are forwarded without being recorded.
func InstrumentProvider(p interfaces.Provider, m *ProviderMetrics) interfaces.Provider {
	return &instrumentedProvider{next: p, m: m}
}

type instrumentedProvider struct {
	next interfaces.Provider
	m    *ProviderMetrics
}

var _ interfaces.Provider = (*instrumentedProvider)(nil)

// errorCode maps provider errors onto a small label set.
func errorCode(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}

func (ip *instrumentedProvider) record(op string) func(error) error {
	start := time.Now()
	name := ip.next.Name()
	return func(err error) error {
		ip.m.reqs.WithLabelValues(name, op).Inc()

		switch {
		case err == nil:
		case errors.Is(err, interfaces.ErrNotFound):
			ip.m.misses.WithLabelValues(name, op).Inc()
		default:
			ip.m.errs.WithLabelValues(name, op, errorCode(err)).Inc()
		}

		ip.m.durs.WithLabelValues(name, op).Observe(time.Since(start).Seconds())
		return err
	}
}

func (ip *instrumentedProvider) Exists(ctx context.Context, key string) (bool, error) {
	m := ip.record("exists")
	ok, err := ip.next.Exists(ctx, key)
	return ok, m(err)
}

func (ip *instrumentedProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m := ip.record("set")
	ok, err := ip.next.Set(ctx, key, value, ttl)
	return ok, m(err)
}

func (ip *instrumentedProvider) SetStream(ctx context.Context, key string, r io.ReadSeeker, ttl time.Duration) (bool, error) {
	m := ip.record("set_stream")
	ok, err := ip.next.SetStream(ctx, key, r, ttl)
	return ok, m(err)
}

func (ip *instrumentedProvider) SetFile(ctx context.Context, key string, path string, ttl time.Duration) (bool, error) {
	m := ip.record("set_file")
	ok, err := ip.next.SetFile(ctx, key, path, ttl)
	return ok, m(err)
}

func (ip *instrumentedProvider) Get(ctx context.Context, key string) ([]byte, error) {
	m := ip.record("get")
	value, err := ip.next.Get(ctx, key)
	return value, m(err)
}

func (ip *instrumentedProvider) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	m := ip.record("get_stream")
	rc, err := ip.next.GetStream(ctx, key)
	return rc, m(err)
}

func (ip *instrumentedProvider) GetInfo(ctx context.Context, key string) (*interfaces.Info, error) {
	m := ip.record("get_info")
	info, err := ip.next.GetInfo(ctx, key)
	return info, m(err)
}

func (ip *instrumentedProvider) Delete(ctx context.Context, key string) (bool, error) {
	m := ip.record("delete")
	ok, err := ip.next.Delete(ctx, key)
	return ok, m(err)
}

func (ip *instrumentedProvider) Allowed(key string, access interfaces.AccessType) bool {
	return ip.next.Allowed(key, access)
}

func (ip *instrumentedProvider) Name() string {
	return ip.next.Name()
}

func (ip *instrumentedProvider) LocationURI() string {
	return ip.next.LocationURI()
}
