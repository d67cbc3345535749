package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for gateway operations.
type Observer interface {
	RecordSave(duration time.Duration, sizeBytes int64, err error)
	RecordDelete(duration time.Duration, err error)
	RecordSign(duration time.Duration, err error)
}

// PrometheusObserver exports gateway metrics to Prometheus.
type PrometheusObserver struct {
	duration   *prometheus.HistogramVec
	errors     *prometheus.CounterVec
	savedBytes prometheus.Counter
}

// NewPrometheusObserver registers save/delete/sign metrics.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "attachment_storage"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of blob storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed blob storage operations.",
		}, []string{"operation"}),
		savedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saved_bytes_total",
			Help:      "Cumulative size of blobs written to the object store.",
		}),
	}

	if err := register(reg, o.duration, &o.duration); err != nil {
		return nil, err
	}
	if err := register(reg, o.errors, &o.errors); err != nil {
		return nil, err
	}
	if err := register(reg, o.savedBytes, &o.savedBytes); err != nil {
		return nil, err
	}
	return o, nil
}

// register reuses an already registered collector of the same type
func register[T prometheus.Collector](reg prometheus.Registerer, c T, dst *T) error {
	err := reg.Register(c)
	if err == nil {
		return nil
	}
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(T); ok {
			*dst = existing
			return nil
		}
	}
	return fmt.Errorf("register storage metric: %w", err)
}

func (o *PrometheusObserver) RecordSave(duration time.Duration, sizeBytes int64, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues("save").Observe(duration.Seconds())
	if err != nil {
		o.errors.WithLabelValues("save").Inc()
		return
	}
	o.savedBytes.Add(float64(sizeBytes))
}

func (o *PrometheusObserver) RecordDelete(duration time.Duration, err error) {
	o.record("delete", duration, err)
}

func (o *PrometheusObserver) RecordSign(duration time.Duration, err error) {
	o.record("sign", duration, err)
}

func (o *PrometheusObserver) record(op string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		o.errors.WithLabelValues(op).Inc()
	}
}

type nopObserver struct{}

func (nopObserver) RecordSave(time.Duration, int64, error) {}

func (nopObserver) RecordDelete(time.Duration, error) {}

func (nopObserver) RecordSign(time.Duration, error) {}

// Instrumented reports every write, delete and signing call to an Observer
type Instrumented struct {
	BlobStore
	obs Observer
}

func Instrument(store BlobStore, obs Observer) *Instrumented {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Instrumented{BlobStore: store, obs: obs}
}

func (i *Instrumented) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	start := time.Now()
	k, err := i.BlobStore.Save(ctx, key, r, size, contentType)
	i.obs.RecordSave(time.Since(start), size, err)
	return k, err
}

func (i *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.BlobStore.Delete(ctx, key)
	i.obs.RecordDelete(time.Since(start), err)
	return err
}

func (i *Instrumented) SignedReadURL(ctx context.Context, key string, opts SignOptions) (string, error) {
	start := time.Now()
	u, err := i.BlobStore.SignedReadURL(ctx, key, opts)
	i.obs.RecordSign(time.Since(start), err)
	return u, err
}

func (i *Instrumented) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, ok := i.BlobStore.(BlobReader)
	if !ok {
		return nil, errNoReader
	}
	return reader.Open(ctx, key)
}
