// Package app assembles the petri runtime from configuration: the key-value
// store, the photo blob store, the remote client, the session manager and the
// tree synchronizer.
package app

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"petri/internal/blob"
	"petri/internal/config"
	"petri/internal/core"
	"petri/internal/remote"
	"petri/internal/session"
	"petri/pkg/domain"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	KV       domain.KeyValueStore
	Blobs    blob.Store
	Remote   *remote.Client
	Session  *session.Manager
	Sync     *core.Synchronizer
	Metrics  *core.PrometheusMetricsRecorder
	Registry *prometheus.Registry

	traces *sdktrace.TracerProvider
}

type buildOptions struct {
	httpClient *http.Client
}

// Option customises Build.
type Option func(*buildOptions)

// WithHTTPClient overrides the HTTP client of the remote tree service.
func WithHTTPClient(c *http.Client) Option {
	return func(o *buildOptions) { o.httpClient = c }
}

// Build wires every component, restores a persisted session and hydrates the
// synchronizer from its snapshot. Nothing is fetched remotely.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	kv, err := core.OpenKeyValueStore(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s storage", cfg.Storage.Driver)
	}
	a.KV = kv

	blobs, err := blob.Open(ctx, blob.Config{
		Driver:      cfg.Blob.Driver,
		FSRoot:      cfg.Blob.FSRoot,
		S3Bucket:    cfg.Blob.S3Bucket,
		S3Region:    cfg.Blob.S3Region,
		S3Endpoint:  cfg.Blob.S3Endpoint,
		S3PathStyle: cfg.Blob.S3PathStyle,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s blob store", cfg.Blob.Driver)
	}
	a.Blobs = blobs

	a.Remote, err = remote.New(remote.Config{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.API.Timeout,
		RateLimit:  cfg.API.RateLimit,
		HTTPClient: o.httpClient,
	}, logger.Named("remote"))
	if err != nil {
		return nil, err
	}

	a.Session = session.New(a.Remote, kv, session.WithLogger(logger.Named("session")))
	restored, err := a.Session.Restore(ctx)
	if err != nil {
		return nil, err
	}

	a.Registry = prometheus.NewRegistry()
	a.Metrics, err = core.NewPrometheusMetricsRecorder(a.Registry)
	if err != nil {
		return nil, errors.Wrap(err, "register metrics")
	}
	a.traces = sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(newSpanLogExporter(logger.Named("trace"))),
	)

	a.Sync = core.New(a.Remote, a.Session, kv, blobs,
		core.WithLogger(logger.Named("sync")),
		core.WithMetrics(a.Metrics),
		core.WithTracer(core.NewOTelTracer(a.traces.Tracer("petri"))),
	)
	if err := a.Sync.Init(ctx); err != nil {
		return nil, err
	}

	logger.Debug("app ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("blob", string(blobs.Driver())),
		zap.Bool("session_restored", restored),
	)
	ok = true
	return a, nil
}

// Close disposes the synchronizer, flushes spans and closes the store.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.Sync != nil {
		a.Sync.Dispose()
	}
	if a.traces != nil {
		if terr := a.traces.Shutdown(ctx); terr != nil {
			err = errors.CombineErrors(err, errors.Wrap(terr, "shutdown tracer"))
		}
	}
	if a.KV != nil {
		if cerr := a.KV.Close(); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrap(cerr, "close storage"))
		}
	}
	return err
}
