// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/config"
	"github.com/JakeFAU/pubsearch/internal/logging"
	"github.com/JakeFAU/pubsearch/internal/notify"
	notifymemory "github.com/JakeFAU/pubsearch/internal/notify/memory"
	"github.com/JakeFAU/pubsearch/internal/notify/pubsub"
	"github.com/JakeFAU/pubsearch/internal/storage"
	"github.com/JakeFAU/pubsearch/internal/storage/gcs"
	"github.com/JakeFAU/pubsearch/internal/storage/local"
	storagememory "github.com/JakeFAU/pubsearch/internal/storage/memory"
	"github.com/JakeFAU/pubsearch/internal/telemetry"
)

// App holds the shared, long-lived services for one command invocation:
// the logger, the artifact store and the completion-event publisher.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	storage   storage.BlobStore
	publisher notify.Publisher
	closers   []func() error
}

// GetConfig returns the validated configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetStorage exposes the configured artifact store.
func (a *App) GetStorage() storage.BlobStore {
	return a.storage
}

// GetPublisher returns the publisher used for crawl notifications.
func (a *App) GetPublisher() notify.Publisher {
	return a.publisher
}

// GCSClientFactory opens Cloud Storage clients.
type GCSClientFactory interface {
	NewClient(ctx context.Context) (*gcsstorage.Client, error)
}

// DefaultGCSClientFactory uses application default credentials.
type DefaultGCSClientFactory struct{}

// NewClient implements GCSClientFactory.
func (DefaultGCSClientFactory) NewClient(ctx context.Context) (*gcsstorage.Client, error) {
	client, err := gcsstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return client, nil
}

// NewApp builds the services selected by cfg. It fails fast if any of them
// cannot be initialized. A nil logger falls back to logging.L.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, gcsFactory GCSClientFactory) (*App, error) {
	if logger == nil {
		logger = logging.L
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("Initializing application services...")

	// 1. Artifact storage. The data directory is always written so serve can
	// read it back; gcs mirrors every artifact into a bucket.
	switch cfg.Storage.Provider {
	case "local", "gcs":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.DataDir})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.storage = store
		if cfg.Storage.Provider == "gcs" {
			if err := a.addGCSMirror(ctx, gcsFactory); err != nil {
				a.Close()
				return nil, err
			}
		}
	case "memory":
		logger.Info("Using in-memory storage provider. Artifacts will be discarded.")
		a.storage = storagememory.NewBlobStore()
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}

	// 2. Tracing.
	if cfg.Telemetry.Tracing {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })
	}

	// 3. Completion events.
	switch cfg.Notify.Provider {
	case "", "none":
		a.publisher = notify.Nop{}
	case "memory":
		a.publisher = notifymemory.New()
	case "pubsub":
		logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", cfg.Notify.Topic))
		pub, err := pubsub.Dial(ctx, cfg.Notify.ProjectID, cfg.Notify.Topic)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Notify.Provider)
	}

	logger.Info("Application services initialized successfully.",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("notify", cfg.Notify.Provider),
		zap.String("data_dir", cfg.Storage.DataDir),
	)
	return a, nil
}

func (a *App) addGCSMirror(ctx context.Context, factory GCSClientFactory) error {
	if factory == nil {
		factory = DefaultGCSClientFactory{}
	}
	client, err := factory.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	bucket, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCS.Bucket, Prefix: a.cfg.Storage.GCS.Prefix})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.logger.Info("Mirroring artifacts to GCS", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
	a.storage = storage.Mirror{Primary: a.storage, Copies: []storage.BlobStore{bucket}}
	return nil
}

// Close shuts down every service in reverse order of creation and flushes
// the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	// Sync fails on some terminals; nothing useful can be done about it.
	_ = a.logger.Sync()
}
