package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/api"
	"github.com/JakeFAU/pubsearch/internal/clock/system"
	appconfig "github.com/JakeFAU/pubsearch/internal/config"
	"github.com/JakeFAU/pubsearch/internal/corpus"
	"github.com/JakeFAU/pubsearch/internal/index"
	"github.com/JakeFAU/pubsearch/internal/querycache"
	"github.com/JakeFAU/pubsearch/internal/search"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the search API",
		Long: `Loads the corpus and, when present, the inverted index from the data
directory and answers /search, /health, /classify and /cluster requests.`,
		RunE: runServeCommand,
	}
	cmd.Flags().Int("port", 0, "HTTP listen port")
	bindFlags(cmd, map[string]string{"port": "server.port"})
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	service := loadService(cfg, logger)
	server := api.NewServer(service, api.Options{
		DataDir: cfg.Storage.DataDir,
		Logger:  logger,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// loadService builds the search service from the data directory. A missing
// corpus leaves the API up but uninitialized; a missing or unreadable index
// falls back to vector scoring.
func loadService(cfg appconfig.Config, logger *zap.Logger) *search.Service {
	records, source, err := corpus.Load(cfg.CorpusPath(), cfg.ListingPath())
	if err != nil {
		logger.Warn("Corpus not available; search is disabled", zap.Error(err))
		return nil
	}

	ix, err := index.Load(cfg.IndexPath())
	if err != nil {
		logger.Warn("Index unreadable; using vector scoring", zap.Error(err))
		ix = nil
	}

	engine := search.NewEngine(records, ix)
	cache := querycache.New[[]search.Result](cfg.Search.CacheMax, cfg.CacheTTL(), system.New())
	logger.Info("Search engine ready",
		zap.String("source", source),
		zap.Int("publications", engine.Len()),
		zap.String("mode", string(engine.Mode())),
	)
	return search.NewService(engine, cache, cfg.ServiceOptions(), logger.Named("search"))
}
