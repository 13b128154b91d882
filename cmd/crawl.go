// Package cmd defines and implements the CLI commands for the pubsearch executable.
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/clock/system"
	"github.com/JakeFAU/pubsearch/internal/crawler"
	"github.com/JakeFAU/pubsearch/internal/extract"
	"github.com/JakeFAU/pubsearch/internal/fetcher"
	"github.com/JakeFAU/pubsearch/internal/hash/sha256"
	"github.com/JakeFAU/pubsearch/internal/id/uuid"
	"github.com/JakeFAU/pubsearch/internal/politeness"
	"github.com/JakeFAU/pubsearch/internal/render"
	"github.com/JakeFAU/pubsearch/internal/storage/local"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
// It pages through the portal listing, visits every publication and writes
// the listing and corpus artifacts, optionally rebuilding the index.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the portal and writes the publication corpus",
		Long: `Collects publication links from the portal listing pages, then
extracts title, authors, date and abstract from every publication page
on a small pool of browser sessions. Results are written to the data
directory as publications_links.json and publications.json.`,

		RunE: runCrawlCommand,
	}

	f := cmd.Flags()
	f.Int("max-pages", 0, "maximum listing pages to visit")
	f.Int("workers", 0, "concurrent detail sessions")
	f.Int("retries", 0, "extra attempts per page")
	f.Duration("retry-delay", 0, "base delay before the first retry")
	f.Duration("crawl-delay", 0, "minimum spacing between requests to the portal")
	f.String("base-url", "", "listing URL of the organisation")
	f.String("renderer", "", "page renderer: browser or static")
	f.String("capture-dir", "", "write HTML and screenshots of failed attempts here")
	f.Bool("debug-capture", false, "capture the first listing page")
	f.Bool("rebuild-index", false, "rebuild the inverted index after the crawl")
	bindFlags(cmd, map[string]string{
		"max-pages":     "crawler.max_pages",
		"workers":       "crawler.workers",
		"retries":       "fetch.retries",
		"retry-delay":   "fetch.retry_delay",
		"crawl-delay":   "politeness.crawl_delay",
		"base-url":      "crawler.base_url",
		"renderer":      "renderer.mode",
		"capture-dir":   "crawler.capture_dir",
		"debug-capture": "crawler.debug_capture",
		"rebuild-index": "crawler.rebuild_index",
	})
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	sessions, err := render.NewFactory(cfg.RenderOptions(), logger.Named("render"))
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}
	defer func() {
		if cerr := sessions.Close(); cerr != nil {
			logger.Warn("Failed to close renderer", zap.Error(cerr))
		}
	}()

	policyOpts := cfg.PolitenessOptions()
	policyOpts.Logger = logger.Named("politeness")
	policy := politeness.New(policyOpts)

	fetchOpts := []fetcher.Option{fetcher.WithLogger(logger.Named("fetcher"))}
	crawlOpts := []crawler.Option{crawler.WithLogger(logger.Named("crawler"))}
	if cfg.Crawler.CaptureDir != "" {
		captures, err := local.New(local.Config{BaseDir: cfg.Crawler.CaptureDir})
		if err != nil {
			return fmt.Errorf("init capture dir: %w", err)
		}
		recorder := &fetcher.BlobRecorder{Store: captures, Logger: logger.Named("capture")}
		fetchOpts = append(fetchOpts, fetcher.WithRecorder(recorder))
		crawlOpts = append(crawlOpts, crawler.WithRecorder(recorder))
	}

	detector := fetcher.NewChallengeDetector(fetcher.DefaultChallengeMarkers, fetcher.DefaultChallengeSelectors)
	fetch := fetcher.New(cfg.FetcherConfig(), policy, detector, fetchOpts...)

	crawlCfg := cfg.CrawlerConfig()
	pipeline := crawler.NewPipeline(
		crawler.NewCollector(crawlCfg, fetch, sessions, crawlOpts...),
		crawler.NewDetailExtractor(crawlCfg, fetch, sessions, extract.New(cfg.ExtractRules()), crawlOpts...),
		appInstance.GetStorage(),
		appInstance.GetPublisher(),
		system.New(),
		uuid.New(),
		sha256.New(),
		crawler.PipelineConfig{RebuildIndex: cfg.Crawler.RebuildIndex, Topic: cfg.Notify.Topic},
		logger.Named("pipeline"),
	)

	summary, err := pipeline.Run(cmd.Context())
	if errors.Is(err, crawler.ErrNoListings) {
		logger.Error("No publications found on the listing pages", zap.String("base_url", crawlCfg.BaseURL))
		return err
	}
	if err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}

	logger.Info("Crawl command finished.")
	return summary.Print(cmd.OutOrStdout())
}
