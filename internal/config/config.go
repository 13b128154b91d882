// Package config loads and validates pubsearch configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pubsearch/internal/corpus"
	"github.com/JakeFAU/pubsearch/internal/crawler"
	"github.com/JakeFAU/pubsearch/internal/extract"
	"github.com/JakeFAU/pubsearch/internal/fetcher"
	"github.com/JakeFAU/pubsearch/internal/index"
	"github.com/JakeFAU/pubsearch/internal/politeness"
	"github.com/JakeFAU/pubsearch/internal/render"
	"github.com/JakeFAU/pubsearch/internal/search"
)

// EnvPrefix namespaces environment overrides, e.g. PUBSEARCH_CRAWLER_WORKERS.
const EnvPrefix = "PUBSEARCH"

// DefaultUserAgent identifies the crawler to the portal.
const DefaultUserAgent = "IR-Crawler/1.0 (+https://pureportal.coventry.ac.uk)"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Renderer   RendererConfig   `mapstructure:"renderer"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Search     SearchConfig     `mapstructure:"search"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// CrawlerConfig governs the two crawl stages.
type CrawlerConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	MaxPages        int           `mapstructure:"max_pages"`
	Workers         int           `mapstructure:"workers"`
	ResultSelector  string        `mapstructure:"result_selector"`
	NoResultsText   string        `mapstructure:"no_results_text"`
	ListingWait     time.Duration `mapstructure:"listing_wait"`
	ReadySelector   string        `mapstructure:"ready_selector"`
	ReadyWait       time.Duration `mapstructure:"ready_wait"`
	ConsentSelector string        `mapstructure:"consent_selector"`
	ExpandButtons   int           `mapstructure:"expand_buttons"`
	PacingMin       time.Duration `mapstructure:"pacing_min"`
	PacingMax       time.Duration `mapstructure:"pacing_max"`
	// CaptureDir enables failed-attempt dumps when set.
	CaptureDir   string `mapstructure:"capture_dir"`
	DebugCapture bool   `mapstructure:"debug_capture"`
	RebuildIndex bool   `mapstructure:"rebuild_index"`
}

// PolitenessConfig controls robots.txt handling and host spacing.
type PolitenessConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	CrawlDelay    time.Duration `mapstructure:"crawl_delay"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// FetchConfig tunes retries and the interstitial wait.
type FetchConfig struct {
	Retries          int           `mapstructure:"retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	PageLoadTimeout  time.Duration `mapstructure:"page_load_timeout"`
	ChallengeTimeout time.Duration `mapstructure:"challenge_timeout"`
	ChallengePoll    time.Duration `mapstructure:"challenge_poll"`
	MinContentBytes  int           `mapstructure:"min_content_bytes"`
	ExpectedHost     string        `mapstructure:"expected_host"`
}

// RendererConfig selects the browser or the plain HTTP renderer.
type RendererConfig struct {
	Mode         string `mapstructure:"mode"`
	Headless     bool   `mapstructure:"headless"`
	ExecPath     string `mapstructure:"exec_path"`
	WindowWidth  int    `mapstructure:"window_width"`
	WindowHeight int    `mapstructure:"window_height"`
}

// ExtractConfig describes where author profiles live.
type ExtractConfig struct {
	ProfilePrefix  string `mapstructure:"profile_prefix"`
	ProfileHost    string `mapstructure:"profile_host"`
	MinAbstractLen int    `mapstructure:"min_abstract_len"`
}

// StorageConfig chooses where artifacts are written.
type StorageConfig struct {
	Provider string    `mapstructure:"provider"`
	DataDir  string    `mapstructure:"data_dir"`
	GCS      GCSConfig `mapstructure:"gcs"`
}

// GCSConfig identifies the mirror bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// NotifyConfig holds metadata for crawl completion events.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SearchConfig sizes the query cache and pagination.
type SearchConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
	CacheMax        int `mapstructure:"cache_max"`
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Tracing     bool   `mapstructure:"tracing"`
	ServiceName string `mapstructure:"service_name"`
}

// Load unmarshals and validates v. Defaults must already be registered with
// SetDefaults.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers every key with its default so env overrides and
// Unmarshal see the full tree.
func SetDefaults(v *viper.Viper) {
	crawl := crawler.DefaultConfig()
	fetch := fetcher.DefaultConfig()
	rules := extract.DefaultRules()

	v.SetDefault("crawler.base_url", crawl.BaseURL)
	v.SetDefault("crawler.max_pages", crawl.MaxPages)
	v.SetDefault("crawler.workers", crawl.Workers)
	v.SetDefault("crawler.result_selector", crawl.ResultSelector)
	v.SetDefault("crawler.no_results_text", crawl.NoResultsText)
	v.SetDefault("crawler.listing_wait", crawl.ListingWait)
	v.SetDefault("crawler.ready_selector", crawl.ReadySelector)
	v.SetDefault("crawler.ready_wait", crawl.ReadyWait)
	v.SetDefault("crawler.consent_selector", crawl.ConsentSelector)
	v.SetDefault("crawler.expand_buttons", crawl.ExpandButtons)
	v.SetDefault("crawler.pacing_min", crawl.ItemPace.Min)
	v.SetDefault("crawler.pacing_max", crawl.ItemPace.Max)
	v.SetDefault("crawler.capture_dir", "")
	v.SetDefault("crawler.debug_capture", false)
	v.SetDefault("crawler.rebuild_index", false)

	v.SetDefault("politeness.user_agent", DefaultUserAgent)
	v.SetDefault("politeness.crawl_delay", time.Second)
	v.SetDefault("politeness.respect_robots", true)

	v.SetDefault("fetch.retries", fetch.Retries)
	v.SetDefault("fetch.retry_delay", fetch.Backoff.Base)
	v.SetDefault("fetch.page_load_timeout", fetch.PageLoadTimeout)
	v.SetDefault("fetch.challenge_timeout", fetch.ChallengeTimeout)
	v.SetDefault("fetch.challenge_poll", fetch.ChallengePoll)
	v.SetDefault("fetch.min_content_bytes", fetch.MinContentBytes)
	v.SetDefault("fetch.expected_host", "")

	v.SetDefault("renderer.mode", string(render.ModeBrowser))
	v.SetDefault("renderer.headless", true)
	v.SetDefault("renderer.exec_path", "")
	v.SetDefault("renderer.window_width", 1366)
	v.SetDefault("renderer.window_height", 900)

	v.SetDefault("extract.profile_prefix", rules.ProfilePrefix)
	v.SetDefault("extract.profile_host", rules.ProfileHost)
	v.SetDefault("extract.min_abstract_len", rules.MinAbstractLen)

	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")

	v.SetDefault("notify.provider", "none")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")

	v.SetDefault("search.cache_ttl_seconds", 60)
	v.SetDefault("search.cache_max", 128)
	v.SetDefault("search.default_page_size", 10)
	v.SetDefault("search.max_page_size", 100)

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.development", true)

	v.SetDefault("telemetry.tracing", true)
	v.SetDefault("telemetry.service_name", "pubsearch")
}

// BindEnv enables PUBSEARCH_* overrides plus the bare variable names the
// portal tooling has always read (DATA_DIR, SEARCH_CACHE_TTL, SEARCH_CACHE_MAX).
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	aliases := map[string]string{
		"storage.data_dir":         "DATA_DIR",
		"search.cache_ttl_seconds": "SEARCH_CACHE_TTL",
		"search.cache_max":         "SEARCH_CACHE_MAX",
	}
	for key, alias := range aliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Crawler.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute http(s) URL")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.PacingMax < c.Crawler.PacingMin {
		return fmt.Errorf("crawler.pacing_max must be >= crawler.pacing_min")
	}
	if c.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries must be >= 0")
	}
	if c.Fetch.PageLoadTimeout <= 0 {
		return fmt.Errorf("fetch.page_load_timeout must be > 0")
	}
	switch render.Mode(strings.ToLower(c.Renderer.Mode)) {
	case render.ModeBrowser, render.ModeStatic:
	default:
		return fmt.Errorf("renderer.mode must be %q or %q", render.ModeBrowser, render.ModeStatic)
	}
	switch c.Storage.Provider {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set when storage.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	switch c.Notify.Provider {
	case "", "none", "memory":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set when notify.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown notify.provider %q", c.Notify.Provider)
	}
	if c.Search.CacheMax <= 0 {
		return fmt.Errorf("search.cache_max must be > 0")
	}
	if c.Search.CacheTTLSeconds < 0 {
		return fmt.Errorf("search.cache_ttl_seconds must be >= 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// CorpusPath is where the merged corpus lives in the data directory.
func (c Config) CorpusPath() string {
	return filepath.Join(c.Storage.DataDir, corpus.CorpusFile)
}

// ListingPath is the Stage 1 artifact, the fallback corpus.
func (c Config) ListingPath() string {
	return filepath.Join(c.Storage.DataDir, corpus.ListingFile)
}

// IndexPath is the inverted index artifact.
func (c Config) IndexPath() string {
	return filepath.Join(c.Storage.DataDir, index.File)
}

// CacheTTL converts the configured TTL.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Search.CacheTTLSeconds) * time.Second
}

// CrawlerConfig maps the crawler section onto crawler.Config.
func (c Config) CrawlerConfig() crawler.Config {
	cfg := crawler.DefaultConfig()
	cfg.BaseURL = c.Crawler.BaseURL
	cfg.MaxPages = c.Crawler.MaxPages
	cfg.Workers = c.Crawler.Workers
	cfg.ResultSelector = c.Crawler.ResultSelector
	cfg.NoResultsText = c.Crawler.NoResultsText
	cfg.ListingWait = c.Crawler.ListingWait
	cfg.ReadySelector = c.Crawler.ReadySelector
	cfg.ReadyWait = c.Crawler.ReadyWait
	cfg.ConsentSelector = c.Crawler.ConsentSelector
	cfg.ExpandButtons = c.Crawler.ExpandButtons
	pace := fetcher.Window{Min: c.Crawler.PacingMin, Max: c.Crawler.PacingMax}
	cfg.PagePace = pace
	cfg.ItemPace = pace
	cfg.DebugCapture = c.Crawler.DebugCapture
	return cfg
}

// FetcherConfig maps the fetch section onto fetcher.Config.
func (c Config) FetcherConfig() fetcher.Config {
	cfg := fetcher.DefaultConfig()
	cfg.Retries = c.Fetch.Retries
	cfg.Backoff.Base = c.Fetch.RetryDelay
	cfg.PageLoadTimeout = c.Fetch.PageLoadTimeout
	cfg.ChallengeTimeout = c.Fetch.ChallengeTimeout
	cfg.ChallengePoll = c.Fetch.ChallengePoll
	cfg.MinContentBytes = c.Fetch.MinContentBytes
	cfg.ExpectedHost = c.Fetch.ExpectedHost
	return cfg
}

// PolitenessOptions maps the politeness section.
func (c Config) PolitenessOptions() politeness.Options {
	return politeness.Options{
		UserAgent:     c.Politeness.UserAgent,
		MinDelay:      c.Politeness.CrawlDelay,
		RespectRobots: c.Politeness.RespectRobots,
	}
}

// RenderOptions maps the renderer section.
func (c Config) RenderOptions() render.Options {
	return render.Options{
		Mode:      render.Mode(strings.ToLower(c.Renderer.Mode)),
		UserAgent: c.Politeness.UserAgent,
		Browser: render.BrowserOptions{
			Headless:          c.Renderer.Headless,
			ExecPath:          c.Renderer.ExecPath,
			WindowWidth:       c.Renderer.WindowWidth,
			WindowHeight:      c.Renderer.WindowHeight,
			NavigationTimeout: c.Fetch.PageLoadTimeout,
		},
		Static: render.StaticOptions{Timeout: c.Fetch.PageLoadTimeout},
	}
}

// ExtractRules maps the extract section.
func (c Config) ExtractRules() extract.Rules {
	rules := extract.DefaultRules()
	rules.ProfilePrefix = c.Extract.ProfilePrefix
	rules.ProfileHost = c.Extract.ProfileHost
	rules.MinAbstractLen = c.Extract.MinAbstractLen
	return rules
}

// ServiceOptions maps the search section.
func (c Config) ServiceOptions() search.ServiceOptions {
	return search.ServiceOptions{
		DefaultPageSize: c.Search.DefaultPageSize,
		MaxPageSize:     c.Search.MaxPageSize,
	}
}
