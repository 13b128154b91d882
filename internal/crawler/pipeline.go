package crawler

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/corpus"
	"github.com/JakeFAU/pubsearch/internal/index"
	"github.com/JakeFAU/pubsearch/internal/logging"
	"github.com/JakeFAU/pubsearch/internal/notify"
	"github.com/JakeFAU/pubsearch/internal/storage"
	"github.com/JakeFAU/pubsearch/internal/telemetry"
)

const jsonContentType = "application/json"

// PipelineConfig controls what happens after the stages finish.
type PipelineConfig struct {
	RebuildIndex bool
	// Topic receives the completion event; empty disables publishing.
	Topic string
}

// Pipeline runs Stage 1, Stage 2, merge and persistence.
type Pipeline struct {
	collector *Collector
	details   *DetailExtractor
	store     storage.BlobStore
	publisher notify.Publisher
	clock     Clock
	ids       IDGenerator
	hasher    Hasher
	cfg       PipelineConfig
	logger    *zap.Logger
}

// NewPipeline wires a Pipeline. publisher and hasher may be nil.
func NewPipeline(
	collector *Collector,
	details *DetailExtractor,
	store storage.BlobStore,
	publisher notify.Publisher,
	clock Clock,
	ids IDGenerator,
	hasher Hasher,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Pipeline{
		collector: collector,
		details:   details,
		store:     store,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		hasher:    hasher,
		cfg:       cfg,
		logger:    logging.OrNop(logger),
	}
}

// Summary describes a finished run.
type Summary struct {
	RunID          string
	TotalItems     int
	WithContent    int
	Stage1         time.Duration
	Stage2         time.Duration
	Total          time.Duration
	ListingURI     string
	CorpusURI      string
	CorpusSHA256   string
	IndexURI       string
	IndexRebuilt   bool
	AvgSecondsItem float64
	ItemsPerMinute float64
	// SuccessRate is the percentage of records with authors or an abstract.
	SuccessRate float64
	FinishedAt  time.Time
}

// Run executes the crawl. It fails with ErrNoListings when Stage 1 finds
// nothing; per-page and per-item failures only degrade the output.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "crawl.run")
	defer span.End()

	summary, err := p.run(ctx)
	span.SetAttributes(
		attribute.String("run_id", summary.RunID),
		attribute.Int("total_items", summary.TotalItems),
		attribute.Int("with_content", summary.WithContent),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return summary, err
}

func (p *Pipeline) run(ctx context.Context) (Summary, error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("run id: %w", err)
	}
	logger := p.logger.With(zap.String("run_id", runID))
	summary := Summary{RunID: runID}
	start := p.clock.Now()

	logger.Info("stage 1: collecting listing")
	listing, err := p.collector.Collect(ctx)
	if err != nil && len(listing) == 0 {
		return summary, err
	}
	if len(listing) == 0 {
		return summary, ErrNoListings
	}
	if summary.ListingURI, err = p.putListing(ctx, listing); err != nil {
		return summary, err
	}
	stage1End := p.clock.Now()
	summary.Stage1 = stage1End.Sub(start)
	logger.Info("stage 1 complete", zap.Int("items", len(listing)), zap.Duration("elapsed", summary.Stage1))

	logger.Info("stage 2: extracting details", zap.Int("items", len(listing)))
	details := p.details.ExtractBatch(ctx, listing)
	records := corpus.Merge(listing, details)
	summary.Stage2 = p.clock.Now().Sub(stage1End)

	data, err := corpus.Encode(records)
	if err != nil {
		return summary, err
	}
	if p.hasher != nil {
		if summary.CorpusSHA256, err = p.hasher.Hash(data); err != nil {
			logger.Warn("hash corpus", zap.Error(err))
		}
	}
	if summary.CorpusURI, err = storage.PutBytes(ctx, p.store, corpus.CorpusFile, jsonContentType, data); err != nil {
		return summary, err
	}

	summary.TotalItems = len(records)
	for _, r := range records {
		if r.HasContent() {
			summary.WithContent++
		}
	}

	if p.cfg.RebuildIndex {
		ix := index.Build(records)
		data, err := index.Encode(ix)
		if err != nil {
			return summary, err
		}
		if summary.IndexURI, err = storage.PutBytes(ctx, p.store, index.File, jsonContentType, data); err != nil {
			return summary, err
		}
		summary.IndexRebuilt = true
		logger.Info("index rebuilt", zap.Int("terms", len(ix.Terms)), zap.String("uri", summary.IndexURI))
	}

	summary.FinishedAt = p.clock.Now()
	summary.Total = summary.FinishedAt.Sub(start)
	summary.finish()
	logger.Info("crawl complete", summary.Fields()...)

	p.publish(ctx, summary, logger)
	return summary, nil
}

func (p *Pipeline) putListing(ctx context.Context, listing []corpus.ListingItem) (string, error) {
	data, err := corpus.Encode(listing)
	if err != nil {
		return "", err
	}
	return storage.PutBytes(ctx, p.store, corpus.ListingFile, jsonContentType, data)
}

func (p *Pipeline) publish(ctx context.Context, s Summary, logger *zap.Logger) {
	if p.cfg.Topic == "" {
		return
	}
	event := notify.CrawlCompleted{
		RunID:            s.RunID,
		FinishedAt:       s.FinishedAt,
		TotalItems:       s.TotalItems,
		SuccessRate:      s.SuccessRate,
		ListingSeconds:   s.Stage1.Seconds(),
		DetailSeconds:    s.Stage2.Seconds(),
		TotalSeconds:     s.Total.Seconds(),
		CorpusURI:        s.CorpusURI,
		CorpusSHA256:     s.CorpusSHA256,
		IndexURI:         s.IndexURI,
		IndexRebuilt:     s.IndexRebuilt,
		ItemsPerMinute:   s.ItemsPerMinute,
		AvgSecondsPerDoc: s.AvgSecondsItem,
	}
	id, err := p.publisher.Publish(ctx, p.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish completion event", zap.String("topic", p.cfg.Topic), zap.Error(err))
		return
	}
	logger.Info("completion event published", zap.String("topic", p.cfg.Topic), zap.String("message_id", id))
}

func (s *Summary) finish() {
	if s.TotalItems == 0 {
		return
	}
	s.AvgSecondsItem = s.Stage2.Seconds() / float64(s.TotalItems)
	if mins := s.Total.Minutes(); mins > 0 {
		s.ItemsPerMinute = float64(s.TotalItems) / mins
	}
	s.SuccessRate = 100 * float64(s.WithContent) / float64(s.TotalItems)
}

// Fields renders the summary as structured log fields.
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("total_items", s.TotalItems),
		zap.Int("with_content", s.WithContent),
		zap.Float64("stage1_seconds", s.Stage1.Seconds()),
		zap.Float64("stage2_seconds", s.Stage2.Seconds()),
		zap.Float64("total_seconds", s.Total.Seconds()),
		zap.Float64("avg_seconds_per_item", s.AvgSecondsItem),
		zap.Float64("items_per_minute", s.ItemsPerMinute),
		zap.Float64("success_rate", s.SuccessRate),
		zap.String("corpus_uri", s.CorpusURI),
		zap.Bool("index_rebuilt", s.IndexRebuilt),
	}
}

// Print writes the human-readable run summary.
func (s Summary) Print(w io.Writer) error {
	_, err := fmt.Fprintf(w, `
Crawl summary (run %s)
  Total items:        %d
  Stage 1 (listing):  %.1fs
  Stage 2 (details):  %.1fs
  Total time:         %.1fs
  Avg per item:       %.2fs
  Items per minute:   %.1f
  Success rate:       %.1f%% (%d/%d with authors or abstract)
  Corpus:             %s
`, s.RunID, s.TotalItems, s.Stage1.Seconds(), s.Stage2.Seconds(), s.Total.Seconds(),
		s.AvgSecondsItem, s.ItemsPerMinute, s.SuccessRate, s.WithContent, s.TotalItems, s.CorpusURI)
	if err != nil {
		return fmt.Errorf("print summary: %w", err)
	}
	if s.IndexRebuilt {
		if _, err := fmt.Fprintf(w, "  Index:              %s\n", s.IndexURI); err != nil {
			return fmt.Errorf("print summary: %w", err)
		}
	}
	return nil
}
