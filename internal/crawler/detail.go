package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pubsearch/internal/corpus"
	"github.com/JakeFAU/pubsearch/internal/extract"
	"github.com/JakeFAU/pubsearch/internal/metrics"
	"github.com/JakeFAU/pubsearch/internal/render"
)

// expandScript clicks up to %d buttons labelled "show…" or "…more" and
// returns how many it clicked.
const expandScript = `(() => {
  const max = %d;
  let n = 0;
  for (const b of document.querySelectorAll('button')) {
    if (n >= max) break;
    const t = (b.innerText || b.textContent || '').toLowerCase();
    if (!t.includes('show') && !t.includes('more')) continue;
    try { b.scrollIntoView({block: 'center'}); b.click(); n++; } catch (e) {}
  }
  return n;
})()`

// DetailExtractor is Stage 2. Items are split into contiguous chunks, one per
// worker, and each worker owns its session for the whole chunk.
type DetailExtractor struct {
	cfg       Config
	fetch     Fetcher
	sessions  render.Factory
	extractor *extract.Extractor
	opts      options
}

// NewDetailExtractor builds a DetailExtractor.
func NewDetailExtractor(cfg Config, fetch Fetcher, sessions render.Factory, ex *extract.Extractor, opts ...Option) *DetailExtractor {
	return &DetailExtractor{cfg: cfg, fetch: fetch, sessions: sessions, extractor: ex, opts: newOptions(opts)}
}

// ExtractBatch returns exactly one record per item, in input order. Items
// that cannot be fetched or parsed come back as stubs.
func (d *DetailExtractor) ExtractBatch(ctx context.Context, items []corpus.ListingItem) []corpus.Record {
	out := make([]corpus.Record, len(items))
	if len(items) == 0 {
		return out
	}
	starts := Chunks(len(items), d.cfg.Workers)

	var g errgroup.Group
	for w, start := range starts {
		end := len(items)
		if w+1 < len(starts) {
			end = starts[w+1]
		}
		g.Go(func() error {
			d.runChunk(ctx, w, items[start:end], out[start:end])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Chunks returns the start offset of each worker's chunk when n items are
// split into exactly min(workers, n) contiguous runs. The first n%workers
// runs carry one extra item.
func Chunks(n, workers int) []int {
	if n == 0 {
		return nil
	}
	workers = min(max(workers, 1), n)
	size, extra := n/workers, n%workers
	starts := make([]int, 0, workers)
	start := 0
	for w := range workers {
		starts = append(starts, start)
		start += size
		if w < extra {
			start++
		}
	}
	return starts
}

func (d *DetailExtractor) runChunk(ctx context.Context, worker int, items []corpus.ListingItem, out []corpus.Record) {
	logger := d.opts.logger.Named("detail").With(zap.Int("worker", worker))
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	sess, err := d.sessions.NewSession(ctx)
	if err != nil {
		logger.Error("open session failed; emitting minimal records", zap.Int("items", len(items)), zap.Error(err))
		for i, it := range items {
			out[i] = corpus.Stub(it)
			metrics.ObserveRecord("stub")
		}
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("close detail session", zap.Error(err))
		}
	}()

	for i, it := range items {
		logger.Info("processing item", zap.Int("n", i+1), zap.Int("of", len(items)), zap.String("link", it.Link))
		out[i] = d.extractOne(ctx, sess, it, logger)
		if i < len(items)-1 {
			_ = d.opts.sleep(ctx, d.cfg.ItemPace.Draw(d.opts.uniform))
		}
	}
}

func (d *DetailExtractor) extractOne(ctx context.Context, sess render.Session, it corpus.ListingItem, logger *zap.Logger) (rec corpus.Record) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("extraction panicked; emitting minimal record", zap.String("link", it.Link), zap.Any("panic", r))
			metrics.ObserveRecord("stub")
			rec = corpus.Stub(it)
		}
	}()

	rendered, err := d.fetch.Fetch(ctx, sess, it.Link, "detail")
	if err != nil {
		logger.Warn("detail fetch failed", zap.String("link", it.Link), zap.Error(err))
		metrics.ObserveRecord("stub")
		return corpus.Stub(it)
	}
	dismissConsent(ctx, sess, d.cfg.ConsentSelector)

	live, ok := d.opts.waitFor(ctx, sess, rendered, d.cfg.ReadyWait, d.cfg.WaitPoll, d.ready)
	if !ok {
		logger.Debug("timed out waiting for detail heading", zap.String("link", it.Link))
	}
	if n := d.expand(ctx, sess); n > 0 {
		if snap, err := sess.Snapshot(ctx); err == nil {
			live = snap
		}
	}

	pageURL := live.FinalURL
	if pageURL == "" {
		pageURL = it.Link
	}
	res := d.extractor.Extract(extract.NewInput(live.HTML, rendered.HTML, pageURL), it)
	quality := recordQuality(res.Record)
	metrics.ObserveRecord(quality)
	logger.Debug("extracted record",
		zap.String("link", it.Link),
		zap.String("quality", quality),
		zap.Int("authors", len(res.Record.Authors)),
		zap.String("author_strategy", res.AuthorStrategy),
		zap.String("abstract_strategy", res.AbstractStrategy),
	)
	return res.Record
}

func (d *DetailExtractor) ready(p render.Page) bool {
	if d.cfg.ReadySelector == "" {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return false
	}
	return doc.Find(d.cfg.ReadySelector).Length() > 0
}

// expand reveals collapsed author lists. Sessions without scripting skip it.
func (d *DetailExtractor) expand(ctx context.Context, sess render.Session) int {
	if d.cfg.ExpandButtons <= 0 {
		return 0
	}
	var clicked int
	err := sess.RunScript(ctx, fmt.Sprintf(expandScript, d.cfg.ExpandButtons), &clicked)
	if err != nil && !errors.Is(err, render.ErrUnsupported) {
		d.opts.logger.Debug("expand script failed", zap.Error(err))
	}
	if err != nil {
		return 0
	}
	return clicked
}

func recordQuality(r corpus.Record) string {
	switch {
	case len(r.Authors) > 0 && strings.TrimSpace(r.Abstract) != "":
		return "full"
	case r.HasContent():
		return "partial"
	default:
		return "empty"
	}
}
