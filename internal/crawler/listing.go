package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/corpus"
	"github.com/JakeFAU/pubsearch/internal/fetcher"
	"github.com/JakeFAU/pubsearch/internal/metrics"
	"github.com/JakeFAU/pubsearch/internal/render"
)

// Collector is Stage 1. It walks listing pages in order on a single session
// so cookies and any cleared challenge carry over between pages.
type Collector struct {
	cfg      Config
	fetch    Fetcher
	sessions render.Factory
	opts     options
}

// NewCollector builds a Collector.
func NewCollector(cfg Config, fetch Fetcher, sessions render.Factory, opts ...Option) *Collector {
	return &Collector{cfg: cfg, fetch: fetch, sessions: sessions, opts: newOptions(opts)}
}

// Collect scrapes pages 0..MaxPages-1. A failing page is logged and skipped.
// The result is de-duplicated by link, keeping the first title seen. An error
// is returned only when no session can be opened or ctx ends.
func (c *Collector) Collect(ctx context.Context) ([]corpus.ListingItem, error) {
	logger := c.opts.logger.Named("listing")
	sess, err := c.sessions.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open listing session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("close listing session", zap.Error(err))
		}
	}()

	var all []corpus.ListingItem
	for i := range c.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return corpus.DedupListing(all), fmt.Errorf("listing interrupted: %w", err)
		}
		items, err := c.scrapePage(ctx, sess, i)
		if err != nil {
			logger.Warn("listing page failed", zap.Int("page", i), zap.Error(err))
		} else {
			if len(items) == 0 {
				logger.Info("listing page empty", zap.Int("page", i))
			} else {
				logger.Info("listing page scraped", zap.Int("page", i), zap.Int("items", len(items)))
			}
			metrics.AddListingItems(len(items))
			all = append(all, items...)
		}
		if i < c.cfg.MaxPages-1 {
			if err := c.opts.sleep(ctx, c.cfg.PagePace.Draw(c.opts.uniform)); err != nil {
				return corpus.DedupListing(all), fmt.Errorf("listing interrupted: %w", err)
			}
		}
	}
	return corpus.DedupListing(all), nil
}

func (c *Collector) scrapePage(ctx context.Context, sess render.Session, i int) ([]corpus.ListingItem, error) {
	pageURL, err := ListingURL(c.cfg.BaseURL, i)
	if err != nil {
		return nil, err
	}
	page, err := c.fetch.Fetch(ctx, sess, pageURL, fmt.Sprintf("listing-page-%d", i+1))
	if err != nil {
		return nil, err
	}
	if c.cfg.DebugCapture && i == 0 && c.opts.recorder != nil {
		c.opts.recorder.Record(ctx, sess, fetcher.Capture{Label: "listing-first", URL: pageURL, Attempt: 0, Page: page})
	}
	dismissConsent(ctx, sess, c.cfg.ConsentSelector)

	page, ok := c.opts.waitFor(ctx, sess, page, c.cfg.ListingWait, c.cfg.WaitPoll, c.listingReady)
	if !ok {
		c.opts.logger.Debug("timed out waiting for listing results", zap.Int("page", i))
	}

	base := page.FinalURL
	if base == "" {
		base = pageURL
	}
	return ParseListing(page.HTML, base, c.cfg.ResultSelector), nil
}

func (c *Collector) listingReady(p render.Page) bool {
	if c.cfg.NoResultsText != "" && strings.Contains(p.HTML, c.cfg.NoResultsText) {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return false
	}
	return doc.Find(c.cfg.ResultSelector).Length() > 0
}

// ParseListing extracts (title, link) pairs from listing markup. Links are
// resolved against pageURL; rows missing either part are dropped.
func ParseListing(html, pageURL, selector string) []corpus.ListingItem {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}
	var items []corpus.ListingItem
	doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
		title := strings.Join(strings.Fields(a.Text()), " ")
		link := NormalizeLink(base, a.AttrOr("href", ""))
		if title == "" || link == "" {
			return
		}
		items = append(items, corpus.ListingItem{Title: title, Link: link})
	})
	return items
}
