package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// StaticOptions configures plain HTTP sessions.
type StaticOptions struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps response bodies; 0 keeps colly's default.
	MaxBodySize int
}

// StaticFactory opens colly-backed sessions. Each session owns a collector and
// therefore its own cookie jar.
type StaticFactory struct {
	opts StaticOptions
}

// NewStaticFactory builds a StaticFactory.
func NewStaticFactory(opts StaticOptions) *StaticFactory {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &StaticFactory{opts: opts}
}

// NewSession implements Factory.
func (f *StaticFactory) NewSession(context.Context) (Session, error) {
	options := []colly.CollectorOption{colly.AllowURLRevisit()}
	if f.opts.UserAgent != "" {
		options = append(options, colly.UserAgent(f.opts.UserAgent))
	}
	if f.opts.MaxBodySize > 0 {
		options = append(options, colly.MaxBodySize(f.opts.MaxBodySize))
	}
	c := colly.NewCollector(options...)
	c.SetRequestTimeout(f.opts.Timeout)
	return &staticSession{collector: c}, nil
}

// Close implements Factory.
func (f *StaticFactory) Close() error { return nil }

type staticSession struct {
	collector *colly.Collector
}

func (s *staticSession) Render(ctx context.Context, rawURL string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}

	c := s.collector.Clone()
	var (
		result   Page
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		result = Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			HTML:       string(r.Body),
			StatusCode: r.StatusCode,
			Title:      titleOf(r.Body),
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	visitErr := c.Visit(rawURL)
	c.Wait()

	switch {
	case fetchErr != nil:
		return Page{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
	case visitErr != nil:
		return Page{}, fmt.Errorf("visit %s: %w", rawURL, visitErr)
	}
	if err := ctx.Err(); err != nil {
		return Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}
	return result, nil
}

// Snapshot is unsupported: a static document never changes after load.
func (s *staticSession) Snapshot(context.Context) (Page, error) {
	return Page{}, ErrUnsupported
}

func (s *staticSession) Click(context.Context, string) error {
	return ErrUnsupported
}

func (s *staticSession) RunScript(context.Context, string, any) error {
	return ErrUnsupported
}

func (s *staticSession) Screenshot(context.Context) ([]byte, error) {
	return nil, ErrUnsupported
}

func (s *staticSession) Close() error { return nil }

func titleOf(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
