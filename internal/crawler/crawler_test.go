package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pubsearch/internal/corpus"
	"github.com/JakeFAU/pubsearch/internal/extract"
	"github.com/JakeFAU/pubsearch/internal/render"
	"github.com/JakeFAU/pubsearch/internal/render/rendertest"
)

const testBase = "https://pureportal.coventry.ac.uk/en/organisations/ics/publications/"

var errNotFound = errors.New("not found")

// passthrough renders directly through the session, like a fetcher with no
// retries or politeness.
type passthrough struct {
	mu     sync.Mutex
	labels []string
}

func (p *passthrough) Fetch(ctx context.Context, sess render.Session, rawURL, label string) (render.Page, error) {
	p.mu.Lock()
	p.labels = append(p.labels, label)
	p.mu.Unlock()
	return sess.Render(ctx, rawURL)
}

// MockFetcher is a mock implementation of the Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, sess render.Session, rawURL, label string) (render.Page, error) {
	args := m.Called(ctx, sess, rawURL, label)
	return args.Get(0).(render.Page), args.Error(1)
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waits)
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func listingURL(t *testing.T, page int) string {
	t.Helper()
	u, err := ListingURL(testBase, page)
	require.NoError(t, err)
	return u
}

func listingHTML(rows ...[2]string) string {
	html := "<html><body>"
	for _, r := range rows {
		html += fmt.Sprintf(`<div class="result-container"><h3 class="title"><a href="%s">%s</a></h3></div>`, r[1], r[0])
	}
	return html + "</body></html>"
}

func staticFactory(pages map[string]render.Page) *rendertest.Factory {
	return &rendertest.Factory{New: func(int) (*rendertest.Session, error) {
		return rendertest.Static(pages, errNotFound), nil
	}}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = testBase
	return cfg
}

func TestListingURL(t *testing.T) {
	t.Parallel()

	got, err := ListingURL("https://portal.test/pubs/?sort=date", 3)
	require.NoError(t, err)
	assert.Equal(t, "https://portal.test/pubs/?page=3&sort=date", got)

	_, err = ListingURL("://bad", 0)
	assert.Error(t, err)
}

func TestNormalizeLink(t *testing.T) {
	t.Parallel()

	base, _ := ListingURL(testBase, 0)
	cases := map[string]string{
		"/en/publications/a#main":             "https://pureportal.coventry.ac.uk/en/publications/a",
		"HTTPS://PurePortal.Coventry.ac.uk/x": "https://pureportal.coventry.ac.uk/x",
		"mailto:someone@coventry.ac.uk":       "",
		"   ":                                 "",
		"javascript:void(0)":                  "",
		"../../persons/jane?tab=1":            "https://pureportal.coventry.ac.uk/en/organisations/persons/jane?tab=1",
	}
	for href, want := range cases {
		assert.Equal(t, want, NormalizeLink(mustParse(t, base), href), href)
	}
}

func TestParseListing(t *testing.T) {
	t.Parallel()

	html := listingHTML(
		[2]string{"  Bridge\n  monitoring ", "/en/publications/bridge"},
		[2]string{"", "/en/publications/untitled"},
		[2]string{"No link", ""},
	)
	got := ParseListing(html, testBase, DefaultConfig().ResultSelector)
	assert.Equal(t, []corpus.ListingItem{
		{Title: "Bridge monitoring", Link: "https://pureportal.coventry.ac.uk/en/publications/bridge"},
	}, got)
}

func TestCollectorSkipsFailedPagesAndDedups(t *testing.T) {
	t.Parallel()

	pages := map[string]render.Page{
		listingURL(t, 0): {HTML: listingHTML(
			[2]string{"Paper A", "/en/publications/a"},
			[2]string{"Paper B", "/en/publications/b"},
		)},
		// page 1 is missing and fails to render
		listingURL(t, 2): {HTML: listingHTML(
			[2]string{"Paper B again", "/en/publications/b#top"},
			[2]string{"Paper C", "/en/publications/c"},
		)},
	}
	factory := staticFactory(pages)
	fetch := &passthrough{}
	sleeps := &sleepRecorder{}

	cfg := testConfig()
	cfg.MaxPages = 3
	c := NewCollector(cfg, fetch, factory, WithSleep(sleeps.sleep), WithUniform(func() float64 { return 0 }))

	items, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []corpus.ListingItem{
		{Title: "Paper A", Link: "https://pureportal.coventry.ac.uk/en/publications/a"},
		{Title: "Paper B", Link: "https://pureportal.coventry.ac.uk/en/publications/b"},
		{Title: "Paper C", Link: "https://pureportal.coventry.ac.uk/en/publications/c"},
	}, items)

	assert.Equal(t, []string{"listing-page-1", "listing-page-2", "listing-page-3"}, fetch.labels)
	assert.Equal(t, 2, sleeps.count(), "pace between pages only")
	require.Len(t, factory.Sessions(), 1, "one session for every listing page")
	assert.True(t, factory.Sessions()[0].Closed())
	assert.Equal(t, []string{listingURL(t, 0), listingURL(t, 1), listingURL(t, 2)}, factory.Sessions()[0].Renders())
}

func TestCollectorNoResultsPage(t *testing.T) {
	t.Parallel()

	pages := map[string]render.Page{
		listingURL(t, 0): {HTML: "<html><body><p>No results</p></body></html>"},
	}
	cfg := testConfig()
	cfg.MaxPages = 1
	c := NewCollector(cfg, &passthrough{}, staticFactory(pages), WithSleep(func(context.Context, time.Duration) error { return nil }))

	items, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCollectorWaitsForResults(t *testing.T) {
	t.Parallel()

	ready := render.Page{HTML: listingHTML([2]string{"Late paper", "/en/publications/late"})}
	sess := rendertest.Static(map[string]render.Page{listingURL(t, 0): {HTML: "<html><body>loading</body></html>"}}, errNotFound)
	sess.OnSnapshot = func(_ context.Context, n int) (render.Page, error) {
		if n < 2 {
			return render.Page{HTML: "<html><body>loading</body></html>"}, nil
		}
		return ready, nil
	}
	factory := &rendertest.Factory{New: func(int) (*rendertest.Session, error) { return sess, nil }}

	cfg := testConfig()
	cfg.MaxPages = 1
	c := NewCollector(cfg, &passthrough{}, factory, WithSleep(func(context.Context, time.Duration) error { return nil }))

	items, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Late paper", items[0].Title)
	assert.Equal(t, 3, sess.Snapshots())
	assert.Contains(t, sess.Clicks(), cfg.ConsentSelector)
}

func TestCollectorSessionFailure(t *testing.T) {
	t.Parallel()

	factory := &rendertest.Factory{New: func(int) (*rendertest.Session, error) { return nil, errors.New("no browser") }}
	_, err := NewCollector(testConfig(), &passthrough{}, factory).Collect(context.Background())
	assert.ErrorContains(t, err, "no browser")
}

func TestCollectorStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	items, err := NewCollector(testConfig(), &passthrough{}, staticFactory(nil)).Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, items)
}

func TestChunks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		n, workers int
		want       []int
	}{
		{0, 3, nil},
		{1, 3, []int{0}},
		{5, 2, []int{0, 3}},
		{6, 3, []int{0, 2, 4}},
		{7, 3, []int{0, 3, 5}},
		{4, 3, []int{0, 2, 3}},
		{5, 4, []int{0, 2, 3, 4}},
		{10, 6, []int{0, 2, 4, 6, 8, 9}},
		{4, 0, []int{0}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Chunks(tc.n, tc.workers), "n=%d workers=%d", tc.n, tc.workers)
	}
}

func TestChunksUseEveryWorker(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 40; n++ {
		for workers := 1; workers <= 12; workers++ {
			starts := Chunks(n, workers)
			require.Len(t, starts, min(workers, n), "n=%d workers=%d", n, workers)
			bounds := append(slices.Clone(starts), n)
			for i := 1; i < len(bounds); i++ {
				runLen := bounds[i] - bounds[i-1]
				assert.Contains(t, []int{n / len(starts), n/len(starts) + 1}, runLen,
					"n=%d workers=%d chunk=%d", n, workers, i-1)
			}
		}
	}
}

const detailAbstract = "Long-span bridges are monitored with low-cost accelerometers and strain gauges."

func detailPage(title string) render.Page {
	return render.Page{HTML: `<html><head>
<meta name="citation_author" content="Doe, Jane">
</head><body>
<h1>` + title + `</h1>
<time datetime="2022-05-04">4 May 2022</time>
<div class="textblock">` + detailAbstract + `</div>
</body></html>`}
}

func items(n int) []corpus.ListingItem {
	out := make([]corpus.ListingItem, n)
	for i := range out {
		out[i] = corpus.ListingItem{
			Title: fmt.Sprintf("Listing %d", i),
			Link:  fmt.Sprintf("https://pureportal.coventry.ac.uk/en/publications/p%d", i),
		}
	}
	return out
}

func newDetail(cfg Config, fetch Fetcher, factory render.Factory) *DetailExtractor {
	return NewDetailExtractor(cfg, fetch, factory, extract.New(extract.DefaultRules()),
		WithSleep(func(context.Context, time.Duration) error { return nil }))
}

func TestExtractBatchPreservesOrder(t *testing.T) {
	t.Parallel()

	in := items(5)
	pages := map[string]render.Page{}
	for i, it := range in {
		if i == 3 {
			continue // fails to render
		}
		pages[it.Link] = detailPage(fmt.Sprintf("Detail %d", i))
	}
	factory := staticFactory(pages)
	cfg := testConfig()
	cfg.Workers = 2

	got := newDetail(cfg, &passthrough{}, factory).ExtractBatch(context.Background(), in)
	require.Len(t, got, 5)
	for i, rec := range got {
		assert.Equal(t, in[i].Link, rec.Link)
		if i == 3 {
			assert.Equal(t, corpus.Stub(in[i]), rec)
			continue
		}
		assert.Equal(t, fmt.Sprintf("Detail %d", i), rec.Title)
		assert.Equal(t, []corpus.Author{{Name: "Doe, Jane"}}, rec.Authors)
		assert.Equal(t, "2022-05-04", rec.PublishedDate)
		assert.Equal(t, detailAbstract, rec.Abstract)
	}

	sessions := factory.Sessions()
	require.Len(t, sessions, 2, "one session per chunk")
	for _, s := range sessions {
		assert.True(t, s.Closed())
	}
}

func TestExtractBatchSessionFailureYieldsStubs(t *testing.T) {
	t.Parallel()

	in := items(4)
	factory := &rendertest.Factory{New: func(int) (*rendertest.Session, error) {
		return nil, errors.New("browser crashed")
	}}
	cfg := testConfig()
	cfg.Workers = 2

	got := newDetail(cfg, &passthrough{}, factory).ExtractBatch(context.Background(), in)
	require.Len(t, got, 4)
	for i, rec := range got {
		assert.Equal(t, corpus.Stub(in[i]), rec)
	}
}

func TestExtractBatchFetchErrorYieldsStub(t *testing.T) {
	t.Parallel()

	in := items(1)
	fetch := new(MockFetcher)
	fetch.On("Fetch", mock.Anything, mock.Anything, in[0].Link, "detail").
		Return(render.Page{}, errors.New("exhausted")).Once()

	cfg := testConfig()
	cfg.Workers = 1
	got := newDetail(cfg, fetch, staticFactory(nil)).ExtractBatch(context.Background(), in)
	assert.Equal(t, []corpus.Record{corpus.Stub(in[0])}, got)
	fetch.AssertExpectations(t)
}

func TestExtractBatchRecoversFromPanic(t *testing.T) {
	t.Parallel()

	in := items(2)
	fetch := new(MockFetcher)
	fetch.On("Fetch", mock.Anything, mock.Anything, in[0].Link, "detail").
		Run(func(mock.Arguments) { panic("renderer bug") }).Return(render.Page{}, nil).Once()
	fetch.On("Fetch", mock.Anything, mock.Anything, in[1].Link, "detail").
		Return(detailPage("Second"), nil).Once()

	cfg := testConfig()
	cfg.Workers = 1
	got := newDetail(cfg, fetch, staticFactory(nil)).ExtractBatch(context.Background(), in)
	require.Len(t, got, 2)
	assert.Equal(t, corpus.Stub(in[0]), got[0])
	assert.Equal(t, "Second", got[1].Title)
}

func TestExtractBatchExpandsAndResnapshots(t *testing.T) {
	t.Parallel()

	in := items(1)
	collapsed := render.Page{HTML: `<html><body><h1>Collapsed</h1></body></html>`}
	sess := rendertest.Static(map[string]render.Page{in[0].Link: collapsed}, errNotFound)
	sess.OnScript = func(_ string, res any) error {
		*(res.(*int)) = 1
		return nil
	}
	sess.OnSnapshot = func(context.Context, int) (render.Page, error) { return detailPage("Expanded"), nil }
	factory := &rendertest.Factory{New: func(int) (*rendertest.Session, error) { return sess, nil }}

	cfg := testConfig()
	cfg.Workers = 1
	got := newDetail(cfg, &passthrough{}, factory).ExtractBatch(context.Background(), in)
	require.Len(t, got, 1)
	assert.Equal(t, "Expanded", got[0].Title)
	assert.Equal(t, 1, sess.Scripts())
}

func TestExtractBatchEmpty(t *testing.T) {
	t.Parallel()

	got := newDetail(testConfig(), &passthrough{}, staticFactory(nil)).ExtractBatch(context.Background(), nil)
	assert.Empty(t, got)
}

func TestRecordQuality(t *testing.T) {
	t.Parallel()

	author := []corpus.Author{{Name: "Doe, Jane"}}
	assert.Equal(t, "full", recordQuality(corpus.Record{Authors: author, Abstract: "x"}))
	assert.Equal(t, "partial", recordQuality(corpus.Record{Authors: author}))
	assert.Equal(t, "partial", recordQuality(corpus.Record{Abstract: "x"}))
	assert.Equal(t, "empty", recordQuality(corpus.Record{}))
}
