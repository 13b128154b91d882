package crawler

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/fetcher"
	"github.com/JakeFAU/pubsearch/internal/logging"
	"github.com/JakeFAU/pubsearch/internal/render"
)

// ErrNoListings means Stage 1 found nothing, which aborts the run.
var ErrNoListings = errors.New("crawler: no listing results collected")

// Config holds the settings for a crawl. It is decoupled from viper so the
// stages can be tested independently.
type Config struct {
	BaseURL  string
	MaxPages int
	Workers  int

	// ResultSelector matches the title anchor of each listing row.
	ResultSelector string
	// NoResultsText marks an empty listing page.
	NoResultsText string
	ListingWait   time.Duration

	// ReadySelector must appear on a detail page before extraction.
	ReadySelector string
	ReadyWait     time.Duration
	WaitPoll      time.Duration

	// ConsentSelector is clicked, best effort, after every navigation.
	ConsentSelector string
	// ExpandButtons caps the "show more" buttons clicked per detail page.
	ExpandButtons int

	PagePace fetcher.Window
	ItemPace fetcher.Window

	// DebugCapture dumps the first listing page through the recorder.
	DebugCapture bool
}

// DefaultConfig targets the Pure portal publication listing.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://pureportal.coventry.ac.uk/en/organisations/ics-research-centre-for-computational-science-and-mathematical-mo/publications/",
		MaxPages:        10,
		Workers:         3,
		ResultSelector:  ".result-container h3.title a",
		NoResultsText:   "No results",
		ListingWait:     15 * time.Second,
		ReadySelector:   "h1",
		ReadyWait:       10 * time.Second,
		WaitPoll:        500 * time.Millisecond,
		ConsentSelector: "#onetrust-accept-btn-handler",
		ExpandButtons:   2,
		PagePace:        fetcher.Window{Min: time.Second, Max: 2 * time.Second},
		ItemPace:        fetcher.Window{Min: time.Second, Max: 2 * time.Second},
	}
}

type options struct {
	logger   *zap.Logger
	recorder fetcher.Recorder
	sleep    func(context.Context, time.Duration) error
	uniform  func() float64
}

// Option customises a crawl stage.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = logging.OrNop(l) } }

// WithRecorder receives debug captures.
func WithRecorder(r fetcher.Recorder) Option { return func(o *options) { o.recorder = r } }

// WithSleep replaces the pause used for pacing and readiness polling.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithUniform replaces the [0,1) random source used for pacing.
func WithUniform(u func() float64) Option { return func(o *options) { o.uniform = u } }

func newOptions(opts []Option) options {
	o := options{
		logger:  zap.NewNop(),
		sleep:   fetcher.Sleep,
		uniform: rand.Float64, // #nosec G404 -- pacing jitter
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// waitFor polls the live document until ready accepts it or wait elapses.
// Sessions that cannot snapshot return the page they were given at once.
func (o options) waitFor(ctx context.Context, sess render.Session, page render.Page, wait, poll time.Duration, ready func(render.Page) bool) (render.Page, bool) {
	if ready(page) {
		return page, true
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	for range int(wait / poll) {
		if err := o.sleep(ctx, poll); err != nil {
			return page, false
		}
		snap, err := sess.Snapshot(ctx)
		if errors.Is(err, render.ErrUnsupported) {
			return page, false
		}
		if err != nil {
			continue
		}
		page = snap
		if ready(page) {
			return page, true
		}
	}
	return page, false
}

func dismissConsent(ctx context.Context, sess render.Session, selector string) {
	if selector == "" {
		return
	}
	_ = sess.Click(ctx, selector)
}
