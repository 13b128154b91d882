// Package fetcher renders a URL through a render.Session with politeness,
// human-like pacing, interstitial handling, sanity checks and bounded retries.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/logging"
	"github.com/JakeFAU/pubsearch/internal/metrics"
	"github.com/JakeFAU/pubsearch/internal/render"
)

// Policy is the subset of the politeness controller the fetcher needs.
type Policy interface {
	Allowed(ctx context.Context, rawURL string) bool
	Wait(ctx context.Context, rawURL string) error
}

// Config tunes one Fetcher.
type Config struct {
	// Retries is the number of extra attempts after the first.
	Retries int
	Backoff Backoff
	// FirstPace and RetryPace are the random pre-navigation pauses.
	FirstPace Window
	RetryPace Window
	// PageLoadTimeout plus ChallengeTimeout bound a single attempt.
	PageLoadTimeout  time.Duration
	ChallengeTimeout time.Duration
	ChallengePoll    time.Duration
	// ChallengeClicks are tried once when an interstitial appears.
	ChallengeClicks []string
	MinContentBytes int
	// ExpectedHost must appear in the final URL's host. Empty means the
	// requested URL's host.
	ExpectedHost string
}

// DefaultConfig mirrors the crawler's shipped defaults.
func DefaultConfig() Config {
	return Config{
		Retries:          3,
		Backoff:          Backoff{Base: 2500 * time.Millisecond, FactorMin: 1.5, FactorMax: 2.5},
		FirstPace:        Window{Min: 2 * time.Second, Max: 4 * time.Second},
		RetryPace:        Window{Min: 3 * time.Second, Max: 6 * time.Second},
		PageLoadTimeout:  60 * time.Second,
		ChallengeTimeout: 45 * time.Second,
		ChallengePoll:    2 * time.Second,
		ChallengeClicks:  []string{"#challenge-stage input[type='checkbox']", ".cf-turnstile"},
		MinContentBytes:  1000,
	}
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(f *Fetcher) { f.logger = logging.OrNop(l) } }

// WithRecorder enables per-attempt diagnostic captures.
func WithRecorder(r Recorder) Option { return func(f *Fetcher) { f.recorder = r } }

// WithSleep replaces the context-aware sleep used for every pause.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithUniform replaces the [0,1) random source used for jitter.
func WithUniform(u func() float64) Option { return func(f *Fetcher) { f.uniform = u } }

// Fetcher is safe for concurrent use; the Session passed to Fetch is not.
type Fetcher struct {
	cfg      Config
	policy   Policy
	detector *ChallengeDetector
	recorder Recorder
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
	uniform  func() float64
}

// New builds a Fetcher.
func New(cfg Config, policy Policy, detector *ChallengeDetector, opts ...Option) *Fetcher {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.ChallengePoll <= 0 {
		cfg.ChallengePoll = 2 * time.Second
	}
	f := &Fetcher{
		cfg:      cfg,
		policy:   policy,
		detector: detector,
		logger:   zap.NewNop(),
		sleep:    Sleep,
		uniform:  defaultUniform,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch renders rawURL in sess. It returns the first page that passes every
// check, ErrPolicyBlocked without retrying when robots.txt forbids the URL,
// or an *ExhaustedError after Retries+1 failed attempts.
func (f *Fetcher) Fetch(ctx context.Context, sess render.Session, rawURL, label string) (render.Page, error) {
	logger := f.logger.With(zap.String("url", rawURL), zap.String("label", label))
	attempts := f.cfg.Retries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		page, err := f.attempt(ctx, sess, rawURL, attempt)
		metrics.ObserveFetchAttempt(rawURL, outcome(err))
		if err == nil {
			if attempt > 1 {
				logger.Info("fetch succeeded after retry", zap.Int("attempt", attempt))
			}
			return page, nil
		}
		if errors.Is(err, ErrPolicyBlocked) {
			logger.Info("fetch refused by robots.txt")
			return render.Page{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return render.Page{}, fmt.Errorf("fetch %s: %w", rawURL, ctxErr)
		}

		lastErr = err
		logger.Warn("fetch attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if f.recorder != nil {
			f.recorder.Record(ctx, sess, Capture{Label: label, URL: rawURL, Attempt: attempt, Page: page, Err: err})
		}
		if attempt < attempts {
			if err := f.sleep(ctx, f.cfg.Backoff.Delay(attempt, f.uniform)); err != nil {
				return render.Page{}, fmt.Errorf("fetch %s: backoff: %w", rawURL, err)
			}
		}
	}
	return render.Page{}, &ExhaustedError{URL: rawURL, Attempts: attempts, Last: lastErr}
}

// attempt runs one try. On failure it still returns whatever page it saw so
// the caller can capture it.
func (f *Fetcher) attempt(ctx context.Context, sess render.Session, rawURL string, attempt int) (render.Page, error) {
	if f.policy != nil {
		if !f.policy.Allowed(ctx, rawURL) {
			return render.Page{}, ErrPolicyBlocked
		}
		if err := f.policy.Wait(ctx, rawURL); err != nil {
			return render.Page{}, err
		}
	}

	pace := f.cfg.FirstPace
	if attempt > 1 {
		pace = f.cfg.RetryPace
	}
	if err := f.sleep(ctx, pace.Draw(f.uniform)); err != nil {
		return render.Page{}, fmt.Errorf("pacing: %w", err)
	}

	attemptCtx := ctx
	if budget := f.cfg.PageLoadTimeout + f.cfg.ChallengeTimeout; budget > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	page, err := sess.Render(attemptCtx, rawURL)
	if err != nil {
		return render.Page{}, fmt.Errorf("render: %w", err)
	}

	if f.detector.IsChallenge(page) {
		page, err = f.awaitClearance(attemptCtx, sess, rawURL, page)
		if err != nil {
			return page, err
		}
	}

	return page, f.validate(rawURL, page)
}

// awaitClearance polls the live document until the interstitial is gone or
// the challenge budget is spent.
func (f *Fetcher) awaitClearance(ctx context.Context, sess render.Session, rawURL string, page render.Page) (render.Page, error) {
	f.logger.Info("challenge detected; waiting for clearance", zap.String("url", rawURL))

	for _, sel := range f.cfg.ChallengeClicks {
		if err := sess.Click(ctx, sel); err == nil {
			f.logger.Debug("clicked challenge widget", zap.String("selector", sel))
			break
		}
	}

	polls := int(f.cfg.ChallengeTimeout / f.cfg.ChallengePoll)
	if polls < 1 {
		polls = 1
	}
	for range polls {
		if err := f.sleep(ctx, f.cfg.ChallengePoll); err != nil {
			break
		}
		snap, err := sess.Snapshot(ctx)
		if errors.Is(err, render.ErrUnsupported) {
			break
		}
		if err != nil {
			continue
		}
		page = snap
		if !f.detector.IsChallenge(snap) {
			metrics.ObserveChallenge(rawURL, "cleared")
			return snap, nil
		}
	}
	metrics.ObserveChallenge(rawURL, "timeout")
	return page, ErrChallengeTimeout
}

func (f *Fetcher) validate(rawURL string, page render.Page) error {
	if len(page.HTML) < f.cfg.MinContentBytes {
		return fmt.Errorf("%w: %d bytes", ErrContentTooShort, len(page.HTML))
	}
	if page.FinalURL == "" {
		return nil
	}
	expected := strings.ToLower(f.cfg.ExpectedHost)
	if expected == "" {
		if u, err := url.Parse(rawURL); err == nil {
			expected = strings.ToLower(u.Hostname())
		}
	}
	final, err := url.Parse(page.FinalURL)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnexpectedRedirect, page.FinalURL)
	}
	if expected != "" && !strings.Contains(strings.ToLower(final.Hostname()), expected) {
		return fmt.Errorf("%w: %s", ErrUnexpectedRedirect, page.FinalURL)
	}
	return nil
}
