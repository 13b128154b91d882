package fetcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pubsearch/internal/render"
	"github.com/JakeFAU/pubsearch/internal/render/rendertest"
	"github.com/JakeFAU/pubsearch/internal/storage/memory"
)

const target = "https://pureportal.example.ac.uk/en/publications/a-study"

type fakePolicy struct {
	mu      sync.Mutex
	deny    bool
	waits   int
	waitErr error
}

func (p *fakePolicy) Allowed(context.Context, string) bool { return !p.deny }

func (p *fakePolicy) Wait(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return p.waitErr
}

type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepLog) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func page(body string) render.Page {
	html := "<html><head><title>Publication</title></head><body>" + body + strings.Repeat(" ", 1200) + "</body></html>"
	return render.Page{URL: target, FinalURL: target, Title: "Publication", HTML: html}
}

func challengePage() render.Page {
	p := page(`<form id="challenge-form"></form>`)
	p.Title = "Just a moment..."
	return p
}

func newTestFetcher(cfg Config, policy Policy, sl *sleepLog, opts ...Option) *Fetcher {
	opts = append([]Option{WithSleep(sl.sleep), WithUniform(func() float64 { return 0.5 })}, opts...)
	return New(cfg, policy, NewChallengeDetector(DefaultChallengeMarkers, DefaultChallengeSelectors), opts...)
}

func TestFetchSuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	sess := rendertest.Static(map[string]render.Page{target: page("<h1>Study</h1>")}, errors.New("unknown"))
	policy := &fakePolicy{}
	sl := &sleepLog{}
	f := newTestFetcher(DefaultConfig(), policy, sl)

	got, err := f.Fetch(context.Background(), sess, target, "detail")
	require.NoError(t, err)
	assert.Contains(t, got.HTML, "<h1>Study</h1>")
	assert.Equal(t, 1, policy.waits)
	assert.Equal(t, []time.Duration{3 * time.Second}, sl.all(), "first attempt pacing is drawn from 2-4s")
}

func TestFetchPolicyBlockedDoesNotRetry(t *testing.T) {
	t.Parallel()

	sess := rendertest.Static(map[string]render.Page{target: page("")}, nil)
	f := newTestFetcher(DefaultConfig(), &fakePolicy{deny: true}, &sleepLog{})

	_, err := f.Fetch(context.Background(), sess, target, "detail")
	require.ErrorIs(t, err, ErrPolicyBlocked)
	assert.False(t, errors.Is(err, ErrFetchExhausted))
	assert.Empty(t, sess.Renders())
}

func TestFetchChallengeClears(t *testing.T) {
	t.Parallel()

	sess := &rendertest.Session{
		OnRender: func(context.Context, string, int) (render.Page, error) { return challengePage(), nil },
		OnSnapshot: func(_ context.Context, n int) (render.Page, error) {
			if n == 0 {
				return challengePage(), nil
			}
			return page("<h1>Cleared</h1>"), nil
		},
		OnClick: func(string) error { return nil },
	}
	f := newTestFetcher(DefaultConfig(), &fakePolicy{}, &sleepLog{})

	got, err := f.Fetch(context.Background(), sess, target, "detail")
	require.NoError(t, err)
	assert.Contains(t, got.HTML, "Cleared")
	assert.Equal(t, 2, sess.Snapshots())
	assert.Len(t, sess.Clicks(), 1, "stops trying widgets after the first successful click")
}

func TestFetchChallengeTimeoutExhaustsRetries(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Retries = 1
	cfg.ChallengeTimeout = 6 * time.Second
	cfg.ChallengePoll = 2 * time.Second
	sess := &rendertest.Session{
		OnRender:   func(context.Context, string, int) (render.Page, error) { return challengePage(), nil },
		OnSnapshot: func(context.Context, int) (render.Page, error) { return challengePage(), nil },
	}
	sl := &sleepLog{}
	f := newTestFetcher(cfg, &fakePolicy{}, sl)

	_, err := f.Fetch(context.Background(), sess, target, "detail")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchExhausted)
	assert.ErrorIs(t, err, ErrChallengeTimeout)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Len(t, sess.Renders(), 2)
	assert.Equal(t, 6, sess.Snapshots(), "three polls per attempt")

	// pace(3s), 3 polls, backoff 2.5s*1*2.0, retry pace 4.5s, 3 polls
	want := []time.Duration{
		3 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second,
		5 * time.Second,
		4500 * time.Millisecond, 2 * time.Second, 2 * time.Second, 2 * time.Second,
	}
	assert.Equal(t, want, sl.all())
}

func TestFetchStaticSessionCannotWaitOutChallenge(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Retries = 0
	sess := &rendertest.Session{
		OnRender: func(context.Context, string, int) (render.Page, error) { return challengePage(), nil },
	}
	f := newTestFetcher(cfg, &fakePolicy{}, &sleepLog{})

	_, err := f.Fetch(context.Background(), sess, target, "detail")
	require.ErrorIs(t, err, ErrChallengeTimeout)
	assert.Equal(t, 1, sess.Snapshots())
}

func TestFetchRetriesShortContentAndCaptures(t *testing.T) {
	t.Parallel()

	sess := &rendertest.Session{
		OnRender: func(_ context.Context, _ string, n int) (render.Page, error) {
			if n == 0 {
				return render.Page{URL: target, FinalURL: target, HTML: "<html>tiny</html>"}, nil
			}
			return page("<h1>Full</h1>"), nil
		},
		Shot: []byte("png"),
	}
	store := memory.NewBlobStore()
	recorder := &BlobRecorder{Store: store, Prefix: "debug", Now: func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }}
	f := newTestFetcher(DefaultConfig(), &fakePolicy{}, &sleepLog{}, WithRecorder(recorder))

	got, err := f.Fetch(context.Background(), sess, target, "detail 7")
	require.NoError(t, err)
	assert.Contains(t, got.HTML, "Full")
	assert.Equal(t, []string{
		"debug/detail_7-attempt1-20240601T120000.000.html",
		"debug/detail_7-attempt1-20240601T120000.000.png",
	}, store.Paths())
}

func TestFetchUnexpectedRedirect(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Retries = 0
	off := page("<h1>Login</h1>")
	off.FinalURL = "https://login.example.com/sso"
	sess := rendertest.Static(map[string]render.Page{target: off}, nil)
	f := newTestFetcher(cfg, &fakePolicy{}, &sleepLog{})

	_, err := f.Fetch(context.Background(), sess, target, "detail")
	require.ErrorIs(t, err, ErrUnexpectedRedirect)
	require.ErrorIs(t, err, ErrFetchExhausted)
}

func TestFetchExpectedHostSubstring(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ExpectedHost = "example.ac.uk"
	moved := page("<h1>ok</h1>")
	moved.FinalURL = "https://research.example.ac.uk/en/publications/a-study"
	sess := rendertest.Static(map[string]render.Page{target: moved}, nil)
	f := newTestFetcher(cfg, &fakePolicy{}, &sleepLog{})

	_, err := f.Fetch(context.Background(), sess, target, "detail")
	require.NoError(t, err)
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sess := &rendertest.Session{
		OnRender: func(context.Context, string, int) (render.Page, error) {
			cancel()
			return render.Page{}, errors.New("navigation aborted")
		},
	}
	f := newTestFetcher(DefaultConfig(), &fakePolicy{}, &sleepLog{})

	_, err := f.Fetch(ctx, sess, target, "detail")
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, sess.Renders(), 1)
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: 2500 * time.Millisecond, FactorMin: 1.5, FactorMax: 2.5}
	tests := []struct {
		attempt int
		u       float64
		want    time.Duration
	}{
		{attempt: 1, u: 0, want: 3750 * time.Millisecond},
		{attempt: 2, u: 0, want: 7500 * time.Millisecond},
		{attempt: 3, u: 1, want: 18750 * time.Millisecond},
		{attempt: 0, u: 0.5, want: 0},
	}
	for _, tc := range tests {
		got := b.Delay(tc.attempt, func() float64 { return tc.u })
		assert.Equal(t, tc.want, got, "attempt %d", tc.attempt)
	}
}

func TestWindowDraw(t *testing.T) {
	t.Parallel()

	w := Window{Min: time.Second, Max: 2 * time.Second}
	assert.Equal(t, time.Second, w.Draw(func() float64 { return 0 }))
	assert.Equal(t, 1500*time.Millisecond, w.Draw(func() float64 { return 0.5 }))
	assert.Equal(t, time.Second, Window{Min: time.Second}.Draw(func() float64 { return 0.9 }))
}

func TestSleepHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
}
