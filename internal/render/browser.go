package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/logging"
)

// stealthScript hides the most common automation fingerprints before any
// page script runs.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = window.chrome || {runtime: {}};
Object.defineProperty(navigator, 'languages', {get: () => ['en-GB', 'en']});`

// BrowserOptions configures Chrome sessions.
type BrowserOptions struct {
	UserAgent string
	// Headless runs Chrome without a window. Some interstitials only clear
	// in a headed browser.
	Headless bool
	// ExecPath overrides the Chrome binary lookup.
	ExecPath     string
	WindowWidth  int
	WindowHeight int
	// NavigationTimeout bounds Render; interactions use InteractionTimeout.
	NavigationTimeout  time.Duration
	InteractionTimeout time.Duration
}

// BrowserFactory starts one Chrome process per Session from a shared allocator.
type BrowserFactory struct {
	opts        BrowserOptions
	allocCtx    context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewBrowserFactory prepares the exec allocator. Chrome is not launched until
// the first NewSession.
func NewBrowserFactory(opts BrowserOptions, logger *zap.Logger) (*BrowserFactory, error) {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 60 * time.Second
	}
	if opts.InteractionTimeout <= 0 {
		opts.InteractionTimeout = 3 * time.Second
	}
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = 1366, 900
	}

	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "en-GB"),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	return &BrowserFactory{
		opts:        opts,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		logger:      logging.OrNop(logger),
	}, nil
}

// NewSession launches a browser and prepares its first tab.
func (f *BrowserFactory) NewSession(ctx context.Context) (Session, error) {
	browserCtx, browserCancel := chromedp.NewContext(f.allocCtx)
	// The first Run allocates the browser and ties it to the context it is
	// given, so it must run on browserCtx itself rather than a timeout child.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	setupCtx, setupCancel := context.WithTimeout(browserCtx, f.opts.NavigationTimeout)
	defer setupCancel()
	stopForward := forwardCancel(ctx, setupCancel)
	defer stopForward()

	s := &browserSession{
		ctx:      browserCtx,
		cancel:   browserCancel,
		opts:     f.opts,
		logger:   f.logger,
		statuses: map[string]int{},
	}
	s.listen()

	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			if err != nil {
				return fmt.Errorf("install stealth script: %w", err)
			}
			return nil
		}),
	}
	if f.opts.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(f.opts.UserAgent).WithAcceptLanguage("en-GB,en;q=0.9"))
	}
	if err := chromedp.Run(setupCtx, tasks); err != nil {
		browserCancel()
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	return s, nil
}

// Close stops the allocator and every browser it launched.
func (f *BrowserFactory) Close() error {
	f.allocCancel()
	return nil
}

type browserSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   BrowserOptions
	logger *zap.Logger

	mu       sync.Mutex
	statuses map[string]int
}

// listen records document response codes so Render can report them.
func (s *browserSession) listen() {
	chromedp.ListenTarget(s.ctx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
			return
		}
		s.mu.Lock()
		s.statuses[resp.Response.URL] = int(resp.Response.Status)
		s.mu.Unlock()
	})
}

func (s *browserSession) status(finalURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[finalURL]
}

func (s *browserSession) Render(ctx context.Context, rawURL string) (Page, error) {
	taskCtx, cancel := context.WithTimeout(s.ctx, s.opts.NavigationTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return Page{}, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	p, err := s.read(taskCtx)
	if err != nil {
		return Page{}, err
	}
	p.URL = rawURL
	return p, nil
}

func (s *browserSession) Snapshot(ctx context.Context) (Page, error) {
	taskCtx, cancel := context.WithTimeout(s.ctx, s.opts.NavigationTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()
	return s.read(taskCtx)
}

func (s *browserSession) read(ctx context.Context) (Page, error) {
	var p Page
	if err := chromedp.Run(ctx,
		chromedp.Title(&p.Title),
		chromedp.Location(&p.FinalURL),
		chromedp.OuterHTML("html", &p.HTML, chromedp.ByQuery),
	); err != nil {
		return Page{}, fmt.Errorf("read document: %w", err)
	}
	p.URL = p.FinalURL
	p.StatusCode = s.status(p.FinalURL)
	return p, nil
}

func (s *browserSession) Click(ctx context.Context, selector string) error {
	taskCtx, cancel := context.WithTimeout(s.ctx, s.opts.InteractionTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(taskCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (s *browserSession) RunScript(ctx context.Context, script string, res any) error {
	taskCtx, cancel := context.WithTimeout(s.ctx, s.opts.InteractionTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(taskCtx, chromedp.Evaluate(script, res)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

func (s *browserSession) Screenshot(ctx context.Context) ([]byte, error) {
	taskCtx, cancel := context.WithTimeout(s.ctx, s.opts.InteractionTimeout*3)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	var buf []byte
	if err := chromedp.Run(taskCtx, chromedp.FullScreenshot(&buf, 80)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (s *browserSession) Close() error {
	s.cancel()
	return nil
}

// forwardCancel cancels a chromedp task context when the caller's context
// ends. Task contexts derive from the browser context, not the caller's.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
