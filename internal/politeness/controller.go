// Package politeness decides whether a URL may be fetched and how long a
// request must wait before it hits the same host again. robots.txt is read
// once per origin and cached for the lifetime of the Controller; spacing is
// enforced by a per-host token bucket sized to max(global delay, crawl-delay).
package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/pubsearch/internal/logging"
	"github.com/JakeFAU/pubsearch/internal/metrics"
)

const maxRobotsBytes = 1 << 20

// Options configures a Controller.
type Options struct {
	UserAgent string
	// MinDelay is the global minimum spacing between requests to one host.
	MinDelay time.Duration
	// RespectRobots disables robots.txt lookups when false. Spacing still applies.
	RespectRobots bool
	// Client fetches robots.txt. Defaults to a client with a 10s timeout.
	Client *http.Client
	Logger *zap.Logger
}

// Controller is safe for concurrent use by many fetch workers.
type Controller struct {
	client    *http.Client
	userAgent string
	minDelay  time.Duration
	respect   bool
	logger    *zap.Logger

	mu    sync.Mutex
	hosts map[string]*hostState
	group singleflight.Group
}

type hostState struct {
	group   *robotstxt.Group
	delay   time.Duration
	limiter *rate.Limiter
}

// New builds a Controller.
func New(opts Options) *Controller {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	minDelay := opts.MinDelay
	if minDelay < 0 {
		minDelay = 0
	}
	return &Controller{
		client:    client,
		userAgent: opts.UserAgent,
		minDelay:  minDelay,
		respect:   opts.RespectRobots,
		logger:    logging.OrNop(opts.Logger),
		hosts:     make(map[string]*hostState),
	}
}

// Allowed reports whether robots.txt permits rawURL for the configured agent.
// Unparseable URLs are refused; an unavailable robots.txt allows everything.
func (c *Controller) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	st := c.state(ctx, u)
	if st.group == nil {
		return true
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	if st.group.Test(p) {
		return true
	}
	metrics.ObserveRobotsDenied(rawURL)
	return false
}

// RequiredDelay returns the spacing enforced for rawURL's host.
func (c *Controller) RequiredDelay(ctx context.Context, rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return c.minDelay
	}
	return c.state(ctx, u).delay
}

// Wait blocks until a request to rawURL's host respects the host's spacing.
// Consecutive waits on the same host return at least RequiredDelay apart.
func (c *Controller) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("politeness wait: invalid url %q", rawURL)
	}
	st := c.state(ctx, u)
	start := time.Now()
	if err := st.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("politeness wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePolitenessDelay(u.Host, waited)
	}
	return nil
}

// state returns the cached per-origin state, loading robots.txt on first use.
// The mutex only guards map access; the robots fetch runs unlocked and
// concurrent first callers share one fetch.
func (c *Controller) state(ctx context.Context, u *url.URL) *hostState {
	key := strings.ToLower(u.Scheme + "://" + u.Host)

	c.mu.Lock()
	st, ok := c.hosts[key]
	c.mu.Unlock()
	if ok {
		return st
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		if existing, ok := c.hosts[key]; ok {
			c.mu.Unlock()
			return existing, nil
		}
		c.mu.Unlock()

		group, cacheable := c.loadRobots(ctx, u)
		fresh := c.newHostState(group)
		if !cacheable {
			return fresh, nil
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if existing, ok := c.hosts[key]; ok {
			return existing, nil
		}
		c.hosts[key] = fresh
		return fresh, nil
	})
	st, _ = v.(*hostState)
	if st == nil {
		st = c.newHostState(nil)
	}
	return st
}

func (c *Controller) newHostState(group *robotstxt.Group) *hostState {
	delay := c.minDelay
	if group != nil && group.CrawlDelay > delay {
		delay = group.CrawlDelay
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &hostState{
		group:   group,
		delay:   delay,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// loadRobots fetches and parses robots.txt. A nil group means "allow all".
// The boolean is false when the caller's context ended mid-fetch, in which
// case the permissive result must not be cached.
func (c *Controller) loadRobots(ctx context.Context, u *url.URL) (*robotstxt.Group, bool) {
	if !c.respect {
		return nil, true
	}
	data, err := c.fetchRobots(ctx, u)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		c.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", u.Host),
			zap.Error(err),
		)
		return nil, true
	}
	return data.FindGroup(c.userAgent), true
}

func (c *Controller) fetchRobots(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
