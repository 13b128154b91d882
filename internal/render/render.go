// Package render drives the page renderer used by the crawler. A Session is
// one isolated browsing context with its own cookies; fetch workers never
// share a Session.
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrUnsupported is returned by sessions that cannot perform an interaction,
// e.g. clicking in a plain HTTP session.
var ErrUnsupported = errors.New("render: operation not supported by session")

// Page is a rendered document.
type Page struct {
	// URL is the address that was requested.
	URL string
	// FinalURL is where the session ended up after redirects.
	FinalURL   string
	Title      string
	HTML       string
	StatusCode int
}

// Session renders pages and interacts with the current document.
type Session interface {
	// Render navigates to rawURL and returns the resulting document.
	Render(ctx context.Context, rawURL string) (Page, error)
	// Snapshot returns the current document without navigating.
	Snapshot(ctx context.Context) (Page, error)
	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error
	// RunScript evaluates script in the page and decodes its result into res.
	RunScript(ctx context.Context, script string, res any) error
	// Screenshot captures the viewport as PNG or JPEG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Factory opens new sessions.
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Mode names a renderer implementation.
type Mode string

const (
	// ModeBrowser drives Chrome through the DevTools protocol.
	ModeBrowser Mode = "browser"
	// ModeStatic issues plain HTTP requests.
	ModeStatic Mode = "static"
)

// Options selects and configures a renderer.
type Options struct {
	Mode      Mode
	UserAgent string
	Browser   BrowserOptions
	Static    StaticOptions
}

// NewFactory builds the Factory selected by opts.Mode.
func NewFactory(opts Options, logger *zap.Logger) (Factory, error) {
	switch Mode(strings.ToLower(string(opts.Mode))) {
	case ModeBrowser, "":
		browser := opts.Browser
		if browser.UserAgent == "" {
			browser.UserAgent = opts.UserAgent
		}
		return NewBrowserFactory(browser, logger)
	case ModeStatic:
		static := opts.Static
		if static.UserAgent == "" {
			static.UserAgent = opts.UserAgent
		}
		return NewStaticFactory(static), nil
	default:
		return nil, fmt.Errorf("unknown renderer mode %q", opts.Mode)
	}
}
