// Package rendertest provides scripted render sessions for tests.
package rendertest

import (
	"context"
	"sync"

	"github.com/JakeFAU/pubsearch/internal/render"
)

// RenderFunc produces the result of the n-th (zero-based) Render of url.
type RenderFunc func(ctx context.Context, url string, n int) (render.Page, error)

// SnapshotFunc produces the result of the n-th (zero-based) Snapshot.
type SnapshotFunc func(ctx context.Context, n int) (render.Page, error)

// Session is a render.Session driven by callbacks. Nil callbacks behave like
// an unsupported operation.
type Session struct {
	OnRender   RenderFunc
	OnSnapshot SnapshotFunc
	OnClick    func(selector string) error
	OnScript   func(script string, res any) error
	Shot       []byte

	mu        sync.Mutex
	renders   []string
	perURL    map[string]int
	snapshots int
	clicks    []string
	scripts   int
	closed    bool
}

// Static returns a Session whose pages come from a fixed url→page map. Unknown
// URLs fail with err.
func Static(pages map[string]render.Page, err error) *Session {
	return &Session{
		OnRender: func(_ context.Context, url string, _ int) (render.Page, error) {
			p, ok := pages[url]
			if !ok {
				return render.Page{}, err
			}
			if p.URL == "" {
				p.URL = url
			}
			if p.FinalURL == "" {
				p.FinalURL = url
			}
			return p, nil
		},
	}
}

// Render implements render.Session.
func (s *Session) Render(ctx context.Context, url string) (render.Page, error) {
	s.mu.Lock()
	if s.perURL == nil {
		s.perURL = map[string]int{}
	}
	n := s.perURL[url]
	s.perURL[url]++
	s.renders = append(s.renders, url)
	s.mu.Unlock()

	if s.OnRender == nil {
		return render.Page{}, render.ErrUnsupported
	}
	return s.OnRender(ctx, url, n)
}

// Snapshot implements render.Session.
func (s *Session) Snapshot(ctx context.Context) (render.Page, error) {
	s.mu.Lock()
	n := s.snapshots
	s.snapshots++
	s.mu.Unlock()

	if s.OnSnapshot == nil {
		return render.Page{}, render.ErrUnsupported
	}
	return s.OnSnapshot(ctx, n)
}

// Click implements render.Session.
func (s *Session) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	s.clicks = append(s.clicks, selector)
	s.mu.Unlock()
	if s.OnClick == nil {
		return render.ErrUnsupported
	}
	return s.OnClick(selector)
}

// RunScript implements render.Session.
func (s *Session) RunScript(_ context.Context, script string, res any) error {
	s.mu.Lock()
	s.scripts++
	s.mu.Unlock()
	if s.OnScript == nil {
		return render.ErrUnsupported
	}
	return s.OnScript(script, res)
}

// Screenshot implements render.Session.
func (s *Session) Screenshot(context.Context) ([]byte, error) {
	if s.Shot == nil {
		return nil, render.ErrUnsupported
	}
	return s.Shot, nil
}

// Close implements render.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Renders lists rendered URLs in call order.
func (s *Session) Renders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.renders...)
}

// Clicks lists clicked selectors in call order.
func (s *Session) Clicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

// Snapshots reports how many snapshots were taken.
func (s *Session) Snapshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Factory hands out sessions built by New and remembers them.
type Factory struct {
	New func(n int) (*Session, error)

	mu       sync.Mutex
	sessions []*Session
	closed   bool
}

// NewSession implements render.Factory.
func (f *Factory) NewSession(context.Context) (render.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.New(len(f.sessions))
	if err != nil {
		return nil, err
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

// Close implements render.Factory.
func (f *Factory) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Sessions returns the sessions handed out so far.
func (f *Factory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}

// Closed reports whether Close was called.
func (f *Factory) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Scripts reports how many scripts were run.
func (s *Session) Scripts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scripts
}
