package fetcher

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pubsearch/internal/render"
)

// DefaultChallengeMarkers are lowercase substrings that identify an anti-bot
// interstitial in a page title or body.
var DefaultChallengeMarkers = []string{
	"cloudflare",
	"just a moment",
	"checking your browser",
}

// DefaultChallengeSelectors match elements only present on interstitials.
var DefaultChallengeSelectors = []string{"#challenge-form"}

// ChallengeDetector recognises interstitial pages from text markers and
// CSS selectors.
type ChallengeDetector struct {
	markers   []string
	selectors []string
}

// NewChallengeDetector lowercases and trims the configured markers.
func NewChallengeDetector(markers, selectors []string) *ChallengeDetector {
	lower := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			lower = append(lower, m)
		}
	}
	sels := make([]string, 0, len(selectors))
	for _, s := range selectors {
		if s = strings.TrimSpace(s); s != "" {
			sels = append(sels, s)
		}
	}
	return &ChallengeDetector{markers: lower, selectors: sels}
}

// IsChallenge reports whether page looks like an interstitial.
func (d *ChallengeDetector) IsChallenge(page render.Page) bool {
	if d == nil {
		return false
	}
	if d.containsMarker(page.Title) || d.containsMarker(page.HTML) {
		return true
	}
	return d.hasSelector(page.HTML)
}

func (d *ChallengeDetector) containsMarker(text string) bool {
	if text == "" || len(d.markers) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, m := range d.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func (d *ChallengeDetector) hasSelector(html string) bool {
	if html == "" || len(d.selectors) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	for _, sel := range d.selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}
