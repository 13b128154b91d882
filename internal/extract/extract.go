// Package extract pulls publication fields out of rendered detail pages.
// Every field is produced by an ordered list of strategies; the first result
// that passes the field's validity check wins. Strategies are pure functions
// of the page so they can be tested against saved markup.
package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pubsearch/internal/corpus"
)

// Input is the page state strategies read from.
type Input struct {
	// Doc is the live document after expand interactions.
	Doc *goquery.Document
	// Raw is the markup as first rendered, re-parsed by the static fallbacks.
	Raw string
	// BaseURL resolves relative links.
	BaseURL *url.URL
}

// NewInput parses live and raw markup. An unparsable live document leaves
// Doc as an empty document.
func NewInput(live, raw, pageURL string) Input {
	in := Input{Raw: raw, Doc: parse(live)}
	if u, err := url.Parse(pageURL); err == nil {
		in.BaseURL = u
	}
	return in
}

func parse(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	return doc
}

// Strategy is one named way of producing T.
type Strategy[T any] struct {
	Name string
	Run  func(Input) T
}

// FirstAccepted runs strategies in order and returns the first result accept
// approves with the strategy's name. It returns the zero value and "" when
// every strategy misses.
func FirstAccepted[T any](in Input, strategies []Strategy[T], accept func(T) bool) (T, string) {
	for _, s := range strategies {
		if v := s.Run(in); accept(v) {
			return v, s.Name
		}
	}
	var zero T
	return zero, ""
}

// Rules holds the site-specific knobs.
type Rules struct {
	// ProfilePrefix is the path prefix of person profile pages.
	ProfilePrefix string
	// ProfileHost must appear in a profile URL's host when it has one.
	ProfileHost string
	// TabBarSelectors locate the tab strip that ends the page header.
	TabBarSelectors []string
	// MinAbstractLen is the exclusive lower bound on abstract length.
	MinAbstractLen int
}

// DefaultRules targets the Pure research portal layout.
func DefaultRules() Rules {
	return Rules{
		ProfilePrefix:   "/en/persons/",
		ProfileHost:     "coventry.ac.uk",
		TabBarSelectors: []string{"[role='tablist']", "nav.tabs", "ul.tabs"},
		MinAbstractLen:  30,
	}
}

// Extractor applies the author, date and abstract chains.
type Extractor struct {
	rules    Rules
	authors  []Strategy[[]corpus.Author]
	abstract []Strategy[string]
}

// New builds an Extractor with the standard strategy order.
func New(rules Rules) *Extractor {
	e := &Extractor{rules: rules}
	e.authors = []Strategy[[]corpus.Author]{
		{Name: "header", Run: func(in Input) []corpus.Author { return e.validAuthors(HeaderAuthors(in, rules)) }},
		{Name: "byline", Run: func(in Input) []corpus.Author { return e.validAuthors(BylineAuthors(in)) }},
		{Name: "metadata", Run: func(in Input) []corpus.Author { return e.validAuthors(MetaAuthors(in)) }},
		{Name: "static", Run: func(in Input) []corpus.Author { return e.validAuthors(StaticAuthors(in, rules)) }},
	}
	e.abstract = []Strategy[string]{
		{Name: "selectors", Run: func(in Input) string { return SelectorAbstract(in, rules.MinAbstractLen) }},
		{Name: "heading", Run: func(in Input) string { return HeadingAbstract(in, rules.MinAbstractLen) }},
		{Name: "metadata", Run: func(in Input) string { return MetaAbstract(in, rules.MinAbstractLen) }},
		{Name: "static", Run: func(in Input) string { return StaticAbstract(in, rules.MinAbstractLen) }},
	}
	return e
}

// Result is an extracted record plus the strategies that produced it.
type Result struct {
	Record           corpus.Record
	AuthorStrategy   string
	AbstractStrategy string
}

// Extract builds the record for item from in. Missing fields stay empty; the
// title falls back to the listing title.
func (e *Extractor) Extract(in Input, item corpus.ListingItem) Result {
	authors, authorBy := e.Authors(in)
	abstract, abstractBy := e.Abstract(in)
	return Result{
		Record: corpus.Record{
			Title:         Title(in, item.Title),
			Link:          item.Link,
			Authors:       authors,
			PublishedDate: Date(in),
			Abstract:      abstract,
		},
		AuthorStrategy:   authorBy,
		AbstractStrategy: abstractBy,
	}
}

// Authors runs the author chain.
func (e *Extractor) Authors(in Input) ([]corpus.Author, string) {
	authors, name := FirstAccepted(in, e.authors, func(a []corpus.Author) bool { return len(a) > 0 })
	if authors == nil {
		authors = []corpus.Author{}
	}
	return authors, name
}

// Abstract runs the abstract chain.
func (e *Extractor) Abstract(in Input) (string, string) {
	return FirstAccepted(in, e.abstract, func(s string) bool { return len(s) > e.rules.MinAbstractLen })
}

// validAuthors filters candidates through the name and profile checks and
// de-duplicates by (name, profile), keeping first occurrence.
func (e *Extractor) validAuthors(candidates []corpus.Author) []corpus.Author {
	seen := make(map[corpus.Author]struct{}, len(candidates))
	var out []corpus.Author
	for _, a := range candidates {
		a.Name = normalizeSpace(a.Name)
		if !LooksLikePersonName(a.Name) {
			continue
		}
		if a.Profile != "" && !IsProfileURL(a.Profile, e.rules) {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Title returns the first h1, or fallback when the page has none.
func Title(in Input, fallback string) string {
	if in.Doc != nil {
		if t := normalizeSpace(in.Doc.Find("h1").First().Text()); t != "" {
			return t
		}
	}
	return fallback
}

var dateSelectors = []string{"span.date", "time[datetime]", "time"}

// Date returns the first non-empty date among span.date, time[datetime]
// (its attribute) and time.
func Date(in Input) string {
	if in.Doc == nil {
		return ""
	}
	for _, sel := range dateSelectors {
		node := in.Doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if sel == "time[datetime]" {
			if v := strings.TrimSpace(node.AttrOr("datetime", "")); v != "" {
				return v
			}
			continue
		}
		if v := normalizeSpace(node.Text()); v != "" {
			return v
		}
	}
	return ""
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
