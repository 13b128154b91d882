package extract

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/pubsearch/internal/corpus"
)

// namePair matches "Surname, I." style credits, e.g. "O'Neil, J. K.".
var namePair = regexp.MustCompile(`[A-Z][\p{L}'’\-]+,\s*[A-Z]\.?(?:\s*[A-Z]\.?)*`)

// HeaderAuthors reads profile links that sit in the page header, i.e. before
// the tab strip in document order. Pages without a tab strip yield nothing.
func HeaderAuthors(in Input, rules Rules) []corpus.Author {
	if in.Doc == nil {
		return nil
	}
	tab := tabBar(in.Doc, rules.TabBarSelectors)
	if tab == nil {
		return nil
	}
	var out []corpus.Author
	in.Doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Get(0) == tab {
			return false
		}
		if goquery.NodeName(s) == "a" {
			if a, ok := profileAnchor(s, in, rules); ok {
				out = append(out, a)
			}
		}
		return true
	})
	return out
}

func tabBar(doc *goquery.Document, selectors []string) *html.Node {
	for _, sel := range selectors {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			return node.Get(0)
		}
	}
	overview := doc.Find("a, button, [role='tab']").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.EqualFold(normalizeSpace(s.Text()), "overview")
	}).First()
	if overview.Length() == 0 {
		return nil
	}
	return overview.Get(0)
}

func profileAnchor(s *goquery.Selection, in Input, rules Rules) (corpus.Author, bool) {
	href, ok := s.Attr("href")
	if !ok || !strings.Contains(href, rules.ProfilePrefix) {
		return corpus.Author{}, false
	}
	name := normalizeSpace(s.Find("span").First().Text())
	if name == "" {
		name = normalizeSpace(s.Text())
	}
	if name == "" {
		return corpus.Author{}, false
	}
	return corpus.Author{Name: name, Profile: resolve(in.BaseURL, href)}, true
}

// BylineAuthors parses the subtitle line that carries the date, e.g.
// "Smith, J. & Doe, A. B. 12 Mar 2021". Names come without profiles.
func BylineAuthors(in Input) []corpus.Author {
	if in.Doc == nil {
		return nil
	}
	date := in.Doc.Find("span.date").First()
	if date.Length() == 0 {
		return nil
	}
	container := date.Closest("[class*='subtitle']")
	if container.Length() == 0 {
		container = date.Parent()
	}
	line := normalizeSpace(container.Text())
	if title := normalizeSpace(in.Doc.Find("h1").First().Text()); title != "" {
		line = strings.Replace(line, title, "", 1)
	}
	if i := strings.IndexFunc(line, unicode.IsDigit); i >= 0 {
		line = line[:i]
	}
	line = strings.Trim(line, " -—–·•,;|")
	line = strings.ReplaceAll(line, " & ", ", ")
	line = strings.ReplaceAll(line, " and ", ", ")

	matches := namePair.FindAllString(line, -1)
	out := make([]corpus.Author, 0, len(matches))
	for _, m := range matches {
		out = append(out, corpus.Author{Name: strings.TrimSpace(m)})
	}
	return out
}

// MetaAuthors reads citation_author meta tags and, failing that, the author
// field of JSON-LD blocks.
func MetaAuthors(in Input) []corpus.Author {
	if in.Doc == nil {
		return nil
	}
	var out []corpus.Author
	in.Doc.Find("meta[name='citation_author'], meta[property='citation_author']").Each(func(_ int, s *goquery.Selection) {
		if name := normalizeSpace(s.AttrOr("content", "")); name != "" {
			out = append(out, corpus.Author{Name: name})
		}
	})
	if len(out) > 0 {
		return out
	}
	in.Doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		out = append(out, jsonLDAuthors(s.Text())...)
	})
	return out
}

func jsonLDAuthors(raw string) []corpus.Author {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil
	}
	var nodes []any
	switch v := doc.(type) {
	case []any:
		nodes = v
	case map[string]any:
		nodes = []any{v}
		if graph, ok := v["@graph"].([]any); ok {
			nodes = append(nodes, graph...)
		}
	}
	var out []corpus.Author
	for _, n := range nodes {
		obj, ok := n.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, ldPeople(obj["author"])...)
	}
	return out
}

func ldPeople(v any) []corpus.Author {
	switch t := v.(type) {
	case string:
		return []corpus.Author{{Name: normalizeSpace(t)}}
	case map[string]any:
		name, _ := t["name"].(string)
		if name == "" {
			return nil
		}
		profile, _ := t["url"].(string)
		return []corpus.Author{{Name: normalizeSpace(name), Profile: profile}}
	case []any:
		var out []corpus.Author
		for _, item := range t {
			out = append(out, ldPeople(item)...)
		}
		return out
	}
	return nil
}

// StaticAuthors scans every profile link in the originally rendered markup,
// independent of any interaction with the live page.
func StaticAuthors(in Input, rules Rules) []corpus.Author {
	if strings.TrimSpace(in.Raw) == "" {
		return nil
	}
	doc := parse(in.Raw)
	static := Input{Doc: doc, Raw: in.Raw, BaseURL: in.BaseURL}
	var out []corpus.Author
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if a, ok := profileAnchor(s, static, rules); ok {
			out = append(out, a)
		}
	})
	return out
}
