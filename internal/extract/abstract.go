package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var abstractSelectors = []string{
	"section#abstract .textblock",
	"section.abstract .textblock",
	"div.abstract .textblock",
	"div#abstract .textblock",
	"section#abstract",
	"div#abstract",
	"[data-section='abstract'] .textblock",
	".abstract .textblock",
	".abstract p",
	".abstract div",
	"div.textblock",
}

var abstractMeta = []string{"description", "abstract", "og:description", "citation_abstract"}

// SelectorAbstract tries the known content-block selectors in order.
func SelectorAbstract(in Input, minLen int) string {
	if in.Doc == nil {
		return ""
	}
	return firstBlock(in.Doc.Selection, abstractSelectors, minLen)
}

func firstBlock(root *goquery.Selection, selectors []string, minLen int) string {
	for _, sel := range selectors {
		found := ""
		root.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if text := normalizeSpace(s.Text()); len(text) > minLen {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// HeadingAbstract finds a heading mentioning "abstract" and reads the block
// that follows it.
func HeadingAbstract(in Input, minLen int) string {
	if in.Doc == nil {
		return ""
	}
	found := ""
	in.Doc.Find("h1, h2, h3, h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(h.Text()), "abstract") {
			return true
		}
		candidates := []*goquery.Selection{
			h.NextAllFiltered("div").First(),
			h.NextAllFiltered("p").First(),
			h.NextAllFiltered("section").First(),
			h.Next(),
			h.Parent().NextAllFiltered("div").First(),
		}
		for _, c := range candidates {
			if c.Length() == 0 {
				continue
			}
			if text := normalizeSpace(c.Text()); len(text) > minLen {
				found = text
				return false
			}
		}
		return true
	})
	return found
}

// MetaAbstract reads descriptive meta tags by name or property.
func MetaAbstract(in Input, minLen int) string {
	if in.Doc == nil {
		return ""
	}
	for _, key := range abstractMeta {
		sel := "meta[name='" + key + "'], meta[property='" + key + "']"
		found := ""
		in.Doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if text := normalizeSpace(s.AttrOr("content", "")); len(text) > minLen {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// StaticAbstract re-runs the block and heading searches over the originally
// rendered markup.
func StaticAbstract(in Input, minLen int) string {
	if strings.TrimSpace(in.Raw) == "" {
		return ""
	}
	static := Input{Doc: parse(in.Raw), Raw: in.Raw, BaseURL: in.BaseURL}
	if text := SelectorAbstract(static, minLen); text != "" {
		return text
	}
	return HeadingAbstract(static, minLen)
}
