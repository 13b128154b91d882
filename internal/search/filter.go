package search

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var yearPattern = regexp.MustCompile(`(19|20)\d{2}`)

// ExtractYear returns the first 19xx/20xx year in date, or 0.
func ExtractYear(date string) int {
	m := yearPattern.FindString(date)
	if m == "" {
		return 0
	}
	y, _ := strconv.Atoi(m)
	return y
}

// Filter narrows a result set. Zero values disable a bound.
type Filter struct {
	Author   string
	YearFrom int
	YearTo   int
}

func (f Filter) active() bool {
	return strings.TrimSpace(f.Author) != "" || f.YearFrom != 0 || f.YearTo != 0
}

// Match reports whether r passes every active bound. A record with no
// extractable year fails any year bound.
func (f Filter) Match(r Result) bool {
	if needle := strings.ToLower(strings.TrimSpace(f.Author)); needle != "" {
		found := false
		for _, a := range r.Authors {
			if strings.Contains(strings.ToLower(a.Name), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.YearFrom == 0 && f.YearTo == 0 {
		return true
	}
	year := ExtractYear(r.PublishedDate)
	if year == 0 {
		return false
	}
	if f.YearFrom != 0 && year < f.YearFrom {
		return false
	}
	if f.YearTo != 0 && year > f.YearTo {
		return false
	}
	return true
}

// Apply returns the results f matches, in order. The input is not modified.
func (f Filter) Apply(results []Result) []Result {
	if !f.active() {
		return slices.Clone(results)
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// SortMode orders the final result list.
type SortMode string

// Supported sort modes.
const (
	SortScore SortMode = "score"
	SortDate  SortMode = "date"
	SortTitle SortMode = "title"
)

// ParseSort maps unknown values to SortScore.
func ParseSort(s string) SortMode {
	switch SortMode(strings.ToLower(strings.TrimSpace(s))) {
	case SortDate:
		return SortDate
	case SortTitle:
		return SortTitle
	default:
		return SortScore
	}
}

// Sort orders results in place. All modes are stable: score descending, year
// descending (undated last) or case-insensitive title ascending.
func Sort(results []Result, mode SortMode) {
	switch mode {
	case SortDate:
		slices.SortStableFunc(results, func(a, b Result) int {
			return cmp.Compare(ExtractYear(b.PublishedDate), ExtractYear(a.PublishedDate))
		})
	case SortTitle:
		slices.SortStableFunc(results, func(a, b Result) int {
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		})
	default:
		slices.SortStableFunc(results, func(a, b Result) int {
			return cmp.Compare(b.Score, a.Score)
		})
	}
}

// Page is one slice of a result list.
type Page struct {
	Results    []Result `json:"results"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	Size       int      `json:"size"`
	TotalPages int      `json:"total_pages"`
}

// Paginate slices results for a 1-based page. page and size must already be
// positive. A page past the end is empty.
func Paginate(results []Result, page, size int) Page {
	if results == nil {
		results = []Result{}
	}
	total := len(results)
	totalPages := total / size
	if total%size != 0 {
		totalPages++
	}
	// Compare page numbers before multiplying so huge pages cannot overflow.
	start := total
	if page-1 < totalPages {
		start = (page - 1) * size
	}
	end := start + min(size, total-start)
	return Page{
		Results:    results[start:end],
		Total:      total,
		Page:       page,
		Size:       size,
		TotalPages: totalPages,
	}
}
