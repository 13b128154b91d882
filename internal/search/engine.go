// Package search ranks corpus records against free-text queries and applies
// the filter, sort and pagination rules of the retrieval API.
package search

import (
	"math"
	"slices"
	"strings"

	"github.com/JakeFAU/pubsearch/internal/corpus"
	"github.com/JakeFAU/pubsearch/internal/index"
)

// RelevanceFloor is the lowest score a ranked result may have.
const RelevanceFloor = 0.01

// Mode names the scorer an Engine was built with.
type Mode string

const (
	// ModeIndex scores with the persisted inverted index.
	ModeIndex Mode = "index"
	// ModeVector scores with an in-memory tf-idf matrix.
	ModeVector Mode = "vector"
)

// Result is a record with its relevance score.
type Result struct {
	Title         string          `json:"title"`
	Link          string          `json:"link"`
	Authors       []corpus.Author `json:"authors"`
	PublishedDate string          `json:"published_date"`
	Abstract      string          `json:"abstract"`
	Score         float64         `json:"score"`
}

func newResult(r corpus.Record, score float64) Result {
	authors := r.Authors
	if authors == nil {
		authors = []corpus.Author{}
	}
	return Result{
		Title:         r.Title,
		Link:          r.Link,
		Authors:       authors,
		PublishedDate: r.PublishedDate,
		Abstract:      r.Abstract,
		Score:         score,
	}
}

// scorer maps query tokens to raw per-document scores. Documents without a
// matching term are absent.
type scorer interface {
	scores(tokens []string) map[int]float64
}

// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	docs   []corpus.Record
	scorer scorer
	mode   Mode
}

// NewEngine picks the scorer once: the index when ix is usable, otherwise a
// tf-idf matrix built over records.
func NewEngine(records []corpus.Record, ix *index.Index) *Engine {
	if ix.Usable() {
		return &Engine{docs: ix.Docs, scorer: newIndexScorer(ix), mode: ModeIndex}
	}
	return &Engine{docs: records, scorer: newVectorScorer(records), mode: ModeVector}
}

// Mode reports the scorer in use.
func (e *Engine) Mode() Mode { return e.mode }

// Len is the number of searchable documents.
func (e *Engine) Len() int { return len(e.docs) }

// All returns every document with score 0, in corpus order.
func (e *Engine) All() []Result {
	out := make([]Result, 0, len(e.docs))
	for _, d := range e.docs {
		out = append(out, newResult(d, 0))
	}
	return out
}

// Search ranks documents by descending score, ties by corpus position.
// Scores below RelevanceFloor are dropped and the rest rounded to two
// decimals. A blank query returns nothing.
func (e *Engine) Search(query string) []Result {
	if strings.TrimSpace(query) == "" {
		return []Result{}
	}
	tokens := index.Tokenize(query)
	if len(tokens) == 0 {
		return []Result{}
	}

	type hit struct {
		id    int
		score float64
	}
	raw := e.scorer.scores(tokens)
	hits := make([]hit, 0, len(raw))
	for id, s := range raw {
		if s < RelevanceFloor || id < 0 || id >= len(e.docs) {
			continue
		}
		hits = append(hits, hit{id: id, score: s})
	}
	slices.SortFunc(hits, func(a, b hit) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return a.id - b.id
		}
	})

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, newResult(e.docs[h.id], math.Round(h.score*100)/100))
	}
	return out
}
