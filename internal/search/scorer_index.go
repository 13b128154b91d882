package search

import (
	"math"

	"github.com/JakeFAU/pubsearch/internal/index"
)

type indexScorer struct {
	ix *index.Index
}

func newIndexScorer(ix *index.Index) *indexScorer {
	return &indexScorer{ix: ix}
}

// scores sums (tf / doc_len) * idf over query terms, with
// idf = ln((N+1)/(df+1)) + 1. Repeated query terms count once per occurrence.
func (s *indexScorer) scores(tokens []string) map[int]float64 {
	n := float64(s.ix.Len())
	out := make(map[int]float64)
	for _, term := range tokens {
		entry, ok := s.ix.Terms[term]
		if !ok || entry == nil {
			continue
		}
		idf := math.Log((n+1)/(float64(entry.DF)+1)) + 1
		for id, tf := range entry.Postings {
			out[id] += float64(tf) / float64(s.ix.DocLength(id)) * idf
		}
	}
	return out
}
