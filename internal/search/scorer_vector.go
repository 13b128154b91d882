package search

import (
	"math"

	"github.com/JakeFAU/pubsearch/internal/corpus"
	"github.com/JakeFAU/pubsearch/internal/index"
)

type weight struct {
	doc int
	w   float64
}

// vectorScorer holds l2-normalised tf-idf document vectors, stored by term so
// a query only touches the columns it mentions. The matrix is built once.
type vectorScorer struct {
	idf     map[string]float64
	columns map[string][]weight
}

// newVectorScorer uses the smoothed idf ln((1+n)/(1+df)) + 1.
func newVectorScorer(records []corpus.Record) *vectorScorer {
	counts := make([]map[string]int, len(records))
	df := make(map[string]int)
	for i, rec := range records {
		tf := make(map[string]int)
		for _, tok := range index.Tokenize(index.DocumentText(rec)) {
			tf[tok]++
		}
		for term := range tf {
			df[term]++
		}
		counts[i] = tf
	}

	n := float64(len(records))
	s := &vectorScorer{
		idf:     make(map[string]float64, len(df)),
		columns: make(map[string][]weight, len(df)),
	}
	for term, d := range df {
		s.idf[term] = math.Log((1+n)/(1+float64(d))) + 1
	}
	for doc, tf := range counts {
		var norm float64
		for term, c := range tf {
			v := float64(c) * s.idf[term]
			norm += v * v
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		for term, c := range tf {
			s.columns[term] = append(s.columns[term], weight{doc: doc, w: float64(c) * s.idf[term] / norm})
		}
	}
	return s
}

// scores is the cosine similarity between the query vector and each
// document vector.
func (s *vectorScorer) scores(tokens []string) map[int]float64 {
	q := make(map[string]float64)
	for _, tok := range tokens {
		if idf, ok := s.idf[tok]; ok {
			q[tok] += idf
		}
	}
	var norm float64
	for _, v := range q {
		norm += v * v
	}
	out := make(map[int]float64)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for term, v := range q {
		qw := v / norm
		for _, c := range s.columns[term] {
			out[c.doc] += qw * c.w
		}
	}
	return out
}
