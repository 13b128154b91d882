// Package index builds the positional inverted index searched by the
// retrieval engine and reads and writes its JSON artifact.
package index

import (
	"strings"

	"github.com/JakeFAU/pubsearch/internal/corpus"
)

// File is the artifact name inside the data directory.
const File = "inverted_index.json"

// Entry is one term's posting list. Postings map a document position to the
// raw term frequency in that document.
type Entry struct {
	DF       int         `json:"df"`
	Postings map[int]int `json:"postings"`
}

// Index is the document table plus the inverted index. DocLen[i] is the token
// count of Docs[i], floored at 1.
type Index struct {
	Docs   []corpus.Record   `json:"docs"`
	DocLen []int             `json:"doc_len"`
	Terms  map[string]*Entry `json:"index"`
}

// DocumentText is the text indexed for a record: title, author names and
// abstract.
func DocumentText(r corpus.Record) string {
	return strings.Join([]string{r.Title, strings.Join(r.AuthorNames(), " "), r.Abstract}, " ")
}

// Build indexes records in order. Document frequencies are computed once all
// postings are in.
func Build(records []corpus.Record) *Index {
	ix := &Index{
		Docs:   make([]corpus.Record, len(records)),
		DocLen: make([]int, len(records)),
		Terms:  make(map[string]*Entry),
	}
	for id, rec := range records {
		if rec.Authors == nil {
			rec.Authors = []corpus.Author{}
		}
		ix.Docs[id] = rec

		tokens := Tokenize(DocumentText(rec))
		ix.DocLen[id] = max(1, len(tokens))
		for _, tok := range tokens {
			entry, ok := ix.Terms[tok]
			if !ok {
				entry = &Entry{Postings: make(map[int]int)}
				ix.Terms[tok] = entry
			}
			entry.Postings[id]++
		}
	}
	for _, entry := range ix.Terms {
		entry.DF = len(entry.Postings)
	}
	return ix
}

// Len is the number of indexed documents.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.Docs)
}

// Usable reports whether ix has both documents and terms.
func (ix *Index) Usable() bool {
	return ix != nil && len(ix.Docs) > 0 && len(ix.Terms) > 0
}

// DocLength returns the length of document id, 1 when out of range.
func (ix *Index) DocLength(id int) int {
	if id < 0 || id >= len(ix.DocLen) || ix.DocLen[id] < 1 {
		return 1
	}
	return ix.DocLen[id]
}
