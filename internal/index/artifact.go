package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/JakeFAU/pubsearch/internal/corpus"
)

// Encode renders ix as the indented artifact.
func Encode(ix *Index) ([]byte, error) {
	return corpus.Encode(ix)
}

// Decode reads an artifact. Document frequencies are recomputed from the
// postings so a hand-edited file cannot break df == len(postings).
func Decode(r io.Reader) (*Index, error) {
	var ix Index
	if err := json.NewDecoder(r).Decode(&ix); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	if ix.Terms == nil {
		ix.Terms = make(map[string]*Entry)
	}
	for term, entry := range ix.Terms {
		if entry == nil {
			delete(ix.Terms, term)
			continue
		}
		entry.DF = len(entry.Postings)
	}
	return &ix, nil
}

// Load reads the artifact at path. A missing file is not an error: it returns
// nil so callers fall back to vector mode.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}
