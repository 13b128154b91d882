package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Artifact file names written into the output directory.
const (
	CorpusFile  = "publications.json"
	ListingFile = "publications_links.json"
)

// Encode renders v as the indented JSON used by every artifact.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a JSON array of records.
func Decode(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}
	return records, nil
}

// ReadFile loads a corpus artifact from disk.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied artifact path
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Load reads primary, falling back to fallback when primary does not exist.
// It returns the path actually read.
func Load(primary, fallback string) ([]Record, string, error) {
	records, err := ReadFile(primary)
	if err == nil {
		return records, primary, nil
	}
	if !errors.Is(err, fs.ErrNotExist) || fallback == "" {
		return nil, "", err
	}
	records, err = ReadFile(fallback)
	if err != nil {
		return nil, "", fmt.Errorf("no corpus found at %s: %w", primary, err)
	}
	return records, fallback, nil
}
