// Package corpus defines the publication records produced by the crawler and
// consumed by the indexer and the retrieval engine.
package corpus

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Author is a single contributor to a publication. Profile is empty when no
// profile page is known.
type Author struct {
	Name    string `json:"name"`
	Profile string `json:"profile"`
}

// MarshalJSON writes a missing profile as null.
func (a Author) MarshalJSON() ([]byte, error) {
	out := struct {
		Name    string  `json:"name"`
		Profile *string `json:"profile"`
	}{Name: a.Name}
	if a.Profile != "" {
		p := a.Profile
		out.Profile = &p
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal author: %w", err)
	}
	return data, nil
}

// ListingItem is a stub discovered on a search listing page.
type ListingItem struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Record is the unit stored in the corpus artifact and the index.
type Record struct {
	Title         string   `json:"title"`
	Link          string   `json:"link"`
	Authors       []Author `json:"authors"`
	PublishedDate string   `json:"published_date"`
	Abstract      string   `json:"abstract"`
}

// Stub builds the minimal record for a listing item.
func Stub(item ListingItem) Record {
	return Record{Title: item.Title, Link: item.Link, Authors: []Author{}}
}

// HasContent reports whether extraction produced any authors or an abstract.
func (r Record) HasContent() bool {
	return len(r.Authors) > 0 || strings.TrimSpace(r.Abstract) != ""
}

// AuthorNames returns the author names in order.
func (r Record) AuthorNames() []string {
	names := make([]string, 0, len(r.Authors))
	for _, a := range r.Authors {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return names
}

// MarshalJSON keeps authors as an array and writes empty optional fields as null.
func (r Record) MarshalJSON() ([]byte, error) {
	authors := r.Authors
	if authors == nil {
		authors = []Author{}
	}
	out := struct {
		Title         string   `json:"title"`
		Link          string   `json:"link"`
		Authors       []Author `json:"authors"`
		PublishedDate *string  `json:"published_date"`
		Abstract      *string  `json:"abstract"`
	}{
		Title:         r.Title,
		Link:          r.Link,
		Authors:       authors,
		PublishedDate: optional(r.PublishedDate),
		Abstract:      optional(r.Abstract),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// UnmarshalJSON accepts the shapes older artifacts use: authors as a single
// string, a list of strings or a list of objects, and "date" alongside or in
// place of "published_date". A non-empty "date" wins when both are present.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		Title         *string         `json:"title"`
		Link          *string         `json:"link"`
		Authors       json.RawMessage `json:"authors"`
		PublishedDate *string         `json:"published_date"`
		Date          *string         `json:"date"`
		Abstract      *string         `json:"abstract"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	authors, err := decodeAuthors(raw.Authors)
	if err != nil {
		return err
	}
	*r = Record{
		Title:    deref(raw.Title),
		Link:     deref(raw.Link),
		Authors:  authors,
		Abstract: deref(raw.Abstract),
	}
	r.PublishedDate = deref(raw.Date)
	if r.PublishedDate == "" {
		r.PublishedDate = deref(raw.PublishedDate)
	}
	return nil
}

func decodeAuthors(raw json.RawMessage) ([]Author, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return []Author{}, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			return []Author{}, nil
		}
		return []Author{{Name: strings.TrimSpace(single)}}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode authors: %w", err)
	}
	out := make([]Author, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, Author{Name: name})
			}
			continue
		}
		var obj struct {
			Name    *string `json:"name"`
			Profile *string `json:"profile"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, fmt.Errorf("decode author entry: %w", err)
		}
		if n := strings.TrimSpace(deref(obj.Name)); n != "" {
			out = append(out, Author{Name: n, Profile: deref(obj.Profile)})
		}
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
