package search

import (
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/logging"
	"github.com/JakeFAU/pubsearch/internal/metrics"
	"github.com/JakeFAU/pubsearch/internal/querycache"
)

// Query is one retrieval request as received from the API.
type Query struct {
	Text     string
	Author   string
	YearFrom int
	YearTo   int
	Sort     string
	Page     int
	Size     int
}

// ServiceOptions bound pagination.
type ServiceOptions struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Service fronts an Engine with the query cache and applies filters, sort
// and pagination.
type Service struct {
	engine *Engine
	cache  *querycache.Cache[[]Result]
	opts   ServiceOptions
	logger *zap.Logger
}

// NewService wires engine and cache. A nil cache disables caching.
func NewService(engine *Engine, cache *querycache.Cache[[]Result], opts ServiceOptions, logger *zap.Logger) *Service {
	if opts.DefaultPageSize < 1 {
		opts.DefaultPageSize = 10
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = max(100, opts.DefaultPageSize)
	}
	return &Service{engine: engine, cache: cache, opts: opts, logger: logging.OrNop(logger)}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine { return s.engine }

// CacheLen is the number of cached result sets.
func (s *Service) CacheLen() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Len()
}

// Search answers q. Blank text lists the whole corpus with score 0; other
// queries go through the cache, which holds the ranked list before filters
// and pagination. Out-of-range page and size values are clamped.
func (s *Service) Search(q Query) Page {
	mode := ParseSort(q.Sort)

	var results []Result
	if strings.TrimSpace(q.Text) == "" {
		metrics.ObserveSearch("browse")
		results = s.engine.All()
	} else {
		metrics.ObserveSearch(string(s.engine.Mode()))
		results = slices.Clone(s.ranked(q, mode))
	}

	results = Filter{Author: q.Author, YearFrom: q.YearFrom, YearTo: q.YearTo}.Apply(results)
	Sort(results, mode)

	size := q.Size
	if size < 1 {
		size = s.opts.DefaultPageSize
	}
	size = min(size, s.opts.MaxPageSize)
	page := min(max(q.Page, 1), len(results)/size+1)
	return Paginate(results, page, size)
}

func (s *Service) ranked(q Query, mode SortMode) []Result {
	if s.cache == nil {
		return s.engine.Search(q.Text)
	}
	key := querycache.Key(q.Text, q.Author, yearKey(q.YearFrom), yearKey(q.YearTo), string(mode))
	if cached, ok := s.cache.Get(key); ok {
		return cached
	}
	results := s.engine.Search(q.Text)
	s.cache.Put(key, results)
	s.logger.Debug("cached search results", zap.String("key", key), zap.Int("results", len(results)))
	return results
}

func yearKey(y int) string {
	if y == 0 {
		return ""
	}
	return strconv.Itoa(y)
}
