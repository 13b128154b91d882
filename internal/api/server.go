package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/id/uuid"
	"github.com/JakeFAU/pubsearch/internal/logging"
	"github.com/JakeFAU/pubsearch/internal/metrics"
	"github.com/JakeFAU/pubsearch/internal/search"
	"github.com/JakeFAU/pubsearch/internal/telemetry"
)

const errNotInitialized = "search engine not initialized"

// Classification is the classifier collaborator's answer.
type Classification struct {
	PredictedCategory string             `json:"predicted_category"`
	Confidence        float64            `json:"confidence"`
	Probabilities     map[string]float64 `json:"probabilities"`
	Explanation       string             `json:"explanation"`
}

// Classifier assigns a subject category to free text.
type Classifier interface {
	Classify(ctx context.Context, text, modelType string) (Classification, error)
}

// Cluster is the clusterer collaborator's answer.
type Cluster struct {
	ClusterID    int     `json:"cluster_id"`
	ClusterLabel string  `json:"cluster_label"`
	Distance     float64 `json:"distance"`
}

// Clusterer assigns free text to a topic cluster.
type Clusterer interface {
	Cluster(ctx context.Context, text string) (Cluster, error)
}

// RequestIDGenerator issues IDs for requests that arrive without one.
type RequestIDGenerator interface {
	NewRequestID() string
}

// Options configures a Server. Every field is optional.
type Options struct {
	DataDir    string
	Classifier Classifier
	Clusterer  Clusterer
	RequestIDs RequestIDGenerator
	Logger     *zap.Logger
	// Timeout bounds each request; zero disables it.
	Timeout time.Duration
}

// Server wires HTTP handlers to the search service and collaborators.
type Server struct {
	router  chi.Router
	service *search.Service
	opts    Options
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil service
// answers searches with an error payload.
func NewServer(service *search.Service, opts Options) *Server {
	s := &Server{
		service: service,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).Named("api"),
	}
	if s.opts.RequestIDs == nil {
		s.opts.RequestIDs = uuid.New()
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(tracingMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(corsMiddleware)
	r.Use(metrics.Middleware)
	if opts.Timeout > 0 {
		r.Use(timeoutMiddleware(opts.Timeout))
	}

	r.Get("/", s.root)
	r.Get("/health", s.health)
	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/search", s.search)
	r.Post("/classify", s.classify)
	r.Post("/cluster", s.cluster)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type healthResponse struct {
	Status       string `json:"status"`
	Publications int    `json:"publications"`
	CacheEntries int    `json:"cache_entries"`
	DataDir      string `json:"data_dir"`
	Mode         string `json:"mode,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", DataDir: s.opts.DataDir}
	if s.service != nil {
		resp.Publications = s.service.Engine().Len()
		resp.CacheEntries = s.service.CacheLen()
		resp.Mode = string(s.service.Engine().Mode())
	}
	writeJSON(w, http.StatusOK, resp)
}

// search never fails at the protocol level: malformed numbers are treated as
// absent and the service clamps the rest.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusOK, errNotInitialized)
		return
	}
	q := r.URL.Query()
	page := s.service.Search(search.Query{
		Text:     q.Get("query"),
		Author:   q.Get("author"),
		YearFrom: intParam(q.Get("year_from")),
		YearTo:   intParam(q.Get("year_to")),
		Sort:     q.Get("sort"),
		Page:     intParam(q.Get("page")),
		Size:     intParam(q.Get("size")),
	})
	writeJSON(w, http.StatusOK, page)
}

type classifyRequest struct {
	Text      string `json:"text"`
	ModelType string `json:"model_type"`
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	text := normalizeText(req.Text)
	if text == "" {
		writeError(w, http.StatusOK, "Text is required for classification")
		return
	}
	if s.opts.Classifier == nil {
		writeError(w, http.StatusOK, "classifier not configured")
		return
	}
	modelType := req.ModelType
	if modelType == "" {
		modelType = "naive_bayes"
	}
	res, err := s.opts.Classifier.Classify(r.Context(), text, modelType)
	if err != nil {
		s.logger.Warn("classification failed", zap.Error(err))
		writeError(w, http.StatusOK, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type clusterRequest struct {
	Text string `json:"text"`
}

func (s *Server) cluster(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	text := normalizeText(req.Text)
	if text == "" {
		writeError(w, http.StatusOK, "Text is required for clustering")
		return
	}
	if s.opts.Clusterer == nil {
		writeError(w, http.StatusOK, "clusterer not configured")
		return
	}
	res, err := s.opts.Clusterer.Cluster(r.Context(), text)
	if err != nil {
		s.logger.Warn("clustering failed", zap.Error(err))
		writeError(w, http.StatusOK, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func intParam(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = s.opts.RequestIDs.NewRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tracingMiddleware starts a server span, continuing any trace context the
// caller sent.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := telemetry.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := telemetry.Tracer().Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("request.id", RequestID(ctx)),
			),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("error", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows any origin so browser and mobile clients can call
// the API directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.L.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
