// Package api serves the speakwell HTTP API:
//
//	POST /api/analyze-pronunciation  full analysis of one attempt
//	POST /api/score                  offline engine only (?alignment=)
//	GET  /api/sessions               practice history (?user_id=&limit=)
//	GET  /api/sessions/{id}          one practice session
//	GET  /api/stats                  aggregate practice statistics
//	GET  /api/health                 feature map
//	GET  /ws/practice                live scoring of interim recognitions
//
// Liveness, readiness and metrics endpoints are mounted by the application
// next to this handler.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/practice"
	"github.com/MrWong99/speakwell/pkg/scoring"
)

const (
	// DefaultMaxTextLength caps each request text, in runes.
	DefaultMaxTextLength = 5000

	// maxBodyBytes bounds JSON request bodies.
	maxBodyBytes = 1 << 20
)

// Error messages returned in the "error" field of failed responses.
const (
	msgMissingText     = "Missing text data"
	msgTextTooLong     = "Text exceeds maximum length"
	msgInvalidJSON     = "Invalid JSON body"
	msgAnalysisFailed  = "Pronunciation analysis failed"
	msgInvalidRequest  = "Invalid analysis request"
	msgScoringFailed   = "Scoring failed"
	msgNoStore         = "Practice history is disabled"
	msgSessionNotFound = "Session not found"
	msgInvalidLimit    = "limit must be a positive integer"
	msgInvalidID       = "Invalid session id"
	msgStoreFailed     = "Practice history unavailable"
)

// Server holds the dependencies of the API handlers. It is safe for
// concurrent use.
type Server struct {
	coach    *coach.Coach
	store    practice.Store
	metrics  *observe.Metrics
	maxText  int
	backends []string
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithStore enables the practice history endpoints.
func WithStore(s practice.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithAnalyzerBackends lists the analyzer backends, in try order, on
// GET /api/health.
func WithAnalyzerBackends(names []string) Option {
	return func(srv *Server) { srv.backends = append([]string(nil), names...) }
}

// WithMaxTextLength caps each request text at n runes. Non-positive values
// are ignored.
func WithMaxTextLength(n int) Option {
	return func(srv *Server) {
		if n > 0 {
			srv.maxText = n
		}
	}
}

// New creates a [Server] answering through c.
func New(c *coach.Coach, opts ...Option) *Server {
	s := &Server{
		coach:   c,
		maxText: DefaultMaxTextLength,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Register mounts every API route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/analyze-pronunciation", s.handleAnalyze)
	mux.HandleFunc("POST /api/score", s.handleScore)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /ws/practice", s.handlePractice)
}

// Handler returns a mux serving only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type healthResponse struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Features  map[string]bool `json:"features"`
	Analyzers []string        `json:"analyzers,omitempty"`
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Message: "Pronunciation Detector API is running",
		Features: map[string]bool{
			"grammar_checker":        false,
			"pronunciation_analyzer": true,
			"user_management":        false,
			"database":               s.store != nil,
		},
		Analyzers: s.backends,
	})
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody decodes the JSON request body into v. It writes the error
// response itself and reports false when the body is unusable.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err == nil {
		err = decodeJSON(data, v)
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: msgInvalidJSON, Details: err.Error()})
	case errors.Is(err, scoring.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest, Details: err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidJSON, Details: err.Error()})
	}
	return false
}

var errNotUTF8 = fmt.Errorf("%w: body is not valid UTF-8", scoring.ErrInvalidInput)

// decodeJSON unmarshals data into v. encoding/json would replace malformed
// bytes with U+FFFD, so they are rejected up front.
func decodeJSON(data []byte, v any) error {
	if !utf8.Valid(data) {
		return errNotUTF8
	}
	return json.Unmarshal(data, v)
}

// requiredTexts dereferences the two decoded text fields. Null or absent
// fields are invalid input, never an empty string.
func requiredTexts(expected, recognized *string) (string, string, error) {
	switch {
	case expected == nil:
		return "", "", fmt.Errorf("%w: expected_text is null or missing", scoring.ErrInvalidInput)
	case recognized == nil:
		return "", "", fmt.Errorf("%w: recognized_text is null or missing", scoring.ErrInvalidInput)
	}
	return *expected, *recognized, nil
}

// tooLong reports whether any of texts exceeds the configured rune cap.
func (s *Server) tooLong(texts ...string) bool {
	for _, t := range texts {
		if utf8.RuneCountInString(t) > s.maxText {
			return true
		}
	}
	return false
}

func (s *Server) writeTooLong(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgTextTooLong, MaxLength: s.maxText})
}
