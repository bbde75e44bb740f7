package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/resilience"
	"github.com/MrWong99/speakwell/pkg/analysis"
	"github.com/MrWong99/speakwell/pkg/scoring"
)

// analyzeRequest is the JSON body of POST /api/analyze-pronunciation.
type analyzeRequest struct {
	ExpectedText   *string `json:"expected_text"`
	RecognizedText *string `json:"recognized_text"`
	UserID         string  `json:"user_id"`
}

// handleAnalyze handles POST /api/analyze-pronunciation. Both texts are
// required; the response is the analysis report plus the persisted session
// id.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	expected, recognized, err := requiredTexts(req.ExpectedText, req.RecognizedText)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest, Details: err.Error()})
		return
	}
	expected, recognized = strings.TrimSpace(expected), strings.TrimSpace(recognized)
	if expected == "" || recognized == "" {
		writeError(w, http.StatusBadRequest, msgMissingText)
		return
	}
	if s.tooLong(expected, recognized) {
		s.writeTooLong(w)
		return
	}

	out, err := s.coach.Analyze(r.Context(), coach.Attempt{
		Request: analysis.Request{ExpectedText: expected, RecognizedText: recognized},
		UserID:  strings.TrimSpace(req.UserID),
	})
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrMissingText):
			writeError(w, http.StatusBadRequest, msgMissingText)
		case errors.Is(err, scoring.ErrInvalidInput), resilience.IsRequestError(err):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest, Details: err.Error()})
		default:
			observe.Logger(r.Context()).Error("api: analysis failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgAnalysisFailed, Details: err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// scoreRequest is the JSON body of POST /api/score and of every live
// practice frame.
type scoreRequest struct {
	ExpectedText   *string `json:"expected_text"`
	RecognizedText *string `json:"recognized_text"`
}

// handleScore handles POST /api/score. Both fields must be present; an empty
// recognition scores zero. The alignment query parameter overrides
// the configured policy.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	expected, recognized, err := requiredTexts(req.ExpectedText, req.RecognizedText)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest, Details: err.Error()})
		return
	}
	if strings.TrimSpace(expected) == "" {
		writeError(w, http.StatusBadRequest, msgMissingText)
		return
	}
	if s.tooLong(expected, recognized) {
		s.writeTooLong(w)
		return
	}

	res, err := s.coach.Score(r.Context(), expected, recognized, r.URL.Query().Get("alignment"))
	if err != nil {
		if errors.Is(err, scoring.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest, Details: err.Error()})
			return
		}
		observe.Logger(r.Context()).Error("api: scoring failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgScoringFailed, Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
