// Package practice persists practice sessions: one analysed attempt at
// reading an expected text aloud, together with its scores.
//
// Three [Store] implementations exist: [MemStore] for single-process use and
// tests, [PostgresStore] backed by pgx, and [SQLiteStore] backed by
// database/sql with the go-sqlite3 driver. [Open] selects one by driver name.
package practice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/speakwell/pkg/analysis"
)

// Listing limits applied by [Store.ListByUser].
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Driver names accepted by [Open].
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("practice: store is closed")

// Session is one persisted practice attempt.
type Session struct {
	ID                 string           `json:"id"`
	UserID             string           `json:"user_id,omitempty"`
	ExpectedText       string           `json:"expected_text"`
	RecognizedText     string           `json:"recognized_text"`
	Source             string           `json:"source"`
	PronunciationScore float64          `json:"pronunciation_score"`
	FluencyScore       float64          `json:"fluency_score"`
	CompletenessScore  float64          `json:"completeness_score"`
	OverallScore       float64          `json:"overall_score"`
	Report             *analysis.Report `json:"report,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Validate checks that s can be persisted.
func (s *Session) Validate() error {
	var errs []error
	if strings.TrimSpace(s.ExpectedText) == "" {
		errs = append(errs, errors.New("expected_text must not be empty"))
	}
	if s.ID != "" {
		if _, err := uuid.Parse(s.ID); err != nil {
			errs = append(errs, fmt.Errorf("id %q is not a UUID", s.ID))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("practice: invalid session: %w", err)
	}
	return nil
}

// prepare validates s and fills in the ID and creation time when unset.
func (s *Session) prepare() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return nil
}

// NewSession builds an unsaved session from an analysis request and its
// report. The ID and creation time are assigned by [Store.Save].
func NewSession(userID string, req analysis.Request, rep *analysis.Report) *Session {
	s := &Session{
		UserID:         userID,
		ExpectedText:   req.ExpectedText,
		RecognizedText: req.RecognizedText,
	}
	if rep != nil {
		s.Source = rep.Source
		s.PronunciationScore = rep.PronunciationScore
		s.FluencyScore = rep.FluencyScore
		s.CompletenessScore = rep.CompletenessScore
		s.OverallScore = rep.OverallScore
		s.Report = rep
	}
	return s
}

// Stats summarises stored sessions, either for one user or for everyone.
type Stats struct {
	TotalSessions    int64   `json:"total_practice_sessions"`
	TotalUsers       int64   `json:"total_users"`
	AvgPronunciation float64 `json:"avg_pronunciation_score"`
	AvgFluency       float64 `json:"avg_fluency_score"`
	AvgCompleteness  float64 `json:"avg_completeness_score"`
	AvgOverall       float64 `json:"avg_overall_score"`
	BestOverall      float64 `json:"best_overall_score"`
}

// Store persists practice sessions. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save inserts s, assigning a UUIDv4 ID and creation time when unset.
	Save(ctx context.Context, s *Session) error

	// Get returns the session with the given ID. Returns (nil, nil) if not
	// found.
	Get(ctx context.Context, id string) (*Session, error)

	// ListByUser returns the newest sessions first. An empty userID lists
	// every user's sessions. limit is clamped to [1, MaxListLimit]; zero or
	// negative selects DefaultListLimit.
	ListByUser(ctx context.Context, userID string, limit int) ([]Session, error)

	// Stats summarises the sessions of userID, or of everyone when empty.
	Stats(ctx context.Context, userID string) (Stats, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Open returns the store selected by driver. Postgres and SQLite stores are
// migrated before being returned.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemStore(), nil
	case DriverPostgres:
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("practice: unknown driver %q", driver)
	}
}

// clampLimit applies the listing limits.
func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	default:
		return n
	}
}

// round1 rounds averages to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
