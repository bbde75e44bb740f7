package practice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// SQLiteSchema is the SQLite flavour of [Schema].
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS practice_sessions (
    id                  TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL DEFAULT '',
    expected_text       TEXT NOT NULL,
    recognized_text     TEXT NOT NULL DEFAULT '',
    source              TEXT NOT NULL DEFAULT '',
    pronunciation_score REAL NOT NULL DEFAULT 0,
    fluency_score       REAL NOT NULL DEFAULT 0,
    completeness_score  REAL NOT NULL DEFAULT 0,
    overall_score       REAL NOT NULL DEFAULT 0,
    report              TEXT NOT NULL DEFAULT '{}',
    created_at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_practice_sessions_user_created
    ON practice_sessions(user_id, created_at DESC);
`

// SQLiteStore is a [Store] backed by a SQLite database file through
// database/sql and the go-sqlite3 driver.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the SQLite database at dsn and applies
// [SQLiteSchema]. A dsn of ":memory:" yields a private in-memory database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("practice: open sqlite %q: %w", dsn, err)
	}
	// SQLite serialises writers; a single connection also keeps an in-memory
	// database alive and shared.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the practice_sessions table and index if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(SQLiteSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("practice: migrate: %w", err)
		}
	}
	return nil
}

// Save implements [Store].
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	if err := sess.prepare(); err != nil {
		return err
	}
	reportJSON, err := marshalReport(sess.Report)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO practice_sessions (
			id, user_id, expected_text, recognized_text, source,
			pronunciation_score, fluency_score, completeness_score, overall_score,
			report, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`

	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.ExpectedText, sess.RecognizedText, sess.Source,
		sess.PronunciationScore, sess.FluencyScore, sess.CompletenessScore, sess.OverallScore,
		string(reportJSON), sess.CreatedAt.UTC(),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && (sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("practice: session with id %q already exists", sess.ID)
		}
		return fmt.Errorf("practice: save: %w", err)
	}
	return nil
}

// Get implements [Store].
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM practice_sessions WHERE id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("practice: get %q: %w", id, err)
	}
	return sess, nil
}

// ListByUser implements [Store].
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit int) ([]Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM practice_sessions
		WHERE (?1 = '' OR user_id = ?1)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?2`

	rows, err := s.db.QueryContext(ctx, query, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("practice: list: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("practice: list scan: %w", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("practice: list: %w", err)
	}
	return out, nil
}

// Stats implements [Store].
func (s *SQLiteStore) Stats(ctx context.Context, userID string) (Stats, error) {
	const query = `
		SELECT COUNT(*),
		       COUNT(DISTINCT NULLIF(user_id, '')),
		       COALESCE(AVG(pronunciation_score), 0),
		       COALESCE(AVG(fluency_score), 0),
		       COALESCE(AVG(completeness_score), 0),
		       COALESCE(AVG(overall_score), 0),
		       COALESCE(MAX(overall_score), 0)
		FROM practice_sessions
		WHERE (?1 = '' OR user_id = ?1)`

	var st Stats
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&st.TotalSessions, &st.TotalUsers,
		&st.AvgPronunciation, &st.AvgFluency, &st.AvgCompleteness, &st.AvgOverall,
		&st.BestOverall,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("practice: stats: %w", err)
	}
	st.roundAverages()
	return st, nil
}

// Ping implements [Store].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("practice: ping: %w", err)
	}
	return nil
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
