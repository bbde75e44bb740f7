package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/speakwell/pkg/analysis"
)

// Schema is the SQL DDL for the practice_sessions table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS practice_sessions (
    id                  TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL DEFAULT '',
    expected_text       TEXT NOT NULL,
    recognized_text     TEXT NOT NULL DEFAULT '',
    source              TEXT NOT NULL DEFAULT '',
    pronunciation_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    fluency_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
    completeness_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
    overall_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
    report              JSONB NOT NULL DEFAULT '{}',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_practice_sessions_user_created
    ON practice_sessions(user_id, created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. The full
// analysis report is kept as JSONB next to the headline scores.
type PostgresStore struct {
	db    DB
	close func()
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] and for closing db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pgx pool to dsn, verifies connectivity and applies
// [Schema]. Close releases the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("practice: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("practice: ping postgres: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL against the database, creating the
// practice_sessions table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("practice: migrate: %w", err)
	}
	return nil
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, sess *Session) error {
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
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err = s.db.Exec(ctx, query,
		sess.ID, sess.UserID, sess.ExpectedText, sess.RecognizedText, sess.Source,
		sess.PronunciationScore, sess.FluencyScore, sess.CompletenessScore, sess.OverallScore,
		reportJSON, sess.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("practice: session with id %q already exists", sess.ID)
		}
		return fmt.Errorf("practice: save: %w", err)
	}
	return nil
}

// sessionColumns is the column list scanned by [scanSession].
const sessionColumns = `id, user_id, expected_text, recognized_text, source,
	pronunciation_score, fluency_score, completeness_score, overall_score,
	report, created_at`

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM practice_sessions WHERE id = $1`

	sess, err := scanSession(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("practice: get %q: %w", id, err)
	}
	return sess, nil
}

// ListByUser implements [Store].
func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM practice_sessions
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC, id
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, clampLimit(limit))
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
func (s *PostgresStore) Stats(ctx context.Context, userID string) (Stats, error) {
	const query = `
		SELECT COUNT(*),
		       COUNT(DISTINCT NULLIF(user_id, '')),
		       COALESCE(AVG(pronunciation_score), 0),
		       COALESCE(AVG(fluency_score), 0),
		       COALESCE(AVG(completeness_score), 0),
		       COALESCE(AVG(overall_score), 0),
		       COALESCE(MAX(overall_score), 0)
		FROM practice_sessions
		WHERE ($1 = '' OR user_id = $1)`

	var st Stats
	err := s.db.QueryRow(ctx, query, userID).Scan(
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
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("practice: ping: %w", err)
	}
	return nil
}

// Close implements [Store]. It closes the pool only when the store opened it.
func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession scans one row selected with [sessionColumns].
func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var reportJSON []byte
	if err := row.Scan(
		&sess.ID, &sess.UserID, &sess.ExpectedText, &sess.RecognizedText, &sess.Source,
		&sess.PronunciationScore, &sess.FluencyScore, &sess.CompletenessScore, &sess.OverallScore,
		&reportJSON, &sess.CreatedAt,
	); err != nil {
		return nil, err
	}
	rep, err := unmarshalReport(reportJSON)
	if err != nil {
		return nil, err
	}
	sess.Report = rep
	return &sess, nil
}

// marshalReport encodes rep, storing "{}" for a nil report.
func marshalReport(rep *analysis.Report) ([]byte, error) {
	if rep == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("practice: marshal report: %w", err)
	}
	return b, nil
}

// unmarshalReport is the inverse of [marshalReport].
func unmarshalReport(b []byte) (*analysis.Report, error) {
	if len(b) == 0 || string(b) == "{}" {
		return nil, nil
	}
	var rep analysis.Report
	if err := json.Unmarshal(b, &rep); err != nil {
		return nil, fmt.Errorf("practice: unmarshal report: %w", err)
	}
	return &rep, nil
}

// roundAverages rounds the averages to one decimal place.
func (st *Stats) roundAverages() {
	st.AvgPronunciation = round1(st.AvgPronunciation)
	st.AvgFluency = round1(st.AvgFluency)
	st.AvgCompleteness = round1(st.AvgCompleteness)
	st.AvgOverall = round1(st.AvgOverall)
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
