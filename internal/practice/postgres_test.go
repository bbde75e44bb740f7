package practice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// Test helpers: mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data    [][]any
	idx     int
	err     error
	closed  bool
	scanErr error
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	return assign(r.data[r.idx-1], dest)
}

// assign copies row values into scan destinations.
func assign(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		case *float64:
			*d = v.(float64)
		case *int64:
			*d = v.(int64)
		case *int:
			*d = v.(int)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

var fixedTime = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func sessionRow(id, user string, overall float64, report string) []any {
	return []any{
		id, user, "I like apples", "I like oranges", "local",
		64.0, 100.0, 100.0, overall,
		[]byte(report), fixedTime,
	}
}

// ---------------------------------------------------------------------------
// PostgresStore tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		var executed string
		db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			executed = sql
			return pgconn.CommandTag{}, nil
		}}
		if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate() unexpected error: %v", err)
		}
		if executed != Schema {
			t.Error("Migrate() did not execute Schema")
		}
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("permission denied")
		}}
		err := NewPostgresStore(db).Migrate(context.Background())
		if err == nil || !strings.Contains(err.Error(), "practice: migrate") {
			t.Errorf("Migrate() error = %v, want practice: migrate prefix", err)
		}
	})
}

func TestPostgresStore_Save(t *testing.T) {
	t.Parallel()

	t.Run("assigns id and inserts", func(t *testing.T) {
		t.Parallel()
		var gotArgs []any
		db := &mockDB{execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if !strings.Contains(sql, "INSERT INTO practice_sessions") {
				t.Errorf("unexpected SQL: %s", sql)
			}
			gotArgs = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		}}
		sess := &Session{UserID: "alice", ExpectedText: "hello", OverallScore: 90}
		if err := NewPostgresStore(db).Save(context.Background(), sess); err != nil {
			t.Fatalf("Save() unexpected error: %v", err)
		}
		if sess.ID == "" || sess.CreatedAt.IsZero() {
			t.Errorf("Save() did not assign id/created_at: %+v", sess)
		}
		if len(gotArgs) != 11 {
			t.Fatalf("args = %d, want 11", len(gotArgs))
		}
		if gotArgs[0] != sess.ID || gotArgs[1] != "alice" {
			t.Errorf("args[0:2] = %v", gotArgs[0:2])
		}
		if string(gotArgs[9].([]byte)) != "{}" {
			t.Errorf("nil report stored as %s, want {}", gotArgs[9])
		}
	})

	t.Run("duplicate key", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		}}
		err := NewPostgresStore(db).Save(context.Background(), &Session{ExpectedText: "x"})
		if err == nil || !strings.Contains(err.Error(), "already exists") {
			t.Errorf("Save() error = %v, want already exists", err)
		}
	})

	t.Run("invalid session skips database", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			t.Error("Exec should not be called")
			return pgconn.CommandTag{}, nil
		}}
		if err := NewPostgresStore(db).Save(context.Background(), &Session{}); err == nil {
			t.Error("Save() expected validation error")
		}
	})
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			if args[0] != "sess-1" {
				t.Errorf("Get() id = %v, want sess-1", args[0])
			}
			return &mockRow{scanFunc: func(dest ...any) error {
				return assign(sessionRow("sess-1", "alice", 85.6, `{"pronunciation_score":64,"feedback":["ok"]}`), dest)
			}}
		}}
		got, err := NewPostgresStore(db).Get(context.Background(), "sess-1")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if got == nil {
			t.Fatal("Get() returned nil")
		}
		if got.UserID != "alice" || got.OverallScore != 85.6 || !got.CreatedAt.Equal(fixedTime) {
			t.Errorf("Get() = %+v", got)
		}
		if got.Report == nil || got.Report.PronunciationScore != 64 || len(got.Report.Feedback) != 1 {
			t.Errorf("Report = %+v", got.Report)
		}
	})

	t.Run("empty report", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(dest ...any) error {
				return assign(sessionRow("sess-2", "", 0, `{}`), dest)
			}}
		}}
		got, err := NewPostgresStore(db).Get(context.Background(), "sess-2")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if got.Report != nil {
			t.Errorf("Report = %+v, want nil", got.Report)
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		got, err := NewPostgresStore(&mockDB{}).Get(context.Background(), "missing")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("Get() = %+v, want nil", got)
		}
	})

	t.Run("query error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(...any) error { return errors.New("connection lost") }}
		}}
		_, err := NewPostgresStore(db).Get(context.Background(), "x")
		if err == nil || !strings.Contains(err.Error(), `practice: get "x"`) {
			t.Errorf("Get() error = %v", err)
		}
	})
}

func TestPostgresStore_ListByUser(t *testing.T) {
	t.Parallel()

	t.Run("rows and limit", func(t *testing.T) {
		t.Parallel()
		rows := &mockRows{data: [][]any{
			sessionRow("s2", "alice", 90, `{}`),
			sessionRow("s1", "alice", 80, `{}`),
		}}
		db := &mockDB{queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if !strings.Contains(sql, "ORDER BY created_at DESC") {
				t.Errorf("missing ordering in SQL: %s", sql)
			}
			if args[0] != "alice" {
				t.Errorf("user arg = %v, want alice", args[0])
			}
			if args[1] != MaxListLimit {
				t.Errorf("limit arg = %v, want clamped %d", args[1], MaxListLimit)
			}
			return rows, nil
		}}
		got, err := NewPostgresStore(db).ListByUser(context.Background(), "alice", 1000)
		if err != nil {
			t.Fatalf("ListByUser() unexpected error: %v", err)
		}
		if len(got) != 2 || got[0].ID != "s2" {
			t.Errorf("ListByUser() = %+v", got)
		}
		if !rows.closed {
			t.Error("rows were not closed")
		}
	})

	t.Run("default limit", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
			if args[1] != DefaultListLimit {
				t.Errorf("limit arg = %v, want %d", args[1], DefaultListLimit)
			}
			return &mockRows{}, nil
		}}
		got, err := NewPostgresStore(db).ListByUser(context.Background(), "", 0)
		if err != nil || len(got) != 0 {
			t.Errorf("ListByUser() = %v, %v", got, err)
		}
	})

	t.Run("scan error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{{}}, scanErr: errors.New("bad column")}, nil
		}}
		_, err := NewPostgresStore(db).ListByUser(context.Background(), "", 5)
		if err == nil || !strings.Contains(err.Error(), "list scan") {
			t.Errorf("ListByUser() error = %v", err)
		}
	})

	t.Run("rows error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{err: errors.New("stream reset")}, nil
		}}
		if _, err := NewPostgresStore(db).ListByUser(context.Background(), "", 5); err == nil {
			t.Error("ListByUser() expected rows error")
		}
	})
}

func TestPostgresStore_Stats(t *testing.T) {
	t.Parallel()
	db := &mockDB{queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
		if !strings.Contains(sql, "COUNT(DISTINCT") {
			t.Errorf("unexpected SQL: %s", sql)
		}
		if args[0] != "" {
			t.Errorf("user arg = %v, want empty", args[0])
		}
		return &mockRow{scanFunc: func(dest ...any) error {
			return assign([]any{int64(3), int64(2), 66.666, 90.0, 83.333, 80.04, 95.0}, dest)
		}}
	}}
	got, err := NewPostgresStore(db).Stats(context.Background(), "")
	if err != nil {
		t.Fatalf("Stats() unexpected error: %v", err)
	}
	want := Stats{
		TotalSessions:    3,
		TotalUsers:       2,
		AvgPronunciation: 66.7,
		AvgFluency:       90,
		AvgCompleteness:  83.3,
		AvgOverall:       80,
		BestOverall:      95,
	}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestPostgresStore_PingAndClose(t *testing.T) {
	t.Parallel()
	okDB := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error { return assign([]any{1}, dest) }}
	}}
	s := NewPostgresStore(okDB)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}

	closed := false
	s = &PostgresStore{db: &mockDB{}, close: func() { closed = true }}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping() on failing db should error")
	}
	_ = s.Close()
	if !closed {
		t.Error("Close() did not release the pool")
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want int }{
		{-5, DefaultListLimit},
		{0, DefaultListLimit},
		{1, 1},
		{MaxListLimit, MaxListLimit},
		{MaxListLimit + 1, MaxListLimit},
	}
	for _, tc := range tests {
		if got := clampLimit(tc.in); got != tc.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
