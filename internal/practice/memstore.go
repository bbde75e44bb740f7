package practice

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemStore is an in-memory [Store]. Sessions are lost on restart.
type MemStore struct {
	mu       sync.RWMutex
	sessions []Session // insertion order
	byID     map[string]int
	closed   bool
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]int)}
}

// Save implements [Store].
func (m *MemStore) Save(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.prepare(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.byID[s.ID]; ok {
		return fmt.Errorf("practice: session with id %q already exists", s.ID)
	}
	m.byID[s.ID] = len(m.sessions)
	m.sessions = append(m.sessions, *s)
	return nil
}

// Get implements [Store].
func (m *MemStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	i, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	s := m.sessions[i]
	return &s, nil
}

// ListByUser implements [Store].
func (m *MemStore) ListByUser(ctx context.Context, userID string, limit int) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	var out []Session
	for i := len(m.sessions) - 1; i >= 0; i-- {
		if userID == "" || m.sessions[i].UserID == userID {
			out = append(out, m.sessions[i])
		}
	}
	// Newest insertion wins ties between equal timestamps.
	slices.SortStableFunc(out, func(a, b Session) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats implements [Store].
func (m *MemStore) Stats(ctx context.Context, userID string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Stats{}, ErrClosed
	}

	var st Stats
	users := make(map[string]struct{})
	for _, s := range m.sessions {
		if userID != "" && s.UserID != userID {
			continue
		}
		st.TotalSessions++
		if s.UserID != "" {
			users[s.UserID] = struct{}{}
		}
		st.AvgPronunciation += s.PronunciationScore
		st.AvgFluency += s.FluencyScore
		st.AvgCompleteness += s.CompletenessScore
		st.AvgOverall += s.OverallScore
		st.BestOverall = max(st.BestOverall, s.OverallScore)
	}
	st.TotalUsers = int64(len(users))
	if st.TotalSessions > 0 {
		n := float64(st.TotalSessions)
		st.AvgPronunciation = round1(st.AvgPronunciation / n)
		st.AvgFluency = round1(st.AvgFluency / n)
		st.AvgCompleteness = round1(st.AvgCompleteness / n)
		st.AvgOverall = round1(st.AvgOverall / n)
	}
	return st, nil
}

// Ping implements [Store].
func (m *MemStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements [Store]. Further calls fail with [ErrClosed].
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = nil
	m.byID = nil
	return nil
}
