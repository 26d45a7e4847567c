package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Feedback is a user's rating of one answer.
type Feedback struct {
	Query    string
	Response string
	Rating   int
	Comments string
}

// AppendFeedback persists fb and returns its generated id.
func (s *SQLiteStore) AppendFeedback(ctx context.Context, fb Feedback) (string, error) {
	id := uuid.NewString()
	const q = `INSERT INTO feedback (id, query, response, rating, comments, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, id, fb.Query, fb.Response, fb.Rating, fb.Comments, time.Now().Unix()); err != nil {
		return "", fmt.Errorf("store: append feedback: %w", err)
	}
	return id, nil
}

// CountFeedback returns how many feedback rows exist.
func (s *SQLiteStore) CountFeedback(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count feedback: %w", err)
	}
	return n, nil
}
