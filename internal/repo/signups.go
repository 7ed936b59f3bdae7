package repo

import (
	"context"

	"smartrust/internal/domain"
)

// InsertSignup adds a newsletter subscriber. A repeated email yields ErrDuplicate.
func (r Repo) InsertSignup(ctx context.Context, email string) (domain.Signup, error) {
	s := domain.Signup{Email: normalizeEmail(email), CreatedAt: nowString()}
	err := r.DB.QueryRowContext(ctx, r.q(`INSERT INTO newsletter_signups(email,created_at) VALUES (?,?) RETURNING id`), s.Email, s.CreatedAt).Scan(&s.ID)
	if err != nil {
		return s, Classify(err)
	}
	return s, nil
}
