package repo

import (
	"context"
	"database/sql"
	"strings"

	"smartrust/internal/domain"
)

const userColumns = `id,email,display_name,photo,created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	var photo sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &photo, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if photo.Valid {
		u.Photo = &photo.String
	}
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, r.q(`SELECT `+userColumns+` FROM users WHERE id=?`), id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, r.q(`SELECT `+userColumns+` FROM users WHERE email=?`), normalizeEmail(email)))
}

// EnsureUser creates the users row for an email on first sign-in and returns the
// stored row either way. An existing display name is never overwritten.
func (r Repo) EnsureUser(ctx context.Context, email, displayName string, photo *string) (domain.User, error) {
	email = normalizeEmail(email)
	if displayName == "" {
		displayName = DefaultDisplayName(email)
	}
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO users(email,display_name,photo,created_at) VALUES (?,?,?,?) ON CONFLICT(email) DO NOTHING`),
		email, displayName, nullableStringPtr(photo), nowString())
	if err != nil {
		return domain.User{}, Classify(err)
	}
	return r.GetUserByEmail(ctx, email)
}

func (r Repo) UpdateUserProfile(ctx context.Context, id int64, displayName string, photo *string) (domain.User, error) {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE users SET display_name=?, photo=? WHERE id=?`), displayName, nullableStringPtr(photo), id)
	if err != nil {
		return domain.User{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.User{}, ErrNotFound
	}
	return r.GetUser(ctx, id)
}

// DefaultDisplayName is the local part of the email, or a placeholder.
func DefaultDisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return "Unknown User"
	}
	return local
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
