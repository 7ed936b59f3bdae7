package repo

import (
	"context"
	"database/sql"

	"smartrust/internal/domain"
)

const otpColumns = `id,email,code_hash,expires_at,consumed_at,created_at`

func scanOTP(row interface{ Scan(...any) error }) (domain.OTPChallenge, error) {
	var c domain.OTPChallenge
	var consumed sql.NullString
	err := row.Scan(&c.ID, &c.Email, &c.CodeHash, &c.ExpiresAt, &consumed, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if consumed.Valid {
		c.ConsumedAt = &consumed.String
	}
	return c, err
}

func (r Repo) InsertOTP(ctx context.Context, c domain.OTPChallenge) error {
	c.Email = normalizeEmail(c.Email)
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO otp_challenges(id,email,code_hash,expires_at,created_at) VALUES (?,?,?,?,?)`),
		c.ID, c.Email, c.CodeHash, c.ExpiresAt, c.CreatedAt)
	return Classify(err)
}

// LatestOTP returns the most recently issued challenge for an email.
func (r Repo) LatestOTP(ctx context.Context, email string) (domain.OTPChallenge, error) {
	return scanOTP(r.DB.QueryRowContext(ctx, r.q(`SELECT `+otpColumns+` FROM otp_challenges WHERE email=? ORDER BY created_at DESC, expires_at DESC LIMIT 1`), normalizeEmail(email)))
}

// ConsumeOTP marks a challenge used. It returns ErrNotFound if the challenge was
// already consumed, so a code can only be redeemed once.
func (r Repo) ConsumeOTP(ctx context.Context, id, at string) error {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE otp_challenges SET consumed_at=? WHERE id=? AND consumed_at IS NULL`), at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneOTP deletes challenges that expired before cutoff.
func (r Repo) PruneOTP(ctx context.Context, cutoff string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, r.q(`DELETE FROM otp_challenges WHERE expires_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
