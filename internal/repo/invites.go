package repo

import (
	"context"
	"database/sql"

	"smartrust/internal/domain"
)

func scanInvite(row interface{ Scan(...any) error }) (domain.Invite, error) {
	var inv domain.Invite
	err := row.Scan(&inv.ID, &inv.Email, &inv.InvitedUser, &inv.ContractID, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	return inv, err
}

// InsertInvite records that invitedUser shared a contract with email.
func (r Repo) InsertInvite(ctx context.Context, tx *sql.Tx, inv domain.Invite) (domain.Invite, error) {
	inv.Email = normalizeEmail(inv.Email)
	if inv.CreatedAt == "" {
		inv.CreatedAt = nowString()
	}
	err := r.conn(tx).QueryRowContext(ctx, r.q(`INSERT INTO invite_user(email,invited_user,contract_id,created_at) VALUES (?,?,?,?) RETURNING id`),
		inv.Email, inv.InvitedUser, inv.ContractID, inv.CreatedAt).Scan(&inv.ID)
	if err != nil {
		return inv, Classify(err)
	}
	return inv, nil
}

func (r Repo) GetInvite(ctx context.Context, id int64) (domain.Invite, error) {
	return scanInvite(r.DB.QueryRowContext(ctx, r.q(`SELECT id,email,invited_user,contract_id,created_at FROM invite_user WHERE id=?`), id))
}

func (r Repo) ListInvitesByContract(ctx context.Context, contractID int64) ([]domain.Invite, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,email,invited_user,contract_id,created_at FROM invite_user WHERE contract_id=? ORDER BY id`), contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}
