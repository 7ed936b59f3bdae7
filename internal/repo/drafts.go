package repo

import (
	"context"
	"database/sql"
)

// Draft is a small keyed blob scoped to an owner (a user or an anonymous wizard).
type Draft struct {
	OwnerKey  string `json:"owner_key"`
	Key       string `json:"key"`
	Content   string `json:"content"`
	UpdatedAt string `json:"updated_at"`
}

func (r Repo) PutDraft(ctx context.Context, ownerKey, key, content string) error {
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO drafts(owner_key,key,content,updated_at) VALUES (?,?,?,?)
ON CONFLICT(owner_key,key) DO UPDATE SET content=excluded.content, updated_at=excluded.updated_at`),
		ownerKey, key, content, nowString())
	return Classify(err)
}

func (r Repo) GetDraft(ctx context.Context, ownerKey, key string) (Draft, error) {
	d := Draft{OwnerKey: ownerKey, Key: key}
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT content,updated_at FROM drafts WHERE owner_key=? AND key=?`), ownerKey, key).Scan(&d.Content, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) DeleteDraft(ctx context.Context, ownerKey, key string) error {
	_, err := r.DB.ExecContext(ctx, r.q(`DELETE FROM drafts WHERE owner_key=? AND key=?`), ownerKey, key)
	return err
}

// PruneDrafts removes drafts whose owner key has the given prefix and that were
// last written before cutoff (RFC3339). It returns the number of rows removed.
func (r Repo) PruneDrafts(ctx context.Context, ownerPrefix, cutoff string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, r.q(`DELETE FROM drafts WHERE owner_key LIKE ? AND updated_at < ?`), ownerPrefix+"%", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
