package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"smartrust/internal/domain"
)

const refTaskColumns = `id,name,originator,task_owner,buyer_todo_label,buyer_done_label,seller_todo_label,seller_done_label,display_order,dependencies`

// ListRefTasks returns the reference-task catalog in display order.
func (r Repo) ListRefTasks(ctx context.Context) ([]domain.RefTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+refTaskColumns+` FROM ref_tasks ORDER BY display_order ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RefTask
	for rows.Next() {
		var t domain.RefTask
		var deps sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.Originator, &t.TaskOwner, &t.BuyerTodoLabel, &t.BuyerDoneLabel,
			&t.SellerTodoLabel, &t.SellerDoneLabel, &t.DisplayOrder, &deps); err != nil {
			return nil, err
		}
		if deps.Valid && deps.String != "" {
			if err := json.Unmarshal([]byte(deps.String), &t.Dependencies); err != nil {
				return nil, err
			}
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// InsertRefTask adds a catalog entry; an entry with the same name is left untouched.
func (r Repo) InsertRefTask(ctx context.Context, tx *sql.Tx, t domain.RefTask) error {
	var deps any
	if len(t.Dependencies) > 0 {
		b, err := json.Marshal(t.Dependencies)
		if err != nil {
			return err
		}
		deps = string(b)
	}
	_, err := r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO ref_tasks(name,originator,task_owner,buyer_todo_label,buyer_done_label,seller_todo_label,seller_done_label,display_order,dependencies)
VALUES (?,?,?,?,?,?,?,?,?) ON CONFLICT(name) DO NOTHING`),
		t.Name, t.Originator, t.TaskOwner, t.BuyerTodoLabel, t.BuyerDoneLabel, t.SellerTodoLabel, t.SellerDoneLabel, t.DisplayOrder, deps)
	return Classify(err)
}

func (r Repo) CountRefTasks(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM ref_tasks`).Scan(&n)
	return n, err
}
