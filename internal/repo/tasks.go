package repo

import (
	"context"
	"database/sql"
	"fmt"

	"smartrust/internal/domain"
)

const taskColumns = `id,contract,ref_task_name,label,status,display_order,created_at`

// TaskOrder is a single display_order assignment written by a board reorder.
type TaskOrder struct {
	ID           int64 `json:"id"`
	DisplayOrder int   `json:"display_order"`
}

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var status string
	err := row.Scan(&t.ID, &t.Contract, &t.RefTaskName, &t.Label, &status, &t.DisplayOrder, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.Status = domain.TaskStatus(status)
	return t, err
}

func (r Repo) insertTask(ctx context.Context, ex execer, t domain.Task) (domain.Task, error) {
	if t.CreatedAt == "" {
		t.CreatedAt = nowString()
	}
	if !t.Status.Valid() {
		return t, fmt.Errorf("invalid task status %q", t.Status)
	}
	err := ex.QueryRowContext(ctx, r.q(`INSERT INTO tasks(contract,ref_task_name,label,status,display_order,created_at) VALUES (?,?,?,?,?,?) RETURNING id`),
		t.Contract, t.RefTaskName, t.Label, string(t.Status), t.DisplayOrder, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return t, Classify(err)
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	return r.insertTask(ctx, r.DB, t)
}

// InsertTasks writes a batch in one transaction; either every row lands or none.
func (r Repo) InsertTasks(ctx context.Context, tasks []domain.Task) ([]domain.Task, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		saved, err := r.insertTask(ctx, tx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, r.q(`SELECT `+taskColumns+` FROM tasks WHERE id=?`), id))
}

func (r Repo) ListTasksByContract(ctx context.Context, contractID int64) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+taskColumns+` FROM tasks WHERE contract=? ORDER BY display_order ASC, id ASC`), contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskPosition(ctx context.Context, id int64, status domain.TaskStatus, displayOrder int) error {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE tasks SET status=?, display_order=? WHERE id=?`), string(status), displayOrder, id)
	if err != nil {
		return Classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertTaskOrders rewrites display_order for a set of tasks in one transaction.
func (r Repo) UpsertTaskOrders(ctx context.Context, orders []TaskOrder) error {
	if len(orders) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt := r.q(`UPDATE tasks SET display_order=? WHERE id=?`)
	for _, o := range orders {
		res, err := tx.ExecContext(ctx, stmt, o.DisplayOrder, o.ID)
		if err != nil {
			return Classify(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %d: %w", o.ID, ErrNotFound)
		}
	}
	return tx.Commit()
}

// CountTasksByStatus summarises a contract's board for dashboards.
func (r Repo) CountTasksByStatus(ctx context.Context, contractID int64) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT status, COUNT(*) FROM tasks WHERE contract=? GROUP BY status`), contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for _, s := range domain.Statuses() {
		res[string(s)] = 0
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
