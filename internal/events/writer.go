package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"smartrust/internal/db"
)

const (
	ContractCreated = "contract.created"
	TasksCreated    = "contract.tasks_created"
	TaskCreated     = "task.created"
	TaskMoved       = "task.moved"
	InviteCreated   = "invite.created"
	UserSignedIn    = "user.signed_in"
)

type Writer struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append writes an audit event. When tx is nil the event is written outside any
// transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, contractID int64, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var ex execer = w.DB
	if tx != nil {
		ex = tx
	}
	var contract any
	if contractID > 0 {
		contract = contractID
	}
	_, err = ex.ExecContext(ctx, db.Rebind(w.Dialect, `INSERT INTO events(ts,type,contract_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, contract, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
