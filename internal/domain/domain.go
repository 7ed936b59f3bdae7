package domain

import (
	"encoding/json"
	"strconv"
)

type User struct {
	ID          int64   `json:"id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	Photo       *string `json:"photo,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Contract struct {
	ID             int64           `json:"id"`
	Description    string          `json:"description"`
	DashboardState string          `json:"dashboard_state" enum:"draft,active,completed,disputed"`
	Owner          int64           `json:"owner"`
	NominalValue   float64         `json:"nominal_value"`
	Currency       string          `json:"currency"`
	Stage          int             `json:"stage"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
}

// DisplayName mirrors how dashboards label a contract: the party name captured by the
// wizard, else a truncated description, else the numeric id.
func (c Contract) DisplayName() string {
	var meta struct {
		Name string `json:"name"`
	}
	if len(c.Metadata) > 0 && json.Unmarshal(c.Metadata, &meta) == nil && meta.Name != "" {
		return meta.Name
	}
	if c.Description != "" {
		r := []rune(c.Description)
		if len(r) > 30 {
			return string(r[:30]) + "..."
		}
		return c.Description
	}
	return "Contract #" + strconv.FormatInt(c.ID, 10)
}

type RefTask struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Originator      string  `json:"originator"`
	TaskOwner       string  `json:"task_owner"`
	BuyerTodoLabel  string  `json:"buyer_todo_label"`
	BuyerDoneLabel  string  `json:"buyer_done_label"`
	SellerTodoLabel string  `json:"seller_todo_label"`
	SellerDoneLabel string  `json:"seller_done_label"`
	DisplayOrder    int     `json:"display_order"`
	Dependencies    []int64 `json:"dependencies,omitempty"`
}

type Task struct {
	ID           int64      `json:"id"`
	Contract     int64      `json:"contract"`
	RefTaskName  string     `json:"ref_task_name"`
	Label        string     `json:"label"`
	Status       TaskStatus `json:"status" enum:"todo,in_progress,done"`
	DisplayOrder int        `json:"display_order"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
}

type Invite struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	InvitedUser int64  `json:"invited_user"`
	ContractID  int64  `json:"contract_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Signup struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ContractID *int64 `json:"contract_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type OTPChallenge struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	CodeHash   string  `json:"-"`
	ExpiresAt  string  `json:"expires_at" format:"date-time"`
	ConsumedAt *string `json:"consumed_at,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
