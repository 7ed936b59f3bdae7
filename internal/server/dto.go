package server

import (
	"encoding/json"
	"time"

	"smartrust/internal/board"
	"smartrust/internal/domain"
	"smartrust/internal/engine"
)

// Request payloads

type OTPRequest struct {
	Email string `json:"email" example:"jordan@example.com"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code" minLength:"6" maxLength:"6"`
}

type DevLoginRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

type UpdateProfileRequest struct {
	DisplayName string  `json:"display_name"`
	Photo       *string `json:"photo,omitempty"`
}

type RoleRequest struct {
	Role string `json:"role" enum:"Freelancer,Buyer,Lawyer"`
}

type KYCRequest struct {
	KYCLevel string `json:"kycLevel" enum:"FullyVerified,IdentityVerified,PrivateVerified,Anonymous"`
}

type ProjectRequest struct {
	Input            string `json:"input"`
	FileContent      string `json:"fileContent,omitempty"`
	SelectedTemplate string `json:"selectedTemplate,omitempty"`
}

type AnswerRequest struct {
	Index  int    `json:"index" minimum:"0"`
	Answer string `json:"answer"`
}

type CreateTaskRequest struct {
	Status string `json:"status,omitempty" enum:"todo,in_progress,done" default:"todo"`
	Label  string `json:"label"`
}

type InviteRequest struct {
	Email string `json:"email"`
}

type NewsletterRequest struct {
	Email string `json:"email"`
}

// Response payloads

type OTPResponse struct {
	Email              string    `json:"email"`
	ExpiresAt          time.Time `json:"expires_at"`
	ResendAfterSeconds int       `json:"resend_after_seconds"`
}

type QuestionsResponse struct {
	Questions []string `json:"questions"`
}

type GeneratedContractResponse struct {
	Contract  string `json:"contract"`
	Remaining int    `json:"remaining_free_generations"`
}

type SaveContractResponse struct {
	Contract engine.ContractView `json:"contract"`
	Tasks    []domain.Task       `json:"tasks"`
	Warning  string              `json:"warning,omitempty"`
}

type CatalogRolesResponse struct {
	Roles     []domain.RoleInfo `json:"roles"`
	KYCLevels []domain.KYCInfo  `json:"kyc_levels"`
}

type BoardResponse struct {
	ContractID int64        `json:"contract_id"`
	Lanes      []board.Lane `json:"lanes"`
}

type CreateTaskResponse struct {
	Task  domain.Task  `json:"task"`
	Lanes []board.Lane `json:"lanes"`
}

type NewsletterResponse struct {
	Email             string `json:"email"`
	AlreadySubscribed bool   `json:"already_subscribed"`
	Message           string `json:"message"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ContractID *int64         `json:"contract_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ContractID: e.ContractID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
