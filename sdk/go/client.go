package smartrustsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal SmarTrust HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  60 * time.Second,
	}
}

// User is the signed-in account.
type User struct {
	ID          int64   `json:"id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	Photo       *string `json:"photo,omitempty"`
	SignedInVia string  `json:"signed_in_via"`
}

// Session is returned on sign-in.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// Identity is the wizard's identity step.
type Identity struct {
	Name        string `json:"name"`
	Location    string `json:"location"`
	HasPartner  *bool  `json:"hasPartner,omitempty"`
	PartnerName string `json:"partnerName,omitempty"`
}

// Question is one clarifying question.
type Question struct {
	Text string `json:"text"`
}

// WizardState mirrors the server-side wizard (partial).
type WizardState struct {
	CurrentStep       float64    `json:"currentStep"`
	Role              string     `json:"role,omitempty"`
	KYCLevel          string     `json:"kycLevel,omitempty"`
	Questions         []Question `json:"questions"`
	Answers           []string   `json:"questionResponses"`
	GeneratedContract string     `json:"generatedContract,omitempty"`
}

// DraftRequest is the input of a stateless contract generation.
type DraftRequest struct {
	Input            string     `json:"input"`
	FileContent      string     `json:"fileContent,omitempty"`
	Questions        []Question `json:"questions,omitempty"`
	Answers          []string   `json:"questionResponses,omitempty"`
	SelectedTemplate string     `json:"selectedTemplate,omitempty"`
}

// GeneratedContract is a contract draft and the caller's remaining free
// generations.
type GeneratedContract struct {
	Contract  string `json:"contract"`
	Remaining int    `json:"remaining_free_generations"`
}

// Wizard is a wizard session.
type Wizard struct {
	ID        string      `json:"id"`
	State     WizardState `json:"state"`
	Remaining int         `json:"remaining_free_generations"`
	Busy      bool        `json:"busy"`
}

// Contract represents a saved contract.
type Contract struct {
	ID             int64          `json:"id"`
	Description    string         `json:"description"`
	DashboardState string         `json:"dashboard_state"`
	Owner          int64          `json:"owner"`
	NominalValue   float64        `json:"nominal_value"`
	Currency       string         `json:"currency"`
	Stage          int            `json:"stage"`
	DisplayName    string         `json:"display_name"`
	TaskCounts     map[string]int `json:"task_counts,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// Task is one board card.
type Task struct {
	ID           int64  `json:"id"`
	Contract     int64  `json:"contract"`
	RefTaskName  string `json:"ref_task_name"`
	Label        string `json:"label"`
	Status       string `json:"status"`
	DisplayOrder int    `json:"display_order"`
}

// Lane is one board column.
type Lane struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

// Move describes a drag-and-drop.
type Move struct {
	TaskID           int64  `json:"task_id,omitempty"`
	SourceLane       string `json:"source_lane"`
	SourceIndex      int    `json:"source_index"`
	DestinationLane  string `json:"destination_lane"`
	DestinationIndex int    `json:"destination_index"`
}

// SavedContract is the result of saving a wizard.
type SavedContract struct {
	Contract Contract `json:"contract"`
	Tasks    []Task   `json:"tasks"`
	Warning  string   `json:"warning,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ContractID *int64         `json:"contract_id,omitempty"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code, Message and Details are filled
// from the error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RequestOTP sends a one-time passcode to email.
func (c *Client) RequestOTP(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "auth/otp", map[string]any{"email": email}, nil)
}

// VerifyOTP redeems a passcode and keeps the session token on the client.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "auth/verify", map[string]any{"email": email, "code": code}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// StartWizard opens a wizard session.
func (c *Client) StartWizard(ctx context.Context) (Wizard, error) {
	var resp Wizard
	err := c.do(ctx, http.MethodPost, "wizards", nil, &resp)
	return resp, err
}

// ChooseRole sets the wizard role.
func (c *Client) ChooseRole(ctx context.Context, wizardID, role string) (Wizard, error) {
	return c.wizardStep(ctx, wizardID, "role", map[string]any{"role": role})
}

// ChooseKYC sets the identity verification level.
func (c *Client) ChooseKYC(ctx context.Context, wizardID, level string) (Wizard, error) {
	return c.wizardStep(ctx, wizardID, "kyc", map[string]any{"kycLevel": level})
}

// SetIdentity records who the user is.
func (c *Client) SetIdentity(ctx context.Context, wizardID string, in Identity) (Wizard, error) {
	return c.wizardStep(ctx, wizardID, "identity", in)
}

// SetProject records the project description.
func (c *Client) SetProject(ctx context.Context, wizardID, input string) (Wizard, error) {
	return c.wizardStep(ctx, wizardID, "project", map[string]any{"input": input})
}

// Questions fetches clarifying questions for the wizard.
func (c *Client) Questions(ctx context.Context, wizardID string) (Wizard, error) {
	return c.wizardStep(ctx, wizardID, "questions", nil)
}

// Answer answers clarifying question i.
func (c *Client) Answer(ctx context.Context, wizardID string, i int, answer string) (Wizard, error) {
	return c.wizardStep(ctx, wizardID, "answers", map[string]any{"index": i, "answer": answer})
}

// Draft generates the contract draft.
func (c *Client) Draft(ctx context.Context, wizardID string) (Wizard, error) {
	return c.wizardStep(ctx, wizardID, "draft", nil)
}

// Save stores the contract and creates its tasks. Requires a signed-in client.
func (c *Client) Save(ctx context.Context, wizardID string) (SavedContract, error) {
	var resp SavedContract
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("wizards/%s/save", url.PathEscape(wizardID)), nil, &resp)
	return resp, err
}

func (c *Client) wizardStep(ctx context.Context, wizardID, step string, body any) (Wizard, error) {
	var resp Wizard
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("wizards/%s/%s", url.PathEscape(wizardID), step), body, &resp)
	return resp, err
}

// GenerateContract drafts a contract without a wizard session.
func (c *Client) GenerateContract(ctx context.Context, req DraftRequest) (GeneratedContract, error) {
	var resp GeneratedContract
	err := c.do(ctx, http.MethodPost, "generate-contract", req, &resp)
	return resp, err
}

// Contracts lists contracts visible to the caller.
func (c *Client) Contracts(ctx context.Context) ([]Contract, error) {
	var resp []Contract
	err := c.do(ctx, http.MethodGet, "contracts", nil, &resp)
	return resp, err
}

// Board returns the lanes of a contract.
func (c *Client) Board(ctx context.Context, contractID int64) ([]Lane, error) {
	var resp struct {
		Lanes []Lane `json:"lanes"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("contracts/%d/board", contractID), nil, &resp)
	return resp.Lanes, err
}

// MoveTask applies a drop and returns the board afterwards.
func (c *Client) MoveTask(ctx context.Context, contractID int64, m Move) ([]Lane, error) {
	var resp struct {
		Lanes []Lane `json:"lanes"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("contracts/%d/board/moves", contractID), m, &resp)
	return resp.Lanes, err
}

// CreateTask adds a task to a lane.
func (c *Client) CreateTask(ctx context.Context, contractID int64, status, label string) (Task, error) {
	var resp struct {
		Task Task `json:"task"`
	}
	body := map[string]any{"label": label}
	if status != "" {
		body["status"] = status
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("contracts/%d/tasks", contractID), body, &resp)
	return resp.Task, err
}

// Invite shares a contract and returns the invite link.
func (c *Client) Invite(ctx context.Context, contractID int64, email string) (string, error) {
	var resp struct {
		Link string `json:"link"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("contracts/%d/invites", contractID), map[string]any{"email": email}, &resp)
	return resp.Link, err
}

// EventsPage returns a page of a contract's events, newest first.
func (c *Client) EventsPage(ctx context.Context, contractID int64, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	q.Set("contract_id", fmt.Sprint(contractID))
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, "events?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
