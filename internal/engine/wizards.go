package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartrust/internal/domain"
	"smartrust/internal/generation"
	"smartrust/internal/identity"
	"smartrust/internal/repo"
	"smartrust/internal/wizard"
)

// DraftKey is the drafts entry that holds the latest generated contract.
const DraftKey = "generatedContract"

// WizardView is a snapshot of a wizard session.
type WizardView struct {
	ID        string        `json:"id"`
	State     *wizard.State `json:"state"`
	Remaining int           `json:"remaining_free_generations"`
	Busy      bool          `json:"busy"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type session struct {
	mu        sync.Mutex
	state     *wizard.State
	clientKey string
	busy      bool
	touched   time.Time
}

// Registry holds live wizard sessions in memory. Each session serializes its
// own edits and allows one generation request at a time.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*session{}}
}

func (r *Registry) get(id string) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("wizard %s: %w", id, repo.ErrNotFound)
	}
	return s, nil
}

func (r *Registry) put(id string, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = s
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (e Engine) view(id string, s *session) WizardView {
	return WizardView{
		ID:        id,
		State:     s.state.Clone(),
		Remaining: e.Quota.Remaining(s.clientKey),
		Busy:      s.busy,
		UpdatedAt: s.touched,
	}
}

// draftOwner is the drafts-table owner key of a wizard. Drafts belong to the
// wizard, never to the user, so two open wizards cannot see each other's text.
func draftOwner(wizardID string) string {
	return "wizard:" + wizardID
}

// CreateWizard opens a new wizard session. clientKey identifies the caller
// for the anonymous generation quota.
func (e Engine) CreateWizard(clientKey string) WizardView {
	id := uuid.NewString()
	s := &session{state: wizard.New(), clientKey: clientKey, touched: e.now()}
	e.Wizards.put(id, s)
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.view(id, s)
}

func (e Engine) GetWizard(id string) (WizardView, error) {
	s, err := e.Wizards.get(id)
	if err != nil {
		return WizardView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.view(id, s), nil
}

// update runs fn against the session state. Edits are refused while a
// generation request is running.
func (e Engine) update(id string, fn func(*wizard.State) error) (WizardView, error) {
	s, err := e.Wizards.get(id)
	if err != nil {
		return WizardView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return e.view(id, s), ErrGenerationInFlight
	}
	err = fn(s.state)
	s.touched = e.now()
	return e.view(id, s), err
}

func (e Engine) ChooseRole(id string, role domain.Role) (WizardView, error) {
	return e.update(id, func(st *wizard.State) error { return st.ChooseRole(role) })
}

func (e Engine) ChooseKYC(id string, level domain.KYCLevel) (WizardView, error) {
	return e.update(id, func(st *wizard.State) error { return st.ChooseKYC(level) })
}

func (e Engine) SetIdentity(id string, in wizard.Identity) (WizardView, error) {
	return e.update(id, func(st *wizard.State) error { return st.SetIdentity(in) })
}

func (e Engine) SetProject(id, input, fileText, template string) (WizardView, error) {
	return e.update(id, func(st *wizard.State) error { return st.SetProject(input, fileText, template) })
}

func (e Engine) Answer(id string, index int, text string) (WizardView, error) {
	return e.update(id, func(st *wizard.State) error { return st.Answer(index, text) })
}

// begin marks the session busy and extracts a request from its state.
func (e Engine) begin(id string, prepare func(*wizard.State) error) (*session, error) {
	s, err := e.Wizards.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, ErrGenerationInFlight
	}
	if err := prepare(s.state); err != nil {
		return nil, err
	}
	s.busy = true
	return s, nil
}

func (e Engine) finish(s *session, apply func(*wizard.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.touched = e.now()
	if apply == nil {
		return nil
	}
	return apply(s.state)
}

// WizardQuestions fetches clarifying questions for the wizard's project
// description and stores them with blank answers.
func (e Engine) WizardQuestions(ctx context.Context, id string) (WizardView, error) {
	var req generation.QuestionsRequest
	s, err := e.begin(id, func(st *wizard.State) error {
		var err error
		req, err = st.QuestionsRequest()
		return err
	})
	if err != nil {
		return WizardView{}, err
	}
	questions, err := e.ClarifyingQuestions(ctx, req)
	if err != nil {
		_ = e.finish(s, nil)
		e.logger().Error("clarifying questions failed", zap.String("wizard_id", id), zap.Error(err))
		return WizardView{}, err
	}
	err = e.finish(s, func(st *wizard.State) error { return st.SetQuestions(questions) })
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.view(id, s), err
}

// WizardDraft generates the contract draft. Anonymous callers spend one free
// generation per successful draft; the draft is also kept in the drafts table
// so it can be recovered at save time.
func (e Engine) WizardDraft(ctx context.Context, p *identity.Principal, id string) (WizardView, error) {
	var req generation.DraftRequest
	s, err := e.begin(id, func(st *wizard.State) error {
		var err error
		req, err = st.DraftRequest()
		return err
	})
	if err != nil {
		return WizardView{}, err
	}
	markdown, err := e.GenerateContract(ctx, p, s.clientKey, req)
	if err != nil {
		_ = e.finish(s, nil)
		e.logger().Error("contract generation failed", zap.String("wizard_id", id), zap.Error(err))
		return WizardView{}, err
	}
	if err := e.Repo.PutDraft(ctx, draftOwner(id), DraftKey, markdown); err != nil {
		e.logger().Warn("draft not stored", zap.String("wizard_id", id), zap.Error(err))
	}
	err = e.finish(s, func(st *wizard.State) error { return st.SetDraft(markdown) })
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.view(id, s), err
}

// SaveWizard persists the wizard's contract for a signed-in user and closes
// the session. The draft is recovered from the drafts table when present.
func (e Engine) SaveWizard(ctx context.Context, p *identity.Principal, id string) (SavedContract, error) {
	if err := requireUser(p); err != nil {
		return SavedContract{}, err
	}
	s, err := e.begin(id, func(*wizard.State) error { return nil })
	if err != nil {
		return SavedContract{}, err
	}
	s.mu.Lock()
	state := s.state.Clone()
	s.mu.Unlock()

	markdown := e.recoverDraft(ctx, id, state.GeneratedContract)
	saved, err := e.SaveContract(ctx, p, state, markdown)
	var warn *TaskCreationWarning
	if err != nil && !errors.As(err, &warn) {
		_ = e.finish(s, nil)
		return SavedContract{}, err
	}
	e.Wizards.remove(id)
	if derr := e.Repo.DeleteDraft(ctx, draftOwner(id), DraftKey); derr != nil {
		e.logger().Warn("draft not cleared", zap.String("wizard_id", id), zap.Error(derr))
	}
	return saved, err
}

// recoverDraft returns the stored draft of wizard id, or fallback when none
// is stored.
func (e Engine) recoverDraft(ctx context.Context, id, fallback string) string {
	d, err := e.Repo.GetDraft(ctx, draftOwner(id), DraftKey)
	if err == nil && d.Content != "" {
		return d.Content
	}
	return fallback
}

// PruneWizards drops idle sessions last touched before cutoff.
func (e Engine) PruneWizards(cutoff time.Time) int {
	e.Wizards.mu.Lock()
	defer e.Wizards.mu.Unlock()
	n := 0
	for id, s := range e.Wizards.sessions {
		if !s.mu.TryLock() {
			continue
		}
		stale := !s.busy && s.touched.Before(cutoff)
		s.mu.Unlock()
		if stale {
			delete(e.Wizards.sessions, id)
			n++
		}
	}
	return n
}

// ClarifyingQuestions runs the stateless clarifying-questions call.
func (e Engine) ClarifyingQuestions(ctx context.Context, req generation.QuestionsRequest) ([]string, error) {
	if e.Generator == nil {
		return nil, &generation.Error{Op: "clarifying questions", Err: generation.ErrNotConfigured}
	}
	return e.Generator.ClarifyingQuestions(ctx, req)
}

// GenerateContract runs the contract draft call. Anonymous callers are
// limited by the free generation quota keyed by clientKey; the check happens
// before any network call.
func (e Engine) GenerateContract(ctx context.Context, p *identity.Principal, clientKey string, req generation.DraftRequest) (string, error) {
	if e.Generator == nil {
		return "", &generation.Error{Op: "contract draft", Err: generation.ErrNotConfigured}
	}
	done, err := e.Quota.Reserve(clientKey, p != nil && p.UserID > 0)
	if err != nil {
		return "", err
	}
	markdown, err := e.Generator.ContractDraft(ctx, req)
	done(err == nil)
	return markdown, err
}
