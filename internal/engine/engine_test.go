package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartrust/internal/app"
	"smartrust/internal/board"
	"smartrust/internal/config"
	"smartrust/internal/domain"
	"smartrust/internal/engine"
	"smartrust/internal/events"
	"smartrust/internal/generation"
	"smartrust/internal/identity"
	"smartrust/internal/repo"
	"smartrust/internal/wizard"
)

type fakeGen struct {
	mu        sync.Mutex
	questions []string
	draft     string
	err       error
	calls     int
	gate      chan struct{}
	entered   chan struct{}
}

func (f *fakeGen) wait(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeGen) ClarifyingQuestions(ctx context.Context, _ generation.QuestionsRequest) ([]string, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.questions...), f.err
}

func (f *fakeGen) ContractDraft(ctx context.Context, _ generation.DraftRequest) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft, f.err
}

func (f *fakeGen) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	Engine engine.Engine
	Gen    *fakeGen
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	conn, dialect, err := app.Open(ctx, t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	gen := &fakeGen{
		questions: []string{"What is the deadline?", "How many revisions?"},
		draft:     "# Logo Design Agreement\n\nThe provider delivers a logo for USD 1,500.",
	}
	eng := engine.New(conn, dialect, cfg, gen, zap.NewNop())
	return testEnv{Engine: eng, Gen: gen, Ctx: ctx}
}

func (env testEnv) signIn(t *testing.T, email string) *identity.Principal {
	t.Helper()
	u, err := env.Engine.Repo.EnsureUser(env.Ctx, email, "", nil)
	require.NoError(t, err)
	return &identity.Principal{UserID: u.ID, Email: u.Email, Source: "test"}
}

func yes() *bool {
	v := true
	return &v
}

// readyWizard walks a wizard up to the project step.
func (env testEnv) readyWizard(t *testing.T, role domain.Role) string {
	t.Helper()
	e := env.Engine
	w := e.CreateWizard("10.0.0.1")
	_, err := e.ChooseRole(w.ID, role)
	require.NoError(t, err)
	_, err = e.ChooseKYC(w.ID, domain.KYCIdentityVerified)
	require.NoError(t, err)
	_, err = e.SetIdentity(w.ID, wizard.Identity{Name: "Jordan Lee", Location: "Lisbon", HasPartner: yes(), PartnerName: "Acme Studio"})
	require.NoError(t, err)
	_, err = e.SetProject(w.ID, "Design a logo for $1,500 within two weeks", "", "")
	require.NoError(t, err)
	return w.ID
}

func TestWizardFlowSavesContractWithTasks(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	id := env.readyWizard(t, domain.RoleFreelancer)

	view, err := e.WizardQuestions(env.Ctx, id)
	require.NoError(t, err)
	require.Len(t, view.State.Questions, 2)

	_, err = e.WizardDraft(env.Ctx, nil, id)
	var verr *wizard.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, env.Gen.count(), "draft must not be requested with unanswered questions")

	_, err = e.Answer(id, 0, "End of the month")
	require.NoError(t, err)
	_, err = e.Answer(id, 1, "Two")
	require.NoError(t, err)

	view, err = e.WizardDraft(env.Ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepContract, view.State.CurrentStep)
	assert.Equal(t, 2, view.Remaining)

	_, err = e.SaveWizard(env.Ctx, nil, id)
	require.ErrorIs(t, err, engine.ErrUnauthenticated)

	p := env.signIn(t, "jordan@example.com")
	saved, err := e.SaveWizard(env.Ctx, p, id)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, saved.Contract.NominalValue)
	assert.Equal(t, "USD", saved.Contract.Currency)
	assert.Equal(t, 1, saved.Contract.Stage)
	assert.Equal(t, "draft", saved.Contract.DashboardState)
	assert.Equal(t, p.UserID, saved.Contract.Owner)
	assert.Equal(t, "Jordan Lee", saved.Contract.DisplayName())

	require.Len(t, saved.Tasks, 10)
	assert.Equal(t, "Invite counterparty to join and view contract", saved.Tasks[0].RefTaskName)
	assert.Equal(t, "Invite the client to join and view the contract", saved.Tasks[0].Label)
	for _, task := range saved.Tasks {
		assert.Equal(t, domain.StatusTodo, task.Status)
	}

	_, err = e.GetWizard(id)
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = e.Repo.GetDraft(env.Ctx, "wizard:"+id, engine.DraftKey)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSaveRecoversStoredDraft(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	id := env.readyWizard(t, domain.RoleBuyer)
	_, err := e.WizardDraft(env.Ctx, nil, id)
	require.NoError(t, err)
	require.NoError(t, e.Repo.PutDraft(env.Ctx, "wizard:"+id, engine.DraftKey, "# Edited\n\nFee EUR 200"))

	saved, err := e.SaveWizard(env.Ctx, env.signIn(t, "buyer@example.com"), id)
	require.NoError(t, err)
	assert.Equal(t, "# Edited\n\nFee EUR 200", saved.Contract.Description)
	// Money comes from the project description, not the draft.
	assert.Equal(t, "USD", saved.Contract.Currency)
	assert.Equal(t, "Invite the provider to join and view the contract", saved.Tasks[0].Label)
}

func TestSignedInDraftRecovery(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	p := env.signIn(t, "seller@example.com")
	id := env.readyWizard(t, domain.RoleFreelancer)
	_, err := e.WizardDraft(env.Ctx, p, id)
	require.NoError(t, err)

	stored, err := e.Repo.GetDraft(env.Ctx, "wizard:"+id, engine.DraftKey)
	require.NoError(t, err)
	assert.Contains(t, stored.Content, "Logo Design Agreement")
	_, err = e.Repo.GetDraft(env.Ctx, fmt.Sprintf("user:%d", p.UserID), engine.DraftKey)
	require.ErrorIs(t, err, repo.ErrNotFound)

	require.NoError(t, e.Repo.PutDraft(env.Ctx, "wizard:"+id, engine.DraftKey, "# Revised logo terms"))
	saved, err := e.SaveWizard(env.Ctx, p, id)
	require.NoError(t, err)
	assert.Equal(t, "# Revised logo terms", saved.Contract.Description)
	_, err = e.Repo.GetDraft(env.Ctx, "wizard:"+id, engine.DraftKey)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDraftsStayWithTheirWizard(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	p := env.signIn(t, "seller@example.com")
	first := env.readyWizard(t, domain.RoleFreelancer)
	second := env.readyWizard(t, domain.RoleFreelancer)

	env.Gen.draft = "# Contract A\n\nLogo work."
	_, err := e.WizardDraft(env.Ctx, p, first)
	require.NoError(t, err)
	env.Gen.draft = "# Contract B\n\nWebsite work."
	_, err = e.WizardDraft(env.Ctx, p, second)
	require.NoError(t, err)

	savedA, err := e.SaveWizard(env.Ctx, p, first)
	require.NoError(t, err)
	assert.Equal(t, "# Contract A\n\nLogo work.", savedA.Contract.Description)

	savedB, err := e.SaveWizard(env.Ctx, p, second)
	require.NoError(t, err)
	assert.Equal(t, "# Contract B\n\nWebsite work.", savedB.Contract.Description)
}

func TestMissingGeneratorIsAGenerationError(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	conn, dialect, err := app.Open(ctx, t.TempDir(), cfg)
	require.NoError(t, err)
	defer conn.Close()
	e := engine.New(conn, dialect, cfg, nil, zap.NewNop())

	var gerr *generation.Error
	_, err = e.ClarifyingQuestions(ctx, generation.QuestionsRequest{Input: "x"})
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "clarifying questions", gerr.Op)
	assert.ErrorIs(t, err, generation.ErrNotConfigured)

	_, err = e.GenerateContract(ctx, nil, "k", generation.DraftRequest{Input: "x"})
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "contract draft", gerr.Op)
	assert.ErrorIs(t, err, generation.ErrNotConfigured)
	assert.Equal(t, 3, e.Quota.Remaining("k"))
}

func TestAnonymousQuota(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	for i := 0; i < 3; i++ {
		_, err := e.GenerateContract(env.Ctx, nil, "203.0.113.9", generation.DraftRequest{Input: "x"})
		require.NoError(t, err)
	}
	_, err := e.GenerateContract(env.Ctx, nil, "203.0.113.9", generation.DraftRequest{Input: "x"})
	require.ErrorIs(t, err, wizard.ErrQuotaExceeded)
	assert.Equal(t, 3, env.Gen.count())

	p := env.signIn(t, "paid@example.com")
	_, err = e.GenerateContract(env.Ctx, p, "203.0.113.9", generation.DraftRequest{Input: "x"})
	require.NoError(t, err)
	assert.Equal(t, 4, env.Gen.count())
}

func TestFailedGenerationDoesNotSpendQuota(t *testing.T) {
	env := newTestEnv(t)
	env.Gen.err = &generation.Error{Op: "contract draft", Status: 500, Err: errors.New("boom")}
	_, err := env.Engine.GenerateContract(env.Ctx, nil, "k", generation.DraftRequest{})
	var gerr *generation.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, 3, env.Engine.Quota.Remaining("k"))
}

func TestGenerationInFlight(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	id := env.readyWizard(t, domain.RoleFreelancer)
	env.Gen.gate = make(chan struct{})
	env.Gen.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := e.WizardQuestions(env.Ctx, id)
		done <- err
	}()
	<-env.Gen.entered

	_, err := e.WizardQuestions(env.Ctx, id)
	require.ErrorIs(t, err, engine.ErrGenerationInFlight)
	_, err = e.SetProject(id, "something else", "", "")
	require.ErrorIs(t, err, engine.ErrGenerationInFlight)
	view, err := e.GetWizard(id)
	require.NoError(t, err)
	assert.True(t, view.Busy)

	close(env.Gen.gate)
	require.NoError(t, <-done)
	view, err = e.GetWizard(id)
	require.NoError(t, err)
	assert.False(t, view.Busy)
	assert.Len(t, view.State.Questions, 2)
}

func TestTaskCreationFailureIsAWarning(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	p := env.signIn(t, "warn@example.com")
	_, err := e.DB.Exec(`DROP TABLE tasks`)
	require.NoError(t, err)

	st := wizard.New()
	require.NoError(t, st.ChooseRole(domain.RoleLawyer))
	saved, err := e.SaveContract(env.Ctx, p, st, "# Arbitration terms")
	var warn *engine.TaskCreationWarning
	require.ErrorAs(t, err, &warn)
	assert.Equal(t, 11, warn.Expected)
	assert.NotZero(t, saved.Contract.ID)

	stored, err := e.Repo.GetContract(env.Ctx, saved.Contract.ID)
	require.NoError(t, err)
	assert.Equal(t, "# Arbitration terms", stored.Description)
}

func TestSaveContractTruncatesDescription(t *testing.T) {
	env := newTestEnv(t)
	p := env.signIn(t, "long@example.com")
	st := wizard.New()
	require.NoError(t, st.ChooseRole(domain.RoleBuyer))
	long := make([]rune, 400)
	for i := range long {
		long[i] = 'é'
	}
	saved, err := env.Engine.SaveContract(env.Ctx, p, st, string(long))
	require.NoError(t, err)
	assert.Len(t, []rune(saved.Contract.Description), 255)
}

func saveSample(t *testing.T, env testEnv, p *identity.Principal) engine.SavedContract {
	t.Helper()
	st := wizard.New()
	require.NoError(t, st.ChooseRole(domain.RoleBuyer))
	saved, err := env.Engine.SaveContract(env.Ctx, p, st, "# Sample")
	require.NoError(t, err)
	return saved
}

func TestBoardMoveAndCreate(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	p := env.signIn(t, "board@example.com")
	saved := saveSample(t, env, p)
	cid := saved.Contract.ID

	lanes, err := e.Board(env.Ctx, p, cid)
	require.NoError(t, err)
	require.Len(t, lanes, 3)
	first := lanes[0].Tasks[0]

	lanes, err = e.MoveTask(env.Ctx, p, cid, board.Move{
		TaskID: first.ID, SourceLane: domain.StatusTodo, SourceIndex: 0,
		DestinationLane: domain.StatusDone, DestinationIndex: 0,
	})
	require.NoError(t, err)
	require.Len(t, lanes[2].Tasks, 1)
	assert.Equal(t, first.ID, lanes[2].Tasks[0].ID)

	task, lanes, err := e.CreateTask(env.Ctx, p, cid, domain.StatusInProgress, "  Call the client  ")
	require.NoError(t, err)
	assert.Equal(t, "Call the client", task.Label)
	assert.Equal(t, board.UserCreatedRefTask, task.RefTaskName)
	require.Len(t, lanes[1].Tasks, 1)

	fresh, err := e.Board(env.Ctx, p, cid)
	require.NoError(t, err)
	assert.Equal(t, lanes, fresh)

	evts, err := e.ListEvents(env.Ctx, p, 10, 0, repo.EventFilter{ContractID: cid})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(evts), 3)
	assert.Equal(t, events.TaskCreated, evts[0].Type)
	assert.Equal(t, events.TaskMoved, evts[1].Type)

	_, err = e.ListEvents(env.Ctx, p, 10, 0, repo.EventFilter{})
	var verr *wizard.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestContractsVisibilityAndInvites(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	owner := env.signIn(t, "owner@example.com")
	other := env.signIn(t, "guest@example.com")
	saved := saveSample(t, env, owner)
	cid := saved.Contract.ID

	_, err := e.GetContract(env.Ctx, other, cid)
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = e.Board(env.Ctx, nil, cid)
	require.ErrorIs(t, err, engine.ErrUnauthenticated)

	_, err = e.Invite(env.Ctx, owner, cid, "not an email")
	var verr *wizard.ValidationError
	require.ErrorAs(t, err, &verr)

	link, err := e.Invite(env.Ctx, owner, cid, "Guest@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", link.Invite.Email)
	assert.Contains(t, link.Link, "/invite/")

	inv, err := e.GetInvite(env.Ctx, link.Invite.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", inv.InviterEmail)

	view, err := e.GetContract(env.Ctx, other, cid)
	require.NoError(t, err)
	assert.Equal(t, len(saved.Tasks), view.TaskCounts["todo"])

	list, err := e.ListContracts(env.Ctx, other)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, cid, list[0].ID)
}

func TestSubscribeReportsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	s, already, err := env.Engine.Subscribe(env.Ctx, "news@example.com")
	require.NoError(t, err)
	assert.False(t, already)
	assert.NotZero(t, s.ID)

	_, already, err = env.Engine.Subscribe(env.Ctx, "NEWS@example.com")
	require.NoError(t, err)
	assert.True(t, already)
}

func TestPruneWizards(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return now }
	old := e.CreateWizard("a")
	now = now.Add(2 * time.Hour)
	fresh := e.CreateWizard("b")

	assert.Equal(t, 1, e.PruneWizards(now.Add(-time.Hour)))
	_, err := e.GetWizard(old.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = e.GetWizard(fresh.ID)
	require.NoError(t, err)
}
