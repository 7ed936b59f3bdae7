package housekeeping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartrust/internal/app"
	"smartrust/internal/config"
	"smartrust/internal/domain"
	"smartrust/internal/engine"
	"smartrust/internal/repo"
)

func TestSweepRemovesExpiredState(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	conn, dialect, err := app.Open(ctx, t.TempDir(), cfg)
	require.NoError(t, err)
	defer conn.Close()
	e := engine.New(conn, dialect, cfg, nil, zap.NewNop())

	now := time.Now().UTC()
	require.NoError(t, e.Repo.InsertOTP(ctx, domain.OTPChallenge{
		ID:        "old",
		Email:     "a@example.com",
		CodeHash:  "x",
		ExpiresAt: now.Add(-time.Minute).Format(time.RFC3339),
		CreatedAt: now.Add(-11 * time.Minute).Format(time.RFC3339),
	}))
	require.NoError(t, e.Repo.InsertOTP(ctx, domain.OTPChallenge{
		ID:        "live",
		Email:     "b@example.com",
		CodeHash:  "y",
		ExpiresAt: now.Add(5 * time.Minute).Format(time.RFC3339),
		CreatedAt: now.Format(time.RFC3339),
	}))

	w := e.CreateWizard("10.0.0.9")
	require.NoError(t, e.Repo.PutDraft(ctx, "wizard:"+w.ID, engine.DraftKey, "# Draft"))
	require.NoError(t, e.Repo.PutDraft(ctx, "user:1", engine.DraftKey, "# Kept"))

	svc := &Service{Engine: e, Config: config.HousekeepingConfig{WizardTTLMinutes: 60}}

	rep, err := svc.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Report{OTPs: 1}, rep)
	assert.Equal(t, 1, e.Wizards.Len())

	rep, err = svc.Sweep(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.OTPs)
	assert.Equal(t, int64(1), rep.Drafts)
	assert.Equal(t, 1, rep.Wizards)
	assert.Equal(t, 0, e.Wizards.Len())

	_, err = e.Repo.GetDraft(ctx, "wizard:"+w.ID, engine.DraftKey)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	d, err := e.Repo.GetDraft(ctx, "user:1", engine.DraftKey)
	require.NoError(t, err)
	assert.Equal(t, "# Kept", d.Content)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	svc := &Service{Config: config.HousekeepingConfig{Schedule: "not a schedule"}}
	assert.Error(t, svc.Start(context.Background()))

	svc = &Service{}
	assert.NoError(t, svc.Start(context.Background()))
}
