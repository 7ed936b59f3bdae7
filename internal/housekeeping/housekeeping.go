// Package housekeeping removes expired sign-in codes, abandoned wizard
// sessions and their stored drafts on a cron schedule.
package housekeeping

import (
	"context"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"smartrust/internal/config"
	"smartrust/internal/engine"
)

const defaultWizardTTL = 24 * time.Hour

// Report counts what one sweep removed.
type Report struct {
	OTPs    int64
	Drafts  int64
	Wizards int
}

type Service struct {
	Engine engine.Engine
	Config config.HousekeepingConfig
	Log    *zap.Logger

	cron *rcron.Cron
}

func (s *Service) logger() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

func (s *Service) wizardTTL() time.Duration {
	if s.Config.WizardTTLMinutes > 0 {
		return time.Duration(s.Config.WizardTTLMinutes) * time.Minute
	}
	return defaultWizardTTL
}

// Sweep runs one pass.
func (s *Service) Sweep(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	var err error
	now = now.UTC()
	rep.OTPs, err = s.Engine.Repo.PruneOTP(ctx, now.Format(time.RFC3339))
	if err != nil {
		return rep, err
	}
	cutoff := now.Add(-s.wizardTTL())
	rep.Drafts, err = s.Engine.Repo.PruneDrafts(ctx, "wizard:", cutoff.Format(time.RFC3339))
	if err != nil {
		return rep, err
	}
	rep.Wizards = s.Engine.PruneWizards(cutoff)
	return rep, nil
}

// Start schedules sweeps until ctx is cancelled. An empty schedule disables
// housekeeping.
func (s *Service) Start(ctx context.Context) error {
	if s.Config.Schedule == "" {
		return nil
	}
	s.cron = rcron.New()
	_, err := s.cron.AddFunc(s.Config.Schedule, func() {
		rep, err := s.Sweep(ctx, time.Now())
		if err != nil {
			s.logger().Warn("housekeeping sweep failed", zap.Error(err))
			return
		}
		s.logger().Debug("housekeeping sweep",
			zap.Int64("otps", rep.OTPs),
			zap.Int64("drafts", rep.Drafts),
			zap.Int("wizards", rep.Wizards))
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return nil
}
