package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Quota.FreeGenerations)
	assert.Equal(t, 60, cfg.Auth.ResendCooldownSeconds)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Generation.Model)
	assert.Equal(t, 6, cfg.Generation.MaxQuestions)
	assert.True(t, cfg.Board.ResyncOnFailure)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("quota:\n  free_generations: 5\nwebhooks:\n  - url: http://hooks.local/in\n    events: [task.moved]\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Quota.FreeGenerations)
	assert.Equal(t, 600, cfg.Auth.OTPTTLSeconds)
	require.Len(t, cfg.Webhooks, 1)
	assert.True(t, cfg.Webhooks[0].IsEnabled())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"postgres without dsn": "store:\n  driver: postgres\n",
		"unknown driver":       "store:\n  driver: mongo\n",
		"bad schedule":         "housekeeping:\n  schedule: \"every day\"\n",
		"relative webhook":     "webhooks:\n  - url: hooks\n",
		"duplicate webhook":    "webhooks:\n  - url: http://a.local/x\n  - url: http://a.local/x\n",
		"temperature":          "generation:\n  contract_temperature: 3\n",
		"base path":            "server:\n  base_path: v1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "smartrust.yml"), []byte("auth:\n  allow_dev_login: true\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Auth.AllowDevLogin)
}
