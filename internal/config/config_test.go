package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_OPENAI_API_KEY", "sk-openai")
	t.Setenv("GEMA_ANTHROPIC_API_KEY", "sk-anthropic")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, cfg.PrimaryModels)
	require.Equal(t, 0.90, cfg.SimilarityThreshold)
	require.Equal(t, 0.30, cfg.ScoreDiffThreshold)
	require.Equal(t, 2, cfg.MaxRounds)
	require.Equal(t, 5*time.Second, cfg.BackoffBase)
	require.Equal(t, 3*time.Second, cfg.QuestionDelay)
	require.Equal(t, 9*time.Minute, cfg.BatchTimeout)
	require.Equal(t, AutotuneSuggest, cfg.AutotuneMode)
	require.Equal(t, 40, cfg.AutotuneMinDiff)
	require.Equal(t, 20, cfg.RateLimitPerMinute)
	require.True(t, cfg.SecurityEnabled)
	require.False(t, cfg.SecurityMustPass)

	gradingCfg := cfg.Grading()
	require.Equal(t, 2, gradingCfg.MaxConsensusRounds)
	require.Equal(t, 100.0, gradingCfg.DefaultMaxScore)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("GEMA_GRADING_SECONDARY_MODELS", " claude-x , ,claude-y")
	t.Setenv("GEMA_GRADING_QUESTION_DELAY", "0s")
	t.Setenv("GEMA_SECURITY_MUST_PASS", "true")
	t.Setenv("GEMA_PROMPT_AUTOTUNE_MODE", "APPLY")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"claude-x", "claude-y"}, cfg.SecondaryModels)
	require.Zero(t, cfg.QuestionDelay)
	require.True(t, cfg.SecurityMustPass)
	require.Equal(t, AutotuneApply, cfg.AutotuneMode)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	setRequired(t)
	t.Setenv("GEMA_GRADING_BATCH_TIMEOUT", "soon")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("GEMA_GRADING_BATCH_TIMEOUT", "9m")
	t.Setenv("GEMA_PROMPT_AUTOTUNE_MODE", "always")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadRejectsZeroRounds(t *testing.T) {
	setRequired(t)
	t.Setenv("GEMA_GRADING_MAX_ROUNDS", "0")
	_, err := Load()
	require.ErrorContains(t, err, "grading.max_rounds")

	t.Setenv("GEMA_GRADING_MAX_ROUNDS", "1")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Grading().MaxConsensusRounds)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}
