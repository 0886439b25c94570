package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/reflex/internal/gate"
	"github.com/rcliao/reflex/internal/model"
)

func resetViper(t *testing.T) {
	t.Helper()
	for _, k := range []string{"REFLEX_DATA_DIR", "REFLEX_DB", "REFLEX_FALLBACK_URL", "REFLEX_FALLBACK_TIMEOUT",
		"REFLEX_SOCIAL_WINDOW", "REFLEX_SOCIAL_MAX_PER_SESSION", "REFLEX_CONTEXT_SIZE", "REFLEX_COMPETING_TOPICS",
		"REFLEX_LEARN_MIN_TOKENS", "REFLEX_MATCH_MAX_STEPS", "REFLEX_RATE_LIMIT_RPM"} {
		t.Setenv(k, "")
	}
	viper.Reset()
	viper.SetEnvPrefix("REFLEX")
	viper.AutomaticEnv()
	SetDefaults()
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultFallbackTimeout, cfg.FallbackTimeout)
	assert.Equal(t, DefaultCognitionTimeout, cfg.CognitionTimeout)
	assert.Equal(t, 30*time.Second, cfg.SocialWindow)
	assert.Equal(t, 5, cfg.SocialMaxPerSession)
	assert.Equal(t, gate.DefaultWindowSize, cfg.ContextSize)
	assert.Equal(t, gate.DefaultCompetingTopics, cfg.CompetingTopics)
	assert.Equal(t, 2, cfg.LearnMinTokens)
	assert.Equal(t, 10000, cfg.MatchMaxSteps)
	assert.True(t, cfg.WatchReload)
	assert.Equal(t, DBFileName, filepath.Base(cfg.DBPath))
	assert.Empty(t, cfg.FallbackURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("REFLEX_DATA_DIR", dir)
	t.Setenv("REFLEX_FALLBACK_URL", "http://localhost:9000/generate")
	t.Setenv("REFLEX_FALLBACK_TIMEOUT", "250ms")
	t.Setenv("REFLEX_SOCIAL_MAX_PER_SESSION", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, DBFileName), cfg.DBPath)
	assert.Equal(t, "http://localhost:9000/generate", cfg.FallbackURL)
	assert.Equal(t, 250*time.Millisecond, cfg.FallbackTimeout)
	assert.Equal(t, 2, cfg.Limits()[model.CategorySocial].MaxPerSession)
}

func TestLoad_DBOverride(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "custom.db")
	t.Setenv("REFLEX_DB", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, path, cfg.DBPath)
}

func TestLoad_ConfigFile(t *testing.T) {
	resetViper(t)
	file := filepath.Join(t.TempDir(), "reflex.config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
competing_topics: [homework, exam]
social_vocabulary: [yo, cheers]
social_window: 1m
`), 0o644))
	viper.SetConfigFile(file)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"homework", "exam"}, cfg.CompetingTopics)
	assert.Equal(t, []string{"yo", "cheers"}, cfg.Vocabulary()[model.CategorySocial])
	assert.Equal(t, time.Minute, cfg.SocialWindow)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		env, value, want string
	}{
		{"REFLEX_FALLBACK_TIMEOUT", "0s", "fallback_timeout must be positive"},
		{"REFLEX_CONTEXT_SIZE", "0", "context_size must be positive"},
		{"REFLEX_LEARN_MIN_TOKENS", "0", "learn_min_tokens must be positive"},
		{"REFLEX_MATCH_MAX_STEPS", "-1", "match_max_steps must be positive"},
		{"REFLEX_RATE_LIMIT_RPM", "-5", "rate_limit_rpm must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			resetViper(t)
			t.Setenv(tt.env, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
