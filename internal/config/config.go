// Package config resolves reflex configuration from flags, REFLEX_* env
// vars, an optional reflex.config.yaml and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/rcliao/reflex/internal/gate"
	"github.com/rcliao/reflex/internal/learner"
	"github.com/rcliao/reflex/internal/matcher"
	"github.com/rcliao/reflex/internal/model"
)

// Viper keys. Each maps to an env var with the REFLEX_ prefix
// (e.g. "fallback_url" → REFLEX_FALLBACK_URL) and to a YAML field.
const (
	KeyDataDir              = "data_dir"
	KeyDB                   = "db"
	KeyStaticPatterns       = "static_patterns"
	KeyFallbackURL          = "fallback_url"
	KeyFallbackMarker       = "fallback_marker"
	KeyFallbackTimeout      = "fallback_timeout"
	KeyCognitionURL         = "cognition_url"
	KeyCognitionTimeout     = "cognition_timeout"
	KeySocialWindow         = "social_window"
	KeySocialMaxPerSession  = "social_max_per_session"
	KeyGeneralWindow        = "general_window"
	KeyGeneralMaxPerSession = "general_max_per_session"
	KeyContextSize          = "context_size"
	KeyCompetingTopics      = "competing_topics"
	KeyLearnMinTokens       = "learn_min_tokens"
	KeySocialVocabulary     = "social_vocabulary"
	KeyMatchMaxSteps        = "match_max_steps"
	KeyListenAddr           = "listen_addr"
	KeyRateLimitRPM         = "rate_limit_rpm"
	KeyWatchReload          = "watch_reload"
)

const (
	DefaultFallbackTimeout  = 5 * time.Second
	DefaultCognitionTimeout = 30 * time.Second
	DefaultListenAddr       = "127.0.0.1:8088"
	DefaultRateLimitRPM     = 600
	DBFileName              = "reflex.db"
)

// Config holds the resolved settings for one reflex process.
type Config struct {
	DataDir        string
	DBPath         string
	StaticPatterns string // YAML file; empty uses the embedded defaults

	FallbackURL      string
	FallbackMarker   bool // learnability is signalled by a text marker
	FallbackTimeout  time.Duration
	CognitionURL     string
	CognitionTimeout time.Duration

	SocialWindow         time.Duration
	SocialMaxPerSession  int
	GeneralWindow        time.Duration
	GeneralMaxPerSession int
	ContextSize          int
	CompetingTopics      []string

	LearnMinTokens   int
	SocialVocabulary []string
	MatchMaxSteps    int

	ListenAddr   string
	RateLimitRPM int
	WatchReload  bool
}

func init() {
	viper.SetEnvPrefix("REFLEX")
	viper.AutomaticEnv()
	SetDefaults()
}

// SetDefaults registers the built-in defaults with viper.
func SetDefaults() {
	social := gate.DefaultLimits[model.CategorySocial]
	viper.SetDefault(KeyFallbackTimeout, DefaultFallbackTimeout)
	viper.SetDefault(KeyCognitionTimeout, DefaultCognitionTimeout)
	viper.SetDefault(KeySocialWindow, social.Window)
	viper.SetDefault(KeySocialMaxPerSession, social.MaxPerSession)
	viper.SetDefault(KeyGeneralWindow, time.Duration(0))
	viper.SetDefault(KeyGeneralMaxPerSession, 0)
	viper.SetDefault(KeyContextSize, gate.DefaultWindowSize)
	viper.SetDefault(KeyCompetingTopics, gate.DefaultCompetingTopics)
	viper.SetDefault(KeyLearnMinTokens, learner.DefaultMinTokens)
	viper.SetDefault(KeySocialVocabulary, learner.DefaultVocabulary[model.CategorySocial])
	viper.SetDefault(KeyMatchMaxSteps, matcher.DefaultMaxSteps)
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyRateLimitRPM, DefaultRateLimitRPM)
	viper.SetDefault(KeyWatchReload, true)
}

// Load reads configuration from viper and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:              resolveDataDir(),
		StaticPatterns:       viper.GetString(KeyStaticPatterns),
		FallbackURL:          viper.GetString(KeyFallbackURL),
		FallbackMarker:       viper.GetBool(KeyFallbackMarker),
		FallbackTimeout:      viper.GetDuration(KeyFallbackTimeout),
		CognitionURL:         viper.GetString(KeyCognitionURL),
		CognitionTimeout:     viper.GetDuration(KeyCognitionTimeout),
		SocialWindow:         viper.GetDuration(KeySocialWindow),
		SocialMaxPerSession:  viper.GetInt(KeySocialMaxPerSession),
		GeneralWindow:        viper.GetDuration(KeyGeneralWindow),
		GeneralMaxPerSession: viper.GetInt(KeyGeneralMaxPerSession),
		ContextSize:          viper.GetInt(KeyContextSize),
		CompetingTopics:      viper.GetStringSlice(KeyCompetingTopics),
		LearnMinTokens:       viper.GetInt(KeyLearnMinTokens),
		SocialVocabulary:     viper.GetStringSlice(KeySocialVocabulary),
		MatchMaxSteps:        viper.GetInt(KeyMatchMaxSteps),
		ListenAddr:           viper.GetString(KeyListenAddr),
		RateLimitRPM:         viper.GetInt(KeyRateLimitRPM),
		WatchReload:          viper.GetBool(KeyWatchReload),
	}
	cfg.DBPath = viper.GetString(KeyDB)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, DBFileName)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reflex"
	}
	return filepath.Join(home, ".reflex")
}

func (c *Config) validate() error {
	if c.FallbackTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyFallbackTimeout)
	}
	if c.CognitionTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyCognitionTimeout)
	}
	if c.SocialWindow < 0 || c.GeneralWindow < 0 {
		return fmt.Errorf("cooldown windows must not be negative")
	}
	if c.SocialMaxPerSession < 0 || c.GeneralMaxPerSession < 0 {
		return fmt.Errorf("max_per_session must not be negative")
	}
	if c.ContextSize <= 0 {
		return fmt.Errorf("%s must be positive", KeyContextSize)
	}
	if c.LearnMinTokens <= 0 {
		return fmt.Errorf("%s must be positive", KeyLearnMinTokens)
	}
	if c.MatchMaxSteps <= 0 {
		return fmt.Errorf("%s must be positive", KeyMatchMaxSteps)
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("%s must not be negative", KeyRateLimitRPM)
	}
	return nil
}

// Limits returns the per-category cooldown limits.
func (c *Config) Limits() map[model.Category]gate.Limits {
	return map[model.Category]gate.Limits{
		model.CategorySocial:  {Window: c.SocialWindow, MaxPerSession: c.SocialMaxPerSession},
		model.CategoryGeneral: {Window: c.GeneralWindow, MaxPerSession: c.GeneralMaxPerSession},
	}
}

// Vocabulary returns the learner's category vocabulary.
func (c *Config) Vocabulary() map[model.Category][]string {
	return map[model.Category][]string{model.CategorySocial: c.SocialVocabulary}
}

// EnsureDataDir creates the directory holding the database.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(filepath.Dir(c.DBPath), 0o755)
}
