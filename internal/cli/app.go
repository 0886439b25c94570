package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rcliao/reflex/internal/collab"
	"github.com/rcliao/reflex/internal/config"
	"github.com/rcliao/reflex/internal/engine"
	"github.com/rcliao/reflex/internal/gate"
	"github.com/rcliao/reflex/internal/learner"
	"github.com/rcliao/reflex/internal/matcher"
	"github.com/rcliao/reflex/internal/patterns"
	"github.com/rcliao/reflex/internal/store"
)

// app bundles what most commands need: config, the database and an engine
// over a fully loaded pattern store.
type app struct {
	cfg    *config.Config
	db     *store.SQLiteStore
	store  *patterns.Store
	engine *engine.Engine
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		exitErr("config", err)
	}
	return cfg
}

func openStore(cfg *config.Config) *store.SQLiteStore {
	if err := cfg.EnsureDataDir(); err != nil {
		exitErr("create data dir", err)
	}
	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		exitErr("open store", err)
	}
	return s
}

func openApp(ctx context.Context) *app {
	cfg := loadConfig()
	db := openStore(cfg)
	a, err := newApp(ctx, cfg, db)
	if err != nil {
		db.Close()
		exitErr("load patterns", err)
	}
	return a
}

func newApp(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) (*app, error) {
	ps := patterns.New(db)

	var err error
	if cfg.StaticPatterns != "" {
		_, err = ps.LoadStaticFile(cfg.StaticPatterns)
	} else {
		_, err = ps.LoadDefaults()
	}
	if err != nil {
		ps.Close()
		return nil, err
	}
	if _, err := ps.LoadDynamic(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	opts := []engine.Option{
		engine.WithTimeouts(cfg.FallbackTimeout, cfg.CognitionTimeout),
		engine.WithLimits(cfg.Limits()),
		engine.WithContextSize(cfg.ContextSize),
		engine.WithMatcher(matcher.New(cfg.MatchMaxSteps)),
		engine.WithGate(gate.New(cfg.CompetingTopics)),
		engine.WithLearner(learner.New(ps, learner.NewKeywordClassifier(cfg.Vocabulary()), cfg.LearnMinTokens)),
		engine.WithTurnLogger(db),
		engine.WithFallback(newFallback(cfg)),
	}
	if cfg.CognitionURL != "" {
		opts = append(opts, engine.WithCognition(collab.NewHTTPCognition(cfg.CognitionURL)))
	}

	log.Debug().Str("db", cfg.DBPath).Int("patterns", ps.Snapshot().Len()).Msg("engine ready")
	return &app{cfg: cfg, db: db, store: ps, engine: engine.New(ps, opts...)}, nil
}

func newFallback(cfg *config.Config) engine.Fallback {
	if cfg.FallbackURL == "" {
		return collab.Declining{}
	}
	fb := collab.NewHTTPFallback(cfg.FallbackURL)
	if cfg.FallbackMarker {
		return collab.NewMarkerFallback(collab.TextOnly(fb))
	}
	return fb
}

// Close waits for background learning and persistence, then closes the database.
func (a *app) Close() {
	a.engine.Wait()
	a.store.Close()
	a.db.Close()
}

// readInput takes the positional args, or stdin when it is piped.
func readInput(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return strings.TrimSpace(string(b))
	}
	return ""
}

func printJSON(w io.Writer, v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}
