package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/rcliao/reflex/internal/model"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	idMu    sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS learned_patterns (
		id           TEXT PRIMARY KEY,
		pattern      TEXT NOT NULL,
		response     TEXT NOT NULL,
		template     TEXT,
		category     TEXT NOT NULL DEFAULT 'general',
		created_at   TEXT NOT NULL,
		last_used_at TEXT,
		use_count    INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_learned_patterns_pattern ON learned_patterns(pattern);
	CREATE INDEX IF NOT EXISTS idx_learned_patterns_created ON learned_patterns(created_at);

	CREATE TABLE IF NOT EXISTS pattern_changes (
		id      INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL DEFAULT 0
	);
	INSERT OR IGNORE INTO pattern_changes (id, version) VALUES (1, 0);

	CREATE TRIGGER IF NOT EXISTS trg_learned_patterns_insert AFTER INSERT ON learned_patterns
	BEGIN
		UPDATE pattern_changes SET version = version + 1 WHERE id = 1;
	END;
	CREATE TRIGGER IF NOT EXISTS trg_learned_patterns_delete AFTER DELETE ON learned_patterns
	BEGIN
		UPDATE pattern_changes SET version = version + 1 WHERE id = 1;
	END;
	-- usage bookkeeping (last_used_at, use_count) does not count as a change
	CREATE TRIGGER IF NOT EXISTS trg_learned_patterns_update AFTER UPDATE ON learned_patterns
	WHEN OLD.id IS NOT NEW.id
	  OR OLD.pattern IS NOT NEW.pattern
	  OR OLD.response IS NOT NEW.response
	  OR OLD.template IS NOT NEW.template
	  OR OLD.category IS NOT NEW.category
	BEGIN
		UPDATE pattern_changes SET version = version + 1 WHERE id = 1;
	END;

	CREATE TABLE IF NOT EXISTS turns (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL DEFAULT '',
		input       TEXT NOT NULL,
		stage       TEXT NOT NULL,
		response    TEXT NOT NULL,
		pattern_id  TEXT,
		latency_us  INTEGER NOT NULL DEFAULT 0,
		at          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_at ON turns(at DESC);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
	CREATE INDEX IF NOT EXISTS idx_turns_stage ON turns(stage);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) LoadPatterns(ctx context.Context) ([]model.Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pattern, response, template, category, created_at, last_used_at, use_count
		 FROM learned_patterns ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []model.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		var corrupt *CorruptRowError
		if errors.As(err, &corrupt) {
			log.Warn().Err(corrupt.Err).Str("pattern_id", corrupt.ID).Str("field", corrupt.Field).
				Msg("skipping unreadable learned pattern row")
			continue
		}
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func (s *SQLiteStore) PersistPattern(ctx context.Context, p model.Pattern) error {
	var tmpl *string
	if len(p.Template) > 0 {
		b, err := json.Marshal(p.Template)
		if err != nil {
			return fmt.Errorf("encode template: %w", err)
		}
		t := string(b)
		tmpl = &t
	}
	var lastUsed *string
	if p.LastUsedAt != nil {
		t := p.LastUsedAt.UTC().Format(timeFormat)
		lastUsed = &t
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	category := p.Category
	if category == "" {
		category = model.CategoryGeneral
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learned_patterns (id, pattern, response, template, category, created_at, last_used_at, use_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   pattern = excluded.pattern,
		   response = excluded.response,
		   template = excluded.template,
		   category = excluded.category,
		   last_used_at = excluded.last_used_at,
		   use_count = excluded.use_count`,
		p.ID, p.Source, p.Response, tmpl, string(category),
		created.UTC().Format(timeFormat), lastUsed, p.UseCount)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeletePattern(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM learned_patterns WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}
	return nil
}

// PatternsVersion returns a counter that moves whenever a learned pattern
// is added, deleted or edited. Turn logging and usage updates leave it alone.
func (s *SQLiteStore) PatternsVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM pattern_changes WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read pattern version: %w", err)
	}
	return v, nil
}

// GetPattern returns a learned pattern by ID.
func (s *SQLiteStore) GetPattern(ctx context.Context, id string) (*model.Pattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pattern, response, template, category, created_at, last_used_at, use_count
		 FROM learned_patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPattern(row scanner) (model.Pattern, error) {
	var p model.Pattern
	var tmpl, lastUsed sql.NullString
	var category, createdAt string

	err := row.Scan(&p.ID, &p.Source, &p.Response, &tmpl, &category, &createdAt, &lastUsed, &p.UseCount)
	if err != nil {
		return p, err
	}

	p.Origin = model.OriginLearned
	p.Category = model.Category(category)
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return p, &CorruptRowError{ID: p.ID, Field: "created_at", Err: err}
	}
	if lastUsed.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastUsed.String)
		if err != nil {
			return p, &CorruptRowError{ID: p.ID, Field: "last_used_at", Err: err}
		}
		p.LastUsedAt = &t
	}
	if tmpl.Valid {
		if err := json.Unmarshal([]byte(tmpl.String), &p.Template); err != nil {
			return p, &CorruptRowError{ID: p.ID, Field: "template", Err: err}
		}
	}
	return p, nil
}
