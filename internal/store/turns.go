package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/reflex/internal/model"
)

// LogTurn appends a turn to the turn log, assigning an ID when missing.
func (s *SQLiteStore) LogTurn(ctx context.Context, t model.Turn) error {
	if t.ID == "" {
		t.ID = s.newID()
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	var patternID *string
	if t.PatternID != "" {
		patternID = &t.PatternID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, input, stage, response, pattern_id, latency_us, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Input, string(t.Stage), t.Response, patternID,
		t.Latency.Microseconds(), t.At.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// Turns lists logged turns matching the filters, newest first.
func (s *SQLiteStore) Turns(ctx context.Context, p TurnsParams) ([]model.Turn, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"1 = 1"}
	var args []interface{}
	if p.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, p.SessionID)
	}
	if p.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, string(p.Stage))
	}
	if p.Query != "" {
		q := "%" + p.Query + "%"
		where = append(where, "(input LIKE ? OR response LIKE ?)")
		args = append(args, q, q)
	}
	if !p.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, p.Since.UTC().Format(timeFormat))
	}

	query := fmt.Sprintf(`
		SELECT id, session_id, input, stage, response, pattern_id, latency_us, at
		FROM turns WHERE %s
		ORDER BY at DESC, rowid DESC
		LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var t model.Turn
		var stage, at string
		var patternID sql.NullString
		var latencyUS int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Input, &stage, &t.Response, &patternID, &latencyUS, &at); err != nil {
			return nil, err
		}
		t.Stage = model.Stage(stage)
		t.PatternID = patternID.String
		t.Latency = time.Duration(latencyUS) * time.Microsecond
		t.At, _ = time.Parse(time.RFC3339Nano, at)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
