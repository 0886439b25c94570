package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath          string       `json:"db_path"`
	DBSizeBytes     int64        `json:"db_size_bytes"`
	LearnedPatterns int          `json:"learned_patterns"`
	UsedPatterns    int          `json:"used_patterns"`
	TotalTurns      int          `json:"total_turns"`
	Stages          []StageStats `json:"stages"`
}

// StageStats holds per-stage turn counts from the log.
type StageStats struct {
	Stage        string  `json:"stage"`
	Count        int     `json:"count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	// DB file size
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM learned_patterns`).Scan(&st.LearnedPatterns)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM learned_patterns WHERE use_count > 0`).Scan(&st.UsedPatterns)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&st.TotalTurns)

	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, COUNT(*) AS cnt, AVG(latency_us) / 1000.0
		FROM turns GROUP BY stage ORDER BY cnt DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ss StageStats
		rows.Scan(&ss.Stage, &ss.Count, &ss.AvgLatencyMs)
		st.Stages = append(st.Stages, ss)
	}

	return st, nil
}
