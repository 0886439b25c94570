package store

import (
	"context"
	"fmt"

	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
)

// ExportAll returns every learned pattern, optionally filtered by category.
func (s *SQLiteStore) ExportAll(ctx context.Context, category model.Category) ([]model.Pattern, error) {
	all, err := s.LoadPatterns(ctx)
	if err != nil {
		return nil, err
	}
	if category == "" {
		return all, nil
	}
	var out []model.Pattern
	for _, p := range all {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

// ImportReport summarizes an Import. Skipped lists why each rejected entry
// was left out, keyed by its position in the input.
type ImportReport struct {
	Imported int            `json:"imported"`
	Skipped  map[int]string `json:"skipped,omitempty"`
}

func (r *ImportReport) skip(i int, reason string) {
	if r.Skipped == nil {
		r.Skipped = map[int]string{}
	}
	r.Skipped[i] = reason
}

// Import stores learned patterns from an export. Entries that fail pattern
// validation, collide with a reserved key (the static partition) or whose
// normalized text or ID already exists are skipped. reserved may be nil.
func (s *SQLiteStore) Import(ctx context.Context, patterns []model.Pattern, reserved func(key string) bool) (ImportReport, error) {
	var report ImportReport
	for i, p := range patterns {
		p.Tokens = nil
		if err := normalize.Validate(&p); err != nil {
			report.skip(i, err.Error())
			continue
		}
		if reserved != nil && reserved(p.Key()) {
			report.skip(i, "collides with a static pattern")
			continue
		}
		if p.ID == "" {
			p.ID = s.newID()
		}

		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM learned_patterns WHERE pattern = ? OR id = ?`, p.Source, p.ID).Scan(&exists)
		if err != nil {
			return report, fmt.Errorf("check existing %q: %w", p.Source, err)
		}
		if exists > 0 {
			report.skip(i, "already exists")
			continue
		}
		if err := s.PersistPattern(ctx, p); err != nil {
			return report, fmt.Errorf("import %q: %w", p.Source, err)
		}
		report.Imported++
	}
	return report, nil
}
