// Package store provides SQLite persistence for learned patterns and the turn log.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/reflex/internal/model"
)

// ErrPatternNotFound is returned when a persisted pattern does not exist.
var ErrPatternNotFound = errors.New("pattern not found")

// CorruptRowError reports a stored pattern row whose field cannot be decoded.
type CorruptRowError struct {
	ID    string
	Field string
	Err   error
}

func (e *CorruptRowError) Error() string {
	return fmt.Sprintf("pattern %s: corrupt %s: %v", e.ID, e.Field, e.Err)
}

func (e *CorruptRowError) Unwrap() error { return e.Err }

// TurnsParams holds parameters for listing logged turns.
type TurnsParams struct {
	SessionID string
	Stage     model.Stage
	Query     string // substring of input or response
	Since     time.Time
	Limit     int
}

// Store defines the persistence interface used by the reflex engine.
type Store interface {
	// LoadPatterns returns every learned pattern in insertion order.
	LoadPatterns(ctx context.Context) ([]model.Pattern, error)

	// PersistPattern inserts or updates a learned pattern.
	PersistPattern(ctx context.Context, p model.Pattern) error

	// DeletePattern hard-deletes a learned pattern.
	DeletePattern(ctx context.Context, id string) error

	// PatternsVersion changes whenever learned patterns are added, deleted or edited.
	PatternsVersion(ctx context.Context) (int64, error)

	// LogTurn appends a served turn to the turn log.
	LogTurn(ctx context.Context, t model.Turn) error

	// Turns lists logged turns, newest first.
	Turns(ctx context.Context, p TurnsParams) ([]model.Turn, error)

	// Close closes the store.
	Close() error
}
