// Package patterns holds the reflex pattern store: an immutable static
// partition loaded at startup and a mutable dynamic partition of learned
// patterns, published to readers through atomically swapped snapshots.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
)

var (
	ErrImmutable    = errors.New("static patterns cannot be modified")
	ErrNotFound     = errors.New("pattern not found")
	ErrStaticLoaded = errors.New("static patterns already loaded")
)

// DefaultPersistTimeout bounds a single persistence attempt.
const DefaultPersistTimeout = 5 * time.Second

// Store owns every pattern. Readers take a Snapshot and never block;
// writers are serialized and publish a fresh snapshot on each change.
type Store struct {
	mu           sync.Mutex
	snap         atomic.Pointer[Snapshot]
	seq          int64
	gen          uint64 // bumped by every Insert and Remove
	staticLoaded bool
	entropy      *rand.Rand
	now          func() time.Time
	queue        *persistQueue
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store. A nil persister keeps the dynamic partition in memory only.
func New(p Persister, opts ...Option) *Store {
	s := &Store{
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if p != nil {
		s.queue = newPersistQueue(p, DefaultPersistTimeout)
	}
	s.snap.Store(newSnapshot(nil, nil))
	return s
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// Snapshot returns the current read-only view.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Insert adds a learned pattern to the dynamic partition and returns it
// with ID and sequence assigned. It reports false, without error, when a
// structurally identical pattern already exists. Persistence happens in
// the background.
func (s *Store) Insert(ctx context.Context, p model.Pattern) (model.Pattern, bool, error) {
	if err := normalize.Validate(&p); err != nil {
		return model.Pattern{}, false, err
	}

	s.mu.Lock()
	cur := s.snap.Load()
	if cur.Has(p.Key()) {
		s.mu.Unlock()
		return model.Pattern{}, false, nil
	}
	if p.ID == "" {
		p.ID = s.newID()
	}
	if _, exists := cur.byID[p.ID]; exists {
		s.mu.Unlock()
		return model.Pattern{}, false, nil
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	p.Origin = model.OriginLearned
	s.seq++
	p.Seq = s.seq

	dynamic := make([]model.Pattern, len(cur.dynamic), len(cur.dynamic)+1)
	copy(dynamic, cur.dynamic)
	dynamic = append(dynamic, p)
	s.snap.Store(newSnapshot(cur.static, dynamic))
	s.gen++
	s.persist(persistJob{op: opUpsert, pattern: p})
	s.mu.Unlock()

	log.Debug().Str("pattern_id", p.ID).Str("pattern", p.Source).Str("category", string(p.Category)).Msg("pattern inserted")
	return p.Clone(), true, nil
}

// Remove deletes a learned pattern.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	cur := s.snap.Load()
	loc, ok := cur.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if loc.static {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrImmutable, id)
	}
	removed := cur.dynamic[loc.index]
	dynamic := make([]model.Pattern, 0, len(cur.dynamic)-1)
	dynamic = append(dynamic, cur.dynamic[:loc.index]...)
	dynamic = append(dynamic, cur.dynamic[loc.index+1:]...)
	s.snap.Store(newSnapshot(cur.static, dynamic))
	s.gen++
	s.persist(persistJob{op: opDelete, pattern: removed})
	s.mu.Unlock()
	return nil
}

// RecordUse stamps a pattern as used at the given time. It is the only
// path that changes usage counters.
func (s *Store) RecordUse(id string, at time.Time) (model.Pattern, bool) {
	s.mu.Lock()
	cur := s.snap.Load()
	loc, ok := cur.byID[id]
	if !ok {
		s.mu.Unlock()
		return model.Pattern{}, false
	}

	static, dynamic := cur.static, cur.dynamic
	var updated model.Pattern
	if loc.static {
		static = append([]model.Pattern(nil), cur.static...)
		updated = touch(static, loc.index, at)
	} else {
		dynamic = append([]model.Pattern(nil), cur.dynamic...)
		updated = touch(dynamic, loc.index, at)
	}
	s.snap.Store(newSnapshot(static, dynamic))
	if updated.Origin == model.OriginLearned {
		s.persist(persistJob{op: opUpsert, pattern: updated})
	}
	s.mu.Unlock()
	return updated.Clone(), true
}

func touch(ps []model.Pattern, i int, at time.Time) model.Pattern {
	t := at.UTC()
	p := ps[i]
	p.UseCount++
	p.LastUsedAt = &t
	ps[i] = p
	return p
}

// LoadDynamic populates the dynamic partition from the persister at startup.
func (s *Store) LoadDynamic(ctx context.Context) (LoadReport, error) {
	return s.Reload(ctx)
}

// Reload re-reads the persisted dynamic partition and swaps it in
// atomically. In-flight matches keep the snapshot they started with.
func (s *Store) Reload(ctx context.Context) (LoadReport, error) {
	if s.queue == nil {
		return LoadReport{}, nil
	}

	// An Insert or Remove landing during the unlocked read bumps gen and
	// forces another read. The final attempt reads under the lock.
	for attempt := 0; attempt < reloadAttempts; attempt++ {
		s.mu.Lock()
		gen := s.gen
		s.mu.Unlock()

		// Writes still queued would otherwise vanish from the reloaded partition.
		s.queue.wait()
		rows, err := s.queue.p.LoadPatterns(ctx)
		if err != nil {
			return LoadReport{}, fmt.Errorf("load dynamic patterns: %w", err)
		}

		s.mu.Lock()
		if s.gen == gen {
			report := s.swapDynamic(rows)
			s.mu.Unlock()
			return report, nil
		}
		s.mu.Unlock()
		log.Debug().Int("attempt", attempt+1).Msg("patterns changed during reload, reading again")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.wait()
	rows, err := s.queue.p.LoadPatterns(ctx)
	if err != nil {
		return LoadReport{}, fmt.Errorf("load dynamic patterns: %w", err)
	}
	return s.swapDynamic(rows), nil
}

// reloadAttempts bounds unlocked reads before Reload falls back to reading
// under the writer lock.
const reloadAttempts = 3

// swapDynamic validates persisted rows and publishes them as the dynamic
// partition. Callers hold s.mu.
func (s *Store) swapDynamic(rows []model.Pattern) LoadReport {
	var report LoadReport
	cur := s.snap.Load()

	staticKeys := make(map[string]bool, len(cur.static))
	for _, p := range cur.static {
		staticKeys[p.Key()] = true
	}
	existing := make(map[string]model.Pattern, len(cur.dynamic))
	for _, p := range cur.dynamic {
		existing[p.ID] = p
	}

	seen := make(map[string]bool, len(rows))
	dynamic := make([]model.Pattern, 0, len(rows))
	for i, p := range rows {
		if err := normalize.Validate(&p); err != nil {
			report.skip(i, p.Source, err)
			continue
		}
		key := p.Key()
		if staticKeys[key] || seen[key] {
			report.skip(i, p.Source, errDuplicate)
			continue
		}
		seen[key] = true
		p.Origin = model.OriginLearned
		if old, ok := existing[p.ID]; ok {
			p.Seq = old.Seq
			if newer(old.LastUsedAt, p.LastUsedAt) {
				p.LastUsedAt = old.LastUsedAt
			}
			if old.UseCount > p.UseCount {
				p.UseCount = old.UseCount
			}
		} else {
			s.seq++
			p.Seq = s.seq
		}
		dynamic = append(dynamic, p)
		report.Loaded++
	}
	sort.SliceStable(dynamic, func(i, j int) bool { return dynamic[i].Seq < dynamic[j].Seq })

	s.snap.Store(newSnapshot(cur.static, dynamic))
	if report.Skipped > 0 {
		log.Warn().Int("skipped", report.Skipped).Int("loaded", report.Loaded).Msg("dynamic patterns skipped during load")
	}
	return report
}

func newer(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	return b == nil || a.After(*b)
}

// Wait blocks until queued persistence writes have been applied.
func (s *Store) Wait() {
	if s.queue != nil {
		s.queue.wait()
	}
}

// Close flushes pending writes and stops the background writer.
func (s *Store) Close() {
	if s.queue != nil {
		s.queue.close()
	}
}

func (s *Store) persist(j persistJob) {
	if s.queue != nil {
		s.queue.push(j)
	}
}
