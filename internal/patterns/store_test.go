package patterns

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
)

// memPersister is an in-memory Persister that can be told to fail.
type memPersister struct {
	mu       sync.Mutex
	rows     map[string]model.Pattern
	order    []string
	failures int
	calls    int
}

func newMemPersister() *memPersister {
	return &memPersister{rows: map[string]model.Pattern{}}
}

func (m *memPersister) LoadPatterns(ctx context.Context) ([]model.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Pattern
	for _, id := range m.order {
		if p, ok := m.rows[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPersister) PersistPattern(ctx context.Context, p model.Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return errors.New("disk full")
	}
	if _, ok := m.rows[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.rows[p.ID] = p
	return nil
}

func (m *memPersister) DeletePattern(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memPersister) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func learned(t *testing.T, text, response string) model.Pattern {
	t.Helper()
	return model.Pattern{
		Tokens:   normalize.LiteralTokens(normalize.Tokens(text)),
		Response: response,
		Category: model.CategoryGeneral,
	}
}

func newTestStore(t *testing.T, p Persister) *Store {
	t.Helper()
	s := New(p)
	t.Cleanup(s.Close)
	return s
}

func TestLoadStatic_SkipsMalformedEntries(t *testing.T) {
	s := newTestStore(t, nil)
	yamlText := `
- pattern: "what is *"
  response: "{0} is a mystery"
  category: general
- pattern: "* *"
  response: "ambiguous"
- pattern: "hello"
  response: "{3}"
- pattern: "hi"
  response: "hi"
  category: grumpy
- pattern: ["not", "a", "string"]
- pattern: "What is *?"
  response: "duplicate of the first"
- pattern: "hello"
  response: "Hello!"
  category: social
`
	report, err := s.LoadStatic(strings.NewReader(yamlText))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Loaded)
	assert.Equal(t, 5, report.Skipped)
	require.Len(t, report.Errors, 5)
	assert.ErrorIs(t, report.Errors[0], normalize.ErrAdjacentWildcards)
	assert.ErrorIs(t, report.Errors[1], normalize.ErrCaptureRange)
	assert.ErrorIs(t, report.Errors[2], normalize.ErrUnknownCategory)
	assert.ErrorIs(t, report.Errors[4], errDuplicate)

	snap := s.Snapshot()
	require.Equal(t, 2, snap.Len())
	for _, p := range snap.Static() {
		assert.Equal(t, model.OriginStatic, p.Origin)
		assert.NotEmpty(t, p.ID)
	}
	assert.Less(t, snap.Static()[0].Seq, snap.Static()[1].Seq)
}

func TestLoadStatic_OnlyOnce(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.LoadDefaults()
	require.NoError(t, err)
	_, err = s.LoadDefaults()
	assert.ErrorIs(t, err, ErrStaticLoaded)
}

func TestLoadStatic_RejectsNonList(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.LoadStatic(strings.NewReader("pattern: hello\n"))
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	s := newTestStore(t, nil)
	report, err := s.LoadDefaults()
	require.NoError(t, err)
	assert.Zero(t, report.Skipped)
	assert.Greater(t, report.Loaded, 10)
}

func TestInsert_DedupAcrossPartitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	_, err := s.LoadStatic(strings.NewReader("- pattern: hello there\n  response: hi\n"))
	require.NoError(t, err)

	_, ok, err := s.Insert(ctx, learned(t, "Hello, there!", "again"))
	require.NoError(t, err)
	assert.False(t, ok, "duplicate of a static pattern")

	_, ok, err = s.Insert(ctx, learned(t, "do ants dream", "maybe"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = s.Insert(ctx, learned(t, "do ants dream", "a different answer"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, s.Snapshot().Len())
}

func TestInsert_RejectsInvalid(t *testing.T) {
	s := newTestStore(t, nil)
	tokens, _ := normalize.ParsePattern("_ _ ok")
	tokens = append(tokens, model.Token{Kind: model.TokenMulti}, model.Token{Kind: model.TokenSingle})
	_, _, err := s.Insert(context.Background(), model.Pattern{Tokens: tokens, Response: "x"})
	assert.ErrorIs(t, err, normalize.ErrAdjacentWildcards)

	_, _, err = s.Insert(context.Background(), model.Pattern{Response: "x"})
	assert.ErrorIs(t, err, normalize.ErrEmptyPattern)
}

func TestSnapshot_IsolatedFromLaterWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	_, _, err := s.Insert(ctx, learned(t, "first pattern", "1"))
	require.NoError(t, err)

	before := s.Snapshot()
	_, _, err = s.Insert(ctx, learned(t, "second pattern", "2"))
	require.NoError(t, err)
	id := before.Dynamic()[0].ID
	_, ok := s.RecordUse(id, time.Now())
	require.True(t, ok)

	assert.Equal(t, 1, before.Len())
	assert.Equal(t, 0, before.Dynamic()[0].UseCount)
	assert.Equal(t, 2, s.Snapshot().Len())
	got, _ := s.Snapshot().Get(id)
	assert.Equal(t, 1, got.UseCount)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	mp := newMemPersister()
	s := newTestStore(t, mp)
	_, err := s.LoadDefaults()
	require.NoError(t, err)

	err = s.Remove(ctx, s.Snapshot().Static()[0].ID)
	assert.ErrorIs(t, err, ErrImmutable)

	err = s.Remove(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.Insert(ctx, learned(t, "do ants dream", "maybe"))
	require.NoError(t, err)
	s.Wait()
	require.Equal(t, 1, mp.count())

	id := s.Snapshot().Dynamic()[0].ID
	require.NoError(t, s.Remove(ctx, id))
	s.Wait()
	assert.Equal(t, 0, mp.count())
	assert.Empty(t, s.Snapshot().Dynamic())
}

func TestPersist_RetriesOnceThenKeepsInMemory(t *testing.T) {
	ctx := context.Background()

	mp := newMemPersister()
	mp.failures = 1
	s := newTestStore(t, mp)
	_, _, err := s.Insert(ctx, learned(t, "retry me please", "ok"))
	require.NoError(t, err)
	s.Wait()
	assert.Equal(t, 1, mp.count(), "second attempt succeeds")

	mp2 := newMemPersister()
	mp2.failures = 2
	s2 := newTestStore(t, mp2)
	_, _, err = s2.Insert(ctx, learned(t, "drop me please", "ok"))
	require.NoError(t, err)
	s2.Wait()
	assert.Equal(t, 0, mp2.count())
	assert.Equal(t, 2, mp2.calls)
	assert.Equal(t, 1, s2.Snapshot().Len(), "still usable in memory")
}

func TestReload_ReplacesDynamicPartition(t *testing.T) {
	ctx := context.Background()
	mp := newMemPersister()
	s := newTestStore(t, mp)
	_, err := s.LoadStatic(strings.NewReader("- pattern: hello\n  response: hi\n  category: social\n"))
	require.NoError(t, err)

	_, _, err = s.Insert(ctx, learned(t, "do ants dream", "maybe"))
	require.NoError(t, err)
	s.Wait()

	// Another process writes directly to the persisted source.
	external := learned(t, "are clouds heavy", "very")
	external.ID = "01EXTERNAL"
	external.Source = model.TokensKey(external.Tokens)
	require.NoError(t, mp.PersistPattern(ctx, external))
	dup := learned(t, "hello", "dup of static")
	dup.ID = "01DUP"
	require.NoError(t, mp.PersistPattern(ctx, dup))

	old := s.Snapshot()
	report, err := s.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Loaded)
	assert.Equal(t, 1, report.Skipped)

	assert.Len(t, old.Dynamic(), 1)
	snap := s.Snapshot()
	require.Len(t, snap.Dynamic(), 2)
	_, ok := snap.Get("01EXTERNAL")
	assert.True(t, ok)
	assert.Len(t, snap.Static(), 1)
}

// pausingPersister holds its first LoadPatterns call after the rows are
// read, so a test can write to the store mid-reload.
type pausingPersister struct {
	*memPersister
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newPausingPersister(mp *memPersister) *pausingPersister {
	return &pausingPersister{memPersister: mp, read: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingPersister) LoadPatterns(ctx context.Context) ([]model.Pattern, error) {
	rows, err := p.memPersister.LoadPatterns(ctx)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return rows, err
}

func reloadWith(t *testing.T, s *Store, pp *pausingPersister, write func()) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := s.Reload(context.Background())
		done <- err
	}()
	<-pp.read
	write()
	close(pp.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not finish")
	}
}

func TestReload_RemoveDuringReloadStaysRemoved(t *testing.T) {
	ctx := context.Background()
	pp := newPausingPersister(newMemPersister())
	s := newTestStore(t, pp)
	p, ok, err := s.Insert(ctx, learned(t, "do ants dream", "maybe"))
	require.NoError(t, err)
	require.True(t, ok)
	s.Wait()

	reloadWith(t, s, pp, func() {
		require.NoError(t, s.Remove(ctx, p.ID))
	})
	s.Wait()

	assert.False(t, s.Snapshot().Has(p.Key()))
	assert.Equal(t, 0, pp.count())
}

func TestReload_InsertDuringReloadIsKept(t *testing.T) {
	ctx := context.Background()
	pp := newPausingPersister(newMemPersister())
	s := newTestStore(t, pp)

	var inserted model.Pattern
	reloadWith(t, s, pp, func() {
		p, ok, err := s.Insert(ctx, learned(t, "are clouds heavy", "very"))
		require.NoError(t, err)
		require.True(t, ok)
		inserted = p
	})
	s.Wait()

	_, ok := s.Snapshot().Get(inserted.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, pp.count())
}

func TestReload_KeepsNewerInMemoryUsage(t *testing.T) {
	ctx := context.Background()
	mp := newMemPersister()
	s := newTestStore(t, mp)
	_, _, err := s.Insert(ctx, learned(t, "do ants dream", "maybe"))
	require.NoError(t, err)
	id := s.Snapshot().Dynamic()[0].ID
	s.RecordUse(id, time.Now())
	s.Wait()

	_, err = s.Reload(ctx)
	require.NoError(t, err)
	got, ok := s.Snapshot().Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, got.UseCount)
	assert.NotNil(t, got.LastUsedAt)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemPersister())
	_, err := s.LoadDefaults()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap := s.Snapshot()
				n := snap.Len()
				assert.Equal(t, n, len(snap.Patterns()))
				if j%10 == 0 {
					_, _, _ = s.Insert(ctx, learned(t, strings.Repeat("word ", i+2)+string(rune('a'+j%26)), "x"))
				}
			}
		}(i)
	}
	wg.Wait()
	s.Wait()
}
