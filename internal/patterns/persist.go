package patterns

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcliao/reflex/internal/model"
)

// Persister stores the dynamic partition.
type Persister interface {
	LoadPatterns(ctx context.Context) ([]model.Pattern, error)
	// PersistPattern inserts or updates a learned pattern.
	PersistPattern(ctx context.Context, p model.Pattern) error
	DeletePattern(ctx context.Context, id string) error
}

type persistOp int

const (
	opUpsert persistOp = iota
	opDelete
)

type persistJob struct {
	op      persistOp
	pattern model.Pattern
}

// persistQueue applies writes in FIFO order on a single goroutine so a
// delete can never be overtaken by an older upsert of the same pattern.
type persistQueue struct {
	p       Persister
	timeout time.Duration

	mu      sync.Mutex
	pending []persistJob
	signal  chan struct{}
	idle    *sync.Cond
	busy    bool
	closed  bool
	done    chan struct{}
}

func newPersistQueue(p Persister, timeout time.Duration) *persistQueue {
	q := &persistQueue{
		p:       p,
		timeout: timeout,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *persistQueue) push(j persistJob) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		log.Warn().Str("pattern_id", j.pattern.ID).Msg("pattern store closed, write dropped")
		return
	}
	q.pending = append(q.pending, j)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *persistQueue) run() {
	defer close(q.done)
	for range q.signal {
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.busy = false
				q.idle.Broadcast()
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			j := q.pending[0]
			q.pending = q.pending[1:]
			q.busy = true
			q.mu.Unlock()

			q.apply(j)
		}
	}
}

// apply retries a failed write once, then drops it. The pattern stays
// usable in memory for the rest of the process either way.
func (q *persistQueue) apply(j persistJob) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		switch j.op {
		case opUpsert:
			err = q.p.PersistPattern(ctx, j.pattern)
		case opDelete:
			err = q.p.DeletePattern(ctx, j.pattern.ID)
		}
		cancel()
		if err == nil {
			return
		}
	}
	log.Warn().Err(err).Str("pattern_id", j.pattern.ID).Str("pattern", j.pattern.Source).
		Msg("persisting pattern failed after retry, keeping it in memory only")
}

// wait blocks until every queued write has been applied.
func (q *persistQueue) wait() {
	q.mu.Lock()
	for len(q.pending) > 0 || q.busy {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

func (q *persistQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	<-q.done
}
