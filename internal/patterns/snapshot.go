package patterns

import "github.com/rcliao/reflex/internal/model"

type location struct {
	static bool
	index  int
}

// Snapshot is an immutable point-in-time view of both partitions. It is
// safe for concurrent use; callers must not modify the returned patterns'
// token or template slices.
type Snapshot struct {
	static  []model.Pattern
	dynamic []model.Pattern
	keys    map[string]string
	byID    map[string]location
}

func newSnapshot(static, dynamic []model.Pattern) *Snapshot {
	s := &Snapshot{
		static:  static,
		dynamic: dynamic,
		keys:    make(map[string]string, len(static)+len(dynamic)),
		byID:    make(map[string]location, len(static)+len(dynamic)),
	}
	for i, p := range static {
		s.keys[p.Key()] = p.ID
		s.byID[p.ID] = location{static: true, index: i}
	}
	for i, p := range dynamic {
		s.keys[p.Key()] = p.ID
		s.byID[p.ID] = location{index: i}
	}
	return s
}

// Patterns returns static patterns followed by dynamic ones.
func (s *Snapshot) Patterns() []model.Pattern {
	out := make([]model.Pattern, 0, len(s.static)+len(s.dynamic))
	out = append(out, s.static...)
	return append(out, s.dynamic...)
}

// Static returns the static partition.
func (s *Snapshot) Static() []model.Pattern { return s.static }

// Dynamic returns the dynamic partition.
func (s *Snapshot) Dynamic() []model.Pattern { return s.dynamic }

// Len returns the total number of patterns.
func (s *Snapshot) Len() int { return len(s.static) + len(s.dynamic) }

// Get returns a copy of the pattern with the given ID.
func (s *Snapshot) Get(id string) (model.Pattern, bool) {
	loc, ok := s.byID[id]
	if !ok {
		return model.Pattern{}, false
	}
	if loc.static {
		return s.static[loc.index].Clone(), true
	}
	return s.dynamic[loc.index].Clone(), true
}

// Has reports whether a structurally identical pattern exists.
func (s *Snapshot) Has(key string) bool {
	_, ok := s.keys[key]
	return ok
}
