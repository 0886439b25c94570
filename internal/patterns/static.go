package patterns

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// DefaultsYAML returns the embedded default static pattern definitions.
func DefaultsYAML() []byte { return defaultsYAML }

var errDuplicate = errors.New("structurally identical pattern already exists")

// LoadError describes one skipped entry.
type LoadError struct {
	Index   int
	Pattern string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("entry %d (%q): %v", e.Index, e.Pattern, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadReport summarizes a load. Malformed entries are skipped, never fatal.
type LoadReport struct {
	Loaded  int          `json:"loaded"`
	Skipped int          `json:"skipped"`
	Errors  []*LoadError `json:"-"`
}

func (r *LoadReport) skip(i int, pattern string, err error) {
	r.Skipped++
	r.Errors = append(r.Errors, &LoadError{Index: i, Pattern: pattern, Err: err})
}

// staticEntry is one (pattern, response, category) triple.
type staticEntry struct {
	Pattern  string `yaml:"pattern"`
	Response string `yaml:"response"`
	Category string `yaml:"category"`
}

// LoadDefaults loads the embedded default patterns into the static partition.
func (s *Store) LoadDefaults() (LoadReport, error) {
	return s.LoadStatic(bytes.NewReader(defaultsYAML))
}

// LoadStaticFile loads static patterns from a YAML file.
func (s *Store) LoadStaticFile(path string) (LoadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadReport{}, fmt.Errorf("open static patterns: %w", err)
	}
	defer f.Close()
	return s.LoadStatic(f)
}

// LoadStatic parses an ordered YAML list of pattern definitions into the
// static partition. It may be called once; entries that fail to parse are
// logged and skipped.
func (s *Store) LoadStatic(r io.Reader) (LoadReport, error) {
	var report LoadReport

	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return report, fmt.Errorf("parse static patterns: %w", err)
	}
	var items []*yaml.Node
	if len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind != yaml.SequenceNode {
			return report, fmt.Errorf("parse static patterns: expected a list, got %s", kindName(root.Kind))
		}
		items = root.Content
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staticLoaded {
		return report, ErrStaticLoaded
	}
	cur := s.snap.Load()

	seen := make(map[string]bool, len(items))
	for _, p := range cur.dynamic {
		seen[p.Key()] = true
	}
	static := make([]model.Pattern, 0, len(items))
	for i, item := range items {
		var e staticEntry
		if err := item.Decode(&e); err != nil {
			report.skip(i, "", err)
			continue
		}
		category, err := normalize.ParseCategory(e.Category)
		if err != nil {
			report.skip(i, e.Pattern, err)
			continue
		}
		p, err := normalize.Build(e.Pattern, e.Response, category, model.OriginStatic)
		if err != nil {
			report.skip(i, e.Pattern, err)
			continue
		}
		if seen[p.Key()] {
			report.skip(i, e.Pattern, errDuplicate)
			continue
		}
		seen[p.Key()] = true
		p.ID = s.newID()
		p.CreatedAt = s.now().UTC()
		s.seq++
		p.Seq = s.seq
		static = append(static, p)
		report.Loaded++
	}

	s.staticLoaded = true
	s.snap.Store(newSnapshot(static, cur.dynamic))

	for _, e := range report.Errors {
		log.Warn().Int("entry", e.Index).Str("pattern", e.Pattern).Err(e.Err).Msg("skipping malformed static pattern")
	}
	log.Debug().Int("loaded", report.Loaded).Int("skipped", report.Skipped).Msg("static patterns loaded")
	return report, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
