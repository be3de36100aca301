// Package portable implements the version-1 JSON interchange format for
// pattern libraries.
package portable

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

// Version is the interchange format version this build reads and writes.
const Version = 1

// Bundle is the portable envelope.
type Bundle struct {
	Version  int                `json:"version"`
	Patterns []*pattern.Pattern `json:"patterns"`
}

// ExportOptions filters what goes into a bundle.
type ExportOptions struct {
	Language     pattern.Language
	Tag          string
	MinCoherency float64
	Limit        int
}

// Export collects matching patterns into a bundle.
func Export(s *store.Store, opts ExportOptions) (*Bundle, error) {
	f := store.Filter{
		Language:     opts.Language,
		MinCoherency: opts.MinCoherency,
		Limit:        opts.Limit,
	}
	if opts.Tag != "" {
		f.TagsAny = []string{opts.Tag}
	}
	patterns, err := s.Patterns(f)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return &Bundle{Version: Version, Patterns: patterns}, nil
}

// ImportReport accounts for every pattern in an imported bundle.
type ImportReport struct {
	Imported int `json:"imported"`
	Merged   int `json:"merged"`
	Rejected int `json:"rejected"`
}

// Import folds a bundle into the store under the merge rules, so importing
// the same bundle twice changes nothing. Patterns that fail validation are
// counted and skipped, never fatal.
func Import(s *store.Store, b *Bundle) (*ImportReport, error) {
	if b.Version != Version {
		return nil, fmt.Errorf("import: unsupported bundle version %d", b.Version)
	}
	report := &ImportReport{}
	for _, p := range b.Patterns {
		if p == nil || p.Validate() != nil {
			report.Rejected++
			continue
		}
		res, err := s.InsertPattern(p.Clone(), store.InsertOptions{})
		if err != nil {
			report.Rejected++
			continue
		}
		if res.Merged {
			report.Merged++
		} else {
			report.Imported++
		}
	}
	return report, nil
}

// WriteFile writes a bundle as indented JSON.
func WriteFile(path string, b *Bundle) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write bundle: %w", err)
	}
	return nil
}

// ReadFile reads a bundle from disk.
func ReadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("cannot parse bundle: %w", err)
	}
	return &b, nil
}
