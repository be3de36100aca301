package store

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/remembrance-run/remembrance-core/internal/core/minhash"
	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// nearDuplicateThreshold is the signature similarity above which two
// same-language patterns collapse into one.
const nearDuplicateThreshold = 0.9

// DedupReport summarizes one deduplication pass.
type DedupReport struct {
	Groups  int `json:"groups"`
	Removed int `json:"removed"`
	Linked  int `json:"linked"`
	Passes  int `json:"passes"`
}

// Deduplicate collapses exact-key and near-duplicate proven patterns
// until a pass changes nothing. Same-language near duplicates merge into
// the highest-coherency survivor; similar patterns in different languages
// are linked as translations instead of merged. Merged rows stay behind
// as tombstones pointing at their survivor.
func (s *Store) Deduplicate() (*DedupReport, error) {
	report := &DedupReport{}
	for {
		report.Passes++
		changed, err := s.dedupPass(report)
		if err != nil {
			return report, err
		}
		if !changed {
			return report, nil
		}
	}
}

func (s *Store) dedupPass(report *DedupReport) (bool, error) {
	live, err := s.Patterns(Filter{})
	if err != nil {
		return false, err
	}

	// Candidate pairs come from band collisions; the similarity check
	// confirms them. Exact canonical-key duplicates merge regardless.
	buckets := make(map[uint64][]*pattern.Pattern)
	for _, p := range live {
		for _, key := range minhash.BandKeys(p.Signature) {
			buckets[key] = append(buckets[key], p)
		}
	}

	merged := make(map[string]bool)
	linked := false
	for _, group := range buckets {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.ID == b.ID || merged[a.ID] || merged[b.ID] {
					continue
				}
				sameKey := a.CanonicalKey() == b.CanonicalKey()
				similar := minhash.Similarity(a.Signature, b.Signature) >= nearDuplicateThreshold
				if !sameKey && !similar {
					continue
				}
				if a.Language != b.Language {
					if similar {
						if done, err := s.linkTranslations(a, b); err != nil {
							return false, err
						} else if done {
							report.Linked++
							linked = true
						}
					}
					continue
				}
				survivor, loser := pickSurvivor(a, b)
				if err := s.mergeInto(survivor, loser); err != nil {
					return false, err
				}
				merged[loser.ID] = true
				report.Groups++
				report.Removed++
			}
		}
	}
	return len(merged) > 0 || linked, nil
}

// pickSurvivor keeps the higher-coherency pattern; ties go to the older
// row so identity stays stable across repeated passes.
func pickSurvivor(a, b *pattern.Pattern) (survivor, loser *pattern.Pattern) {
	if a.Coherency.Total != b.Coherency.Total {
		if a.Coherency.Total > b.Coherency.Total {
			return a, b
		}
		return b, a
	}
	if b.CreatedAt.Before(a.CreatedAt) {
		return b, a
	}
	return a, b
}

func (s *Store) mergeInto(survivor, loser *pattern.Pattern) error {
	folded := mergePatterns(survivor, loser)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := updateRowTx(tx, "patterns", folded); err != nil {
		return err
	}

	// Tombstone the loser. Renaming its key frees the unique index for
	// future inserts while the redirect stays resolvable.
	loser.MergedInto = folded.ID
	short := loser.ID
	if len(short) > 8 {
		short = short[:8]
	}
	loser.Name = loser.Name + " (merged:" + short + ")"
	loser.Touch()
	if err := updateRowTx(tx, "patterns", loser); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Debug("patterns deduplicated",
		zap.String("survivor", folded.ID), zap.String("merged", loser.ID))
	return nil
}

// linkTranslations cross-references two similar patterns in different
// languages without merging them. Returns false when the link already
// exists.
func (s *Store) linkTranslations(a, b *pattern.Pattern) (bool, error) {
	if hasTranslation(a, b.ID) && hasTranslation(b, a.ID) {
		return false, nil
	}
	addTranslation(a, b.ID)
	addTranslation(b, a.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if err := updateRowTx(tx, "patterns", a); err != nil {
		return false, err
	}
	if err := updateRowTx(tx, "patterns", b); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Translation links live in the extensions map as a comma-separated id
// list under the "translations" key.
func hasTranslation(p *pattern.Pattern, id string) bool {
	for _, existing := range strings.Split(p.Extensions["translations"], ",") {
		if existing == id {
			return true
		}
	}
	return false
}

func addTranslation(p *pattern.Pattern, id string) {
	if hasTranslation(p, id) {
		return
	}
	if p.Extensions == nil {
		p.Extensions = make(map[string]string)
	}
	if existing := p.Extensions["translations"]; existing != "" {
		p.Extensions["translations"] = existing + "," + id
	} else {
		p.Extensions["translations"] = id
	}
}

// ResolveMerged follows merged_into redirects to the live row.
func (s *Store) ResolveMerged(id string) (*pattern.Pattern, error) {
	seen := make(map[string]bool)
	for {
		p, err := s.GetPattern(id)
		if err != nil {
			return nil, err
		}
		if p.MergedInto == "" {
			return p, nil
		}
		if seen[p.MergedInto] {
			return p, nil
		}
		seen[id] = true
		id = p.MergedInto
	}
}
