package portable

import (
	"path/filepath"
	"testing"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func libraryPattern(name string, lang pattern.Language, total float64, tags ...string) *pattern.Pattern {
	p := pattern.New(name, "function "+name+"(x) {\n  const y = x + 1;\n  return y;\n}", lang)
	p.Coherency = pattern.CoherencyScore{
		Total: total,
		Breakdown: pattern.Breakdown{
			Correctness: 1, Simplicity: 0.8, Relevance: 0.7,
			Clarity: 0.7, Nesting: 0.9, Security: 1,
		},
	}
	p.CovenantSealed = true
	p.Tags = tags
	return p
}

func TestExportFilters(t *testing.T) {
	s := openTestStore(t)

	seedLib := []*pattern.Pattern{
		libraryPattern("debounce", pattern.LangJavaScript, 0.85, "timing"),
		libraryPattern("chunk", pattern.LangPython, 0.72, "array"),
		libraryPattern("clamp", pattern.LangJavaScript, 0.65, "math"),
	}
	for _, p := range seedLib {
		if _, err := s.InsertPattern(p, store.InsertOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		name string
		opts ExportOptions
		want int
	}{
		{"all", ExportOptions{}, 3},
		{"by language", ExportOptions{Language: pattern.LangJavaScript}, 2},
		{"by tag", ExportOptions{Tag: "timing"}, 1},
		{"by coherency", ExportOptions{MinCoherency: 0.7}, 2},
		{"limited", ExportOptions{Limit: 1}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Export(s, tc.opts)
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			if b.Version != Version {
				t.Errorf("version = %d, want %d", b.Version, Version)
			}
			if len(b.Patterns) != tc.want {
				t.Errorf("exported %d patterns, want %d", len(b.Patterns), tc.want)
			}
		})
	}
}

func TestImportRoundTripIsIdempotent(t *testing.T) {
	src := openTestStore(t)
	for _, p := range []*pattern.Pattern{
		libraryPattern("debounce", pattern.LangJavaScript, 0.85, "timing"),
		libraryPattern("chunk", pattern.LangPython, 0.72, "array"),
	} {
		if _, err := src.InsertPattern(p, store.InsertOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	bundle, err := Export(src, ExportOptions{})
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := WriteFile(path, bundle); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	loaded, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	dst := openTestStore(t)
	report, err := Import(dst, loaded)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.Imported != 2 || report.Merged != 0 || report.Rejected != 0 {
		t.Errorf("first import = %+v, want 2/0/0", report)
	}

	// A second import of the same bundle only merges.
	report, err = Import(dst, loaded)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if report.Imported != 0 || report.Merged != 2 {
		t.Errorf("re-import = %+v, want 0 imported, 2 merged", report)
	}

	got, err := dst.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("store holds %d patterns, want 2", len(got))
	}
	for _, p := range got {
		orig, err := src.GetPattern(p.ID)
		if err != nil {
			t.Fatalf("pattern %s missing from source: %v", p.ID, err)
		}
		if orig.ContentHash() != p.ContentHash() {
			t.Errorf("pattern %s code changed in transit", p.Name)
		}
		if orig.Coherency.Total != p.Coherency.Total {
			t.Errorf("pattern %s coherency changed in transit", p.Name)
		}
	}
}

func TestImportRejectsBadEntries(t *testing.T) {
	dst := openTestStore(t)

	broken := libraryPattern("broken", pattern.LangJavaScript, 0.8)
	broken.Code = ""

	report, err := Import(dst, &Bundle{
		Version:  Version,
		Patterns: []*pattern.Pattern{broken, nil, libraryPattern("ok", pattern.LangGo, 0.8)},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.Rejected != 2 || report.Imported != 1 {
		t.Errorf("report = %+v, want 2 rejected, 1 imported", report)
	}
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	dst := openTestStore(t)
	if _, err := Import(dst, &Bundle{Version: 99}); err == nil {
		t.Fatal("expected version error")
	}
}
