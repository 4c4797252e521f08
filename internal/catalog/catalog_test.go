package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleDoc = `{
  "generated_at": "2026-01-01T00:00:00Z",
  "total_tabs_analyzed": 3,
  "tab_analysis": {
    "Summary Forecast": "• Monthly P&L\n• 2025-2027",
    "Revenue": "• Revenue by product",
    "Opex": "• Operating expenses"
  }
}`

func TestParse_PreservesOrder(t *testing.T) {
	c, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries := c.Entries()
	want := []string{"Summary Forecast", "Revenue", "Opex"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, name := range want {
		if entries[i].Name != name {
			t.Errorf("entry %d: got %q, want %q", i, entries[i].Name, name)
		}
	}
	if c.GeneratedAt() != "2026-01-01T00:00:00Z" {
		t.Errorf("unexpected generated_at %q", c.GeneratedAt())
	}
}

func TestLookup_CaseSensitive(t *testing.T) {
	c, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Lookup("Revenue"); !ok {
		t.Error("expected exact match")
	}
	if _, ok := c.Lookup("revenue"); ok {
		t.Error("lookup must be case-sensitive")
	}
}

func TestSummary_FlattensNewlines(t *testing.T) {
	c, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	want := "- Summary Forecast: • Monthly P&L • 2025-2027\n- Revenue: • Revenue by product\n- Opex: • Operating expenses"
	if got := c.Summary(); got != want {
		t.Errorf("Summary() =\n%s\nwant\n%s", got, want)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":        `{"tab_analysis":`,
		"missing section": `{"generated_at":"x"}`,
		"array section":   `{"tab_analysis":["a"]}`,
		"empty section":   `{"tab_analysis":{}}`,
		"non-string":      `{"tab_analysis":{"A":1}}`,
		"duplicate":       `{"tab_analysis":{"A":"x","A":"y"}}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing catalog")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist cause, got %v", err)
	}
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabs_mindmap.json")
	entries := []Entry{
		{Name: "Zeta", Summary: "last alphabetically, first in file"},
		{Name: "Alpha", Summary: `quotes "inside"`},
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := Write(path, entries, at); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := c.Entries()
	if got[0] != entries[0] || got[1] != entries[1] {
		t.Errorf("round trip changed entries: %+v", got)
	}
	if c.GeneratedAt() != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected generated_at %q", c.GeneratedAt())
	}
}
