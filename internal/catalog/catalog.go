package catalog

// #region imports
import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// #endregion imports

// #region types

// Entry is one named source and its human-readable summary.
type Entry struct {
	Name    string
	Summary string
}

// Catalog is the ordered, immutable name → summary index used for selection.
// It is built once at startup and shared by every run.
type Catalog struct {
	entries     []Entry
	index       map[string]int
	generatedAt string
}

// ErrMalformed marks a catalog document that cannot be used.
var ErrMalformed = errors.New("malformed catalog")

// #endregion types

// #region constructor

// New builds a catalog from entries in order. Names must be non-empty and unique.
func New(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no sources", ErrMalformed)
	}
	c := &Catalog{
		entries: make([]Entry, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: empty source name at position %d", ErrMalformed, i)
		}
		if _, dup := c.index[e.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate source %q", ErrMalformed, e.Name)
		}
		c.index[e.Name] = i
		c.entries[i] = e
	}
	return c, nil
}

// Load reads the catalog document at path. A missing or malformed file is
// an error the caller treats as fatal.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return c, nil
}

// #endregion constructor

// #region accessors

// Len returns the number of sources.
func (c *Catalog) Len() int { return len(c.entries) }

// Entries returns a copy of the entries in catalog order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup returns the summary for an exact, case-sensitive name.
func (c *Catalog) Lookup(name string) (string, bool) {
	i, ok := c.index[name]
	if !ok {
		return "", false
	}
	return c.entries[i].Summary, true
}

// GeneratedAt returns the generation timestamp recorded in the document, if any.
func (c *Catalog) GeneratedAt() string { return c.generatedAt }

// Summary renders one "- name: summary" line per source with newlines in
// summaries flattened to spaces.
func (c *Catalog) Summary() string {
	var b strings.Builder
	for i, e := range c.entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", e.Name, strings.ReplaceAll(e.Summary, "\n", " "))
	}
	return b.String()
}

// #endregion accessors

// #region document

// Document is the on-disk catalog shape.
//
//	{"generated_at": "...", "total_tabs_analyzed": 12, "tab_analysis": {"Tab": "summary", ...}}
//
// tab_analysis key order is significant and preserved in both directions.
type Document struct {
	GeneratedAt       string
	TotalTabsAnalyzed int
	TabAnalysis       []Entry
}

// Parse decodes a catalog document, keeping tab_analysis in file order.
func Parse(data []byte) (*Catalog, error) {
	var raw struct {
		GeneratedAt string          `json:"generated_at"`
		TabAnalysis json.RawMessage `json:"tab_analysis"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw.TabAnalysis) == 0 {
		return nil, fmt.Errorf("%w: missing tab_analysis", ErrMalformed)
	}
	entries, err := decodeOrdered(raw.TabAnalysis)
	if err != nil {
		return nil, err
	}
	c, err := New(entries)
	if err != nil {
		return nil, err
	}
	c.generatedAt = raw.GeneratedAt
	return c, nil
}

// MarshalJSON writes the document with tab_analysis in entry order.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"generated_at":`)
	if err := writeJSON(&buf, d.GeneratedAt); err != nil {
		return nil, err
	}
	buf.WriteString(`,"total_tabs_analyzed":`)
	if err := writeJSON(&buf, d.TotalTabsAnalyzed); err != nil {
		return nil, err
	}
	buf.WriteString(`,"tab_analysis":{`)
	for i, e := range d.TabAnalysis {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, e.Name); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSON(&buf, e.Summary); err != nil {
			return nil, err
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// Write stores entries as a catalog document at path, indented for humans.
func Write(path string, entries []Entry, generatedAt time.Time) error {
	doc := Document{
		GeneratedAt:       generatedAt.UTC().Format(time.RFC3339Nano),
		TotalTabsAnalyzed: len(entries),
		TabAnalysis:       entries,
	}
	compact, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return fmt.Errorf("indent catalog: %w", err)
	}
	out.WriteByte('\n')
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write catalog %s: %w", path, err)
	}
	return nil
}

// #endregion document

// #region helpers

func decodeOrdered(obj json.RawMessage) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: tab_analysis must be an object", ErrMalformed)
	}
	var entries []Entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string key", ErrMalformed)
		}
		var summary string
		if err := dec.Decode(&summary); err != nil {
			return nil, fmt.Errorf("%w: summary for %q: %v", ErrMalformed, name, err)
		}
		entries = append(entries, Entry{Name: name, Summary: summary})
	}
	return entries, nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// #endregion helpers
