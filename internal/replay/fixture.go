package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/danielpatrickdp/sheetwise/internal/catalog"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
	"github.com/danielpatrickdp/sheetwise/internal/oracle/scripted"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description    string                `json:"description"`
	Catalog        []FixtureSource       `json:"catalog"`
	Question       string                `json:"question"`
	Classification oracle.Classification `json:"classification"`
	ClassifyError  string                `json:"classify_error,omitempty"`
	Rounds         []FixtureRound        `json:"rounds"`
	Sources        map[string][][]any    `json:"sources"`
	SourceErrors   map[string]string     `json:"source_errors,omitempty"`
	MaxSteps       int                   `json:"max_steps,omitempty"`
	Expected       FixtureExpectedResult `json:"expected"`
}

// FixtureSource is one catalog entry.
type FixtureSource struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// FixtureRound is one scripted generation round.
type FixtureRound struct {
	Text  []string      `json:"text,omitempty"`
	Calls []FixtureCall `json:"calls,omitempty"`
	Error string        `json:"error,omitempty"`
}

// FixtureCall is a scripted tool call. Args is passed through verbatim, so
// a fixture can carry malformed arguments.
type FixtureCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// FixtureExpectedResult captures what the run must produce.
type FixtureExpectedResult struct {
	State         string         `json:"state"`
	Answer        string         `json:"answer,omitempty"`
	Error         string         `json:"error,omitempty"`
	Selected      []string       `json:"selected,omitempty"`
	Fallback      bool           `json:"fallback"`
	Outcomes      []string       `json:"outcomes,omitempty"`
	ProviderCalls map[string]int `json:"provider_calls,omitempty"`
	Rounds        int            `json:"rounds,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if f.Question == "" {
		return nil, fmt.Errorf("parse fixture %s: question is required", path)
	}
	return &f, nil
}

// LoadDir loads every *.json fixture in dir, sorted by file name.
func LoadDir(dir string) (map[string]*Fixture, []string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("glob fixtures: %w", err)
	}
	sort.Strings(paths)
	out := make(map[string]*Fixture, len(paths))
	for _, p := range paths {
		f, err := LoadFixture(p)
		if err != nil {
			return nil, nil, err
		}
		out[p] = f
	}
	return out, paths, nil
}

// ToCatalog builds the fixture's catalog.
func (f *Fixture) ToCatalog() (*catalog.Catalog, error) {
	entries := make([]catalog.Entry, len(f.Catalog))
	for i, s := range f.Catalog {
		entries[i] = catalog.Entry{Name: s.Name, Summary: s.Summary}
	}
	return catalog.New(entries)
}

// ToOracle converts the scripted parts into a scripted oracle.
func (f *Fixture) ToOracle() scripted.Oracle {
	cls := &scripted.Classifier{Result: f.Classification}
	if f.ClassifyError != "" {
		cls.Err = errors.New(f.ClassifyError)
	}
	gen := &scripted.Generator{Rounds: make([]scripted.Round, len(f.Rounds))}
	for i, r := range f.Rounds {
		gen.Rounds[i] = r.toRound()
	}
	return scripted.Oracle{Classifier: cls, Generator: gen}
}

func (r FixtureRound) toRound() scripted.Round {
	if r.Error != "" && len(r.Text) == 0 && len(r.Calls) == 0 {
		return scripted.Round{Err: errors.New(r.Error)}
	}
	out := scripted.Text(r.Text...)
	if len(r.Calls) > 0 {
		calls := make([]oracle.ToolCall, len(r.Calls))
		for i, c := range r.Calls {
			calls[i] = oracle.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Args}
		}
		out.Chunks = append(out.Chunks, oracle.Chunk{ToolCalls: calls})
	}
	if r.Error != "" {
		out.StreamErr = errors.New(r.Error)
	}
	return out
}

// #endregion fixture-loader
