// Package replay runs recorded questions through the full pipeline against
// scripted oracles and in-memory sources, and compares the outcome with
// what the fixture expects.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/sheetwise/internal/oracle"
	"github.com/danielpatrickdp/sheetwise/internal/orchestrator"
)

// #region types

// Result captures the outcome of replaying one fixture.
type Result struct {
	Name          string
	Run           *orchestrator.Run
	Err           error
	Streamed      string
	ToolEvents    []string
	ProviderCalls map[string]int
	OracleRounds  int
	Diffs         []string
}

// Passed reports whether the replay matched every expectation.
func (r Result) Passed() bool { return len(r.Diffs) == 0 }

// Summary aggregates a replay batch.
type Summary struct {
	Total  int
	Passed int
	Failed int
}

// #endregion types

// #region sources

// sourceTable serves fixture rows and counts provider calls.
type sourceTable struct {
	rows   map[string][][]any
	errors map[string]string

	mu    sync.Mutex
	calls map[string]int
}

func (s *sourceTable) Rows(ctx context.Context, source string) ([][]any, error) {
	s.mu.Lock()
	s.calls[source]++
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg, ok := s.errors[source]; ok {
		return nil, errors.New(msg)
	}
	return s.rows[source], nil
}

func (s *sourceTable) snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.calls))
	for k, v := range s.calls {
		out[k] = v
	}
	return out
}

// transcript records what a client would have seen.
type transcript struct {
	text   strings.Builder
	events []string
}

func (t *transcript) SendToken(token string) error {
	t.text.WriteString(token)
	return nil
}

func (t *transcript) SendToolStart(name string) error {
	t.events = append(t.events, "start:"+name)
	return nil
}

func (t *transcript) SendToolEnd(name, errMsg string) error {
	ev := "end:" + name
	if errMsg != "" {
		ev += ":error"
	}
	t.events = append(t.events, ev)
	return nil
}

// #endregion sources

// #region replay

// Replay runs one fixture through a fresh orchestrator. Each replay gets its
// own cache, so fixtures are independent.
func Replay(ctx context.Context, name string, f *Fixture, logger *logrus.Logger) (Result, error) {
	cat, err := f.ToCatalog()
	if err != nil {
		return Result{}, fmt.Errorf("fixture %s: %w", name, err)
	}
	or := f.ToOracle()
	src := &sourceTable{rows: f.Sources, errors: f.SourceErrors, calls: map[string]int{}}
	orch, err := orchestrator.New(orchestrator.Config{
		Catalog:     cat,
		Classifier:  or.Classifier,
		Generator:   or.Generator,
		Fetcher:     src,
		PerRunCache: true,
		MaxSteps:    f.MaxSteps,
		Logger:      logger,
	})
	if err != nil {
		return Result{}, fmt.Errorf("fixture %s: %w", name, err)
	}

	tr := &transcript{}
	run, runErr := orch.Handle(ctx, oracle.Conversation{oracle.UserText(f.Question)}, tr)

	res := Result{
		Name:          name,
		Run:           run,
		Err:           runErr,
		Streamed:      tr.text.String(),
		ToolEvents:    tr.events,
		ProviderCalls: src.snapshot(),
		OracleRounds:  or.Generator.Calls(),
	}
	res.Diffs = Compare(f.Expected, res)
	return res, nil
}

// Compare lists every way res departs from exp.
func Compare(exp FixtureExpectedResult, res Result) []string {
	var diffs []string
	run := res.Run
	if run == nil {
		return []string{"no run produced"}
	}
	if exp.State != "" && string(run.State) != exp.State {
		diffs = append(diffs, fmt.Sprintf("state: want %s, got %s", exp.State, run.State))
	}
	if exp.Answer != "" && run.Answer != exp.Answer {
		diffs = append(diffs, fmt.Sprintf("answer: want %q, got %q", exp.Answer, run.Answer))
	}
	if exp.Error != "" {
		if res.Err == nil {
			diffs = append(diffs, fmt.Sprintf("error: want %q, got none", exp.Error))
		} else if !strings.Contains(res.Err.Error(), exp.Error) {
			diffs = append(diffs, fmt.Sprintf("error: want %q, got %q", exp.Error, res.Err))
		}
	} else if res.Err != nil && exp.State != string(orchestrator.StateFailed) {
		diffs = append(diffs, fmt.Sprintf("error: unexpected %v", res.Err))
	}
	if exp.Selected != nil && !equalStrings(exp.Selected, run.Selection.Names()) {
		diffs = append(diffs, fmt.Sprintf("selected: want %v, got %v", exp.Selected, run.Selection.Names()))
	}
	if exp.Fallback != run.Selection.Fallback {
		diffs = append(diffs, fmt.Sprintf("fallback: want %v, got %v", exp.Fallback, run.Selection.Fallback))
	}
	if exp.Outcomes != nil {
		got := make([]string, len(run.Fetches))
		for i, f := range run.Fetches {
			got[i] = string(f.Outcome)
		}
		if !equalStrings(exp.Outcomes, got) {
			diffs = append(diffs, fmt.Sprintf("outcomes: want %v, got %v", exp.Outcomes, got))
		}
	}
	if exp.ProviderCalls != nil {
		keys := make(map[string]bool)
		for k := range exp.ProviderCalls {
			keys[k] = true
		}
		for k := range res.ProviderCalls {
			keys[k] = true
		}
		names := make([]string, 0, len(keys))
		for k := range keys {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if exp.ProviderCalls[k] != res.ProviderCalls[k] {
				diffs = append(diffs, fmt.Sprintf("provider calls for %s: want %d, got %d", k, exp.ProviderCalls[k], res.ProviderCalls[k]))
			}
		}
	}
	if exp.Rounds != 0 && run.Rounds != exp.Rounds {
		diffs = append(diffs, fmt.Sprintf("rounds: want %d, got %d", exp.Rounds, run.Rounds))
	}
	return diffs
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Passed() {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// #endregion replay
