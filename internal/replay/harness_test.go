package replay

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/danielpatrickdp/sheetwise/internal/logging"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
	"github.com/danielpatrickdp/sheetwise/internal/orchestrator"
)

// helper: a one-source fixture answering after a single read.
func simpleFixture() *Fixture {
	return &Fixture{
		Catalog:        []FixtureSource{{Name: "Revenue", Summary: "• Revenue"}},
		Question:       "What is Q1 revenue?",
		Classification: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}}},
		Rounds: []FixtureRound{
			{Calls: []FixtureCall{{ID: "c1", Name: "readSource", Args: json.RawMessage(`{"name":"Revenue"}`)}}},
			{Text: []string{"Q1 was ", "100."}},
		},
		Sources: map[string][][]any{"Revenue": {{"Q1", 100}}},
		Expected: FixtureExpectedResult{
			State:         "done",
			Answer:        "Q1 was 100.",
			Outcomes:      []string{"fresh"},
			ProviderCalls: map[string]int{"Revenue": 1},
			Rounds:        2,
		},
	}
}

func TestReplay_Passes(t *testing.T) {
	res, err := Replay(context.Background(), "simple", simpleFixture(), logging.Discard())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !res.Passed() {
		t.Fatalf("diffs: %v", res.Diffs)
	}
	if res.Streamed != "Q1 was 100." {
		t.Errorf("streamed = %q", res.Streamed)
	}
	if strings.Join(res.ToolEvents, ",") != "start:readSource,end:readSource" {
		t.Errorf("tool events = %v", res.ToolEvents)
	}
	if res.OracleRounds != 2 {
		t.Errorf("oracle rounds = %d", res.OracleRounds)
	}
}

func TestReplay_ReportsDrift(t *testing.T) {
	f := simpleFixture()
	f.Expected.Answer = "Q1 was 200."
	f.Expected.ProviderCalls = map[string]int{"Revenue": 2}
	f.Expected.Selected = []string{"Opex"}

	res, err := Replay(context.Background(), "drift", f, logging.Discard())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(res.Diffs) != 3 {
		t.Fatalf("expected 3 diffs, got %v", res.Diffs)
	}
}

func TestReplay_BadCatalog(t *testing.T) {
	f := simpleFixture()
	f.Catalog = nil
	if _, err := Replay(context.Background(), "bad", f, logging.Discard()); err == nil {
		t.Fatal("expected catalog error")
	}
}

func TestCompare_UnexpectedError(t *testing.T) {
	run := &orchestrator.Run{State: orchestrator.StateDone}
	diffs := Compare(FixtureExpectedResult{State: "done"}, Result{Run: run, Err: context.Canceled})
	if len(diffs) != 1 || !strings.Contains(diffs[0], "unexpected") {
		t.Errorf("diffs = %v", diffs)
	}
	if d := Compare(FixtureExpectedResult{}, Result{}); len(d) != 1 {
		t.Errorf("nil run diffs = %v", d)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Result{{}, {Diffs: []string{"x"}}, {}})
	if s.Total != 3 || s.Passed != 2 || s.Failed != 1 {
		t.Errorf("summary = %+v", s)
	}
}
