package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/danielpatrickdp/sheetwise/internal/cache"
	"github.com/danielpatrickdp/sheetwise/internal/catalog"
	"github.com/danielpatrickdp/sheetwise/internal/errs"
	"github.com/danielpatrickdp/sheetwise/internal/logging"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
	"github.com/danielpatrickdp/sheetwise/internal/oracle/scripted"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region fakes

type fakeFetcher struct {
	mu    sync.Mutex
	rows  map[string][][]any
	errs  map[string]error
	calls map[string]int
}

func newFakeFetcher(rows map[string][][]any) *fakeFetcher {
	return &fakeFetcher{rows: rows, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Rows(ctx context.Context, source string) ([][]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[source]++
	if err := f.errs[source]; err != nil {
		return nil, err
	}
	return f.rows[source], nil
}

func (f *fakeFetcher) Calls(source string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[source]
}

type recordingStreamer struct {
	tokens []string
	events []string
}

func (s *recordingStreamer) SendToken(token string) error {
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *recordingStreamer) SendToolStart(name string) error {
	s.events = append(s.events, "start:"+name)
	return nil
}

func (s *recordingStreamer) SendToolEnd(name, errMsg string) error {
	s.events = append(s.events, "end:"+name+":"+errMsg)
	return nil
}

type memRecorder struct {
	runs []*Run
}

func (r *memRecorder) Record(ctx context.Context, run *Run) error {
	r.runs = append(r.runs, run)
	return nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Entry{
		{Name: "Revenue", Summary: "• Revenue by month and product line"},
		{Name: "Opex", Summary: "• Operating expenses"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func newTestOrchestrator(t *testing.T, cls *scripted.Classifier, gen *scripted.Generator, f Fetcher, c *cache.Cache, rec Recorder) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Catalog:    testCatalog(t),
		Classifier: cls,
		Generator:  gen,
		Fetcher:    f,
		Cache:      c,
		Recorder:   rec,
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func question(text string) oracle.Conversation {
	return oracle.Conversation{oracle.UserText(text)}
}

func decodeResult(t *testing.T, content string) FetchResult {
	t.Helper()
	var res FetchResult
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		t.Fatalf("decode tool result %q: %v", content, err)
	}
	return res
}

// #endregion

// #region end-to-end

func TestHandle_EndToEnd(t *testing.T) {
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}}}}
	gen := &scripted.Generator{Rounds: []scripted.Round{
		scripted.Calls(scripted.ReadCall("c1", ReadSourceTool, "Revenue", "Q1 revenue")),
		scripted.Text("Q1 revenue ", "was 1.2M."),
	}}
	f := newFakeFetcher(map[string][][]any{
		"Revenue": {{"Quarter", "Revenue"}, {"Q1", 1200000.0}},
	})
	rec := &memRecorder{}
	o := newTestOrchestrator(t, cls, gen, f, cache.New(), rec)
	s := &recordingStreamer{}

	run, err := o.Handle(context.Background(), question("What is Q1 revenue?"), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(s.tokens, ""); got != "Q1 revenue was 1.2M." {
		t.Errorf("streamed %q", got)
	}
	if len(s.tokens) != 2 {
		t.Errorf("expected chunks forwarded as they arrive, got %v", s.tokens)
	}
	if run.Answer != "Q1 revenue was 1.2M." || run.State != StateDone {
		t.Errorf("answer=%q state=%s", run.Answer, run.State)
	}
	if f.Calls("Revenue") != 1 {
		t.Errorf("expected one provider call, got %d", f.Calls("Revenue"))
	}
	if run.Rounds != 2 || gen.Calls() != 2 {
		t.Errorf("rounds=%d generator calls=%d", run.Rounds, gen.Calls())
	}
	if len(s.events) != 2 || s.events[0] != "start:readSource" || s.events[1] != "end:readSource:" {
		t.Errorf("tool events %v", s.events)
	}

	// user, assistant(tool call), tool(result), assistant(answer)
	if len(run.Conversation) != 4 {
		t.Fatalf("conversation has %d turns", len(run.Conversation))
	}
	toolTurn := run.Conversation[2]
	if toolTurn.Role != oracle.RoleTool || toolTurn.Segments[0].Result.CallID != "c1" {
		t.Errorf("unexpected tool turn %+v", toolTurn)
	}
	res := decodeResult(t, toolTurn.Segments[0].Result.Content)
	if res.Outcome != OutcomeFresh || res.Data != "Quarter,Revenue\nQ1,1200000" || res.RowCount != 2 {
		t.Errorf("unexpected fetch result %+v", res)
	}

	if len(rec.runs) != 1 || rec.runs[0].ID != run.ID {
		t.Errorf("expected run recorded once")
	}
}

func TestHandle_ToolGating(t *testing.T) {
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}, {Name: "Opex"}}}}
	gen := &scripted.Generator{Rounds: []scripted.Round{
		scripted.Calls(scripted.ReadCall("c1", ReadSourceTool, "Revenue", "")),
		scripted.Calls(scripted.ReadCall("c2", ReadSourceTool, "Opex", "")),
		scripted.Text("done"),
	}}
	f := newFakeFetcher(map[string][][]any{"Revenue": {{"a"}}, "Opex": {{"b"}}})
	o := newTestOrchestrator(t, cls, gen, f, cache.New(), nil)

	if _, err := o.Handle(context.Background(), question("Compare revenue and opex"), nil); err != nil {
		t.Fatal(err)
	}
	reqs := gen.Requests()
	want := []bool{true, true, false}
	for i, w := range want {
		if reqs[i].RequireTool != w {
			t.Errorf("round %d RequireTool=%v, want %v", i+1, reqs[i].RequireTool, w)
		}
	}
	if !strings.Contains(reqs[0].System, "- Revenue") || !strings.Contains(reqs[0].System, "- Opex") {
		t.Errorf("system instruction must list selected sources:\n%s", reqs[0].System)
	}
	if len(reqs[0].Tools) != 1 || reqs[0].Tools[0].Name != ReadSourceTool {
		t.Errorf("expected exactly the readSource tool, got %+v", reqs[0].Tools)
	}
}

// #endregion

// #region fetch-outcomes

func TestHandle_RejectsUnapprovedSource(t *testing.T) {
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}}}}
	gen := &scripted.Generator{Rounds: []scripted.Round{
		scripted.Calls(scripted.ReadCall("c1", ReadSourceTool, "Opex", "sneaky")),
		scripted.Text("I could not read Opex."),
	}}
	f := newFakeFetcher(map[string][][]any{"Opex": {{"x"}}})
	o := newTestOrchestrator(t, cls, gen, f, cache.New(), nil)

	run, err := o.Handle(context.Background(), question("opex?"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if f.Calls("Opex") != 0 {
		t.Errorf("rejected source must not reach the provider, got %d calls", f.Calls("Opex"))
	}
	if len(run.Fetches) != 1 || run.Fetches[0].Outcome != OutcomeRejected || run.Fetches[0].Success {
		t.Errorf("unexpected fetches %+v", run.Fetches)
	}
	if run.Fetches[0].Data != "" {
		t.Error("rejected result must carry no data")
	}
}

func TestHandle_CacheHitAvoidsRefetch(t *testing.T) {
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}}}}
	gen := &scripted.Generator{Rounds: []scripted.Round{
		scripted.Calls(scripted.ReadCall("c1", ReadSourceTool, "Revenue", "")),
		scripted.Calls(scripted.ReadCall("c2", ReadSourceTool, "Revenue", "again")),
		scripted.Text("ok"),
	}}
	f := newFakeFetcher(map[string][][]any{"Revenue": {{"Q1", 1.5}, {}, {}, {"Q2", 2}}})
	o := newTestOrchestrator(t, cls, gen, f, cache.New(), nil)

	run, err := o.Handle(context.Background(), question("revenue?"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if f.Calls("Revenue") != 1 {
		t.Fatalf("expected exactly one provider call, got %d", f.Calls("Revenue"))
	}
	first, second := run.Fetches[0], run.Fetches[1]
	if first.Outcome != OutcomeFresh || first.Cached {
		t.Errorf("first fetch %+v", first)
	}
	if second.Outcome != OutcomeCached || !second.Cached {
		t.Errorf("second fetch %+v", second)
	}
	if first.Data != second.Data || first.RowCount != second.RowCount || first.ApproxChars != second.ApproxChars {
		t.Errorf("cached record differs: %+v vs %+v", first, second)
	}
	if first.RowCount != 4 {
		t.Errorf("row count counts raw rows, got %d", first.RowCount)
	}
}

func TestHandle_EmptyNotCached(t *testing.T) {
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Opex"}}}}
	gen := &scripted.Generator{Rounds: []scripted.Round{
		scripted.Calls(scripted.ReadCall("c1", ReadSourceTool, "Opex", "")),
		scripted.Calls(scripted.ReadCall("c2", ReadSourceTool, "Opex", "")),
		scripted.Text("Opex tab is empty."),
	}}
	f := newFakeFetcher(map[string][][]any{})
	c := cache.New()
	o := newTestOrchestrator(t, cls, gen, f, c, nil)

	run, err := o.Handle(context.Background(), question("opex?"), nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, fr := range run.Fetches {
		if fr.Outcome != OutcomeEmpty || fr.Success {
			t.Errorf("fetch %d: %+v", i, fr)
		}
	}
	if _, ok := c.Get("Opex"); ok {
		t.Error("empty result must not be cached")
	}
	if f.Calls("Opex") != 2 {
		t.Errorf("expected the second call to re-invoke the provider, got %d calls", f.Calls("Opex"))
	}
}

func TestHandle_FetchErrorReportedToOracle(t *testing.T) {
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}}}}
	gen := &scripted.Generator{Rounds: []scripted.Round{
		scripted.Calls(scripted.ReadCall("c1", ReadSourceTool, "Revenue", "")),
		scripted.Text("Revenue data is unavailable."),
	}}
	f := newFakeFetcher(nil)
	f.errs["Revenue"] = &errs.TransportError{Op: "values.get", Err: errors.New("503")}
	c := cache.New()
	s := &recordingStreamer{}
	o := newTestOrchestrator(t, cls, gen, f, c, nil)

	run, err := o.Handle(context.Background(), question("revenue?"), s)
	if err != nil {
		t.Fatalf("transport failure must not abort the run: %v", err)
	}
	fr := run.Fetches[0]
	if fr.Outcome != OutcomeError || fr.Success || fr.Data != "" || !strings.Contains(fr.Error, "503") {
		t.Errorf("unexpected fetch %+v", fr)
	}
	if c.Len() != 0 {
		t.Error("failed fetch must not be cached")
	}
	if s.events[1] == "end:readSource:" {
		t.Error("tool end event should carry the error")
	}
	second := gen.Requests()[1].Conversation
	last := second[len(second)-1]
	if !last.Segments[0].Result.IsError {
		t.Error("tool result should be flagged as error")
	}
}

func TestHandle_MalformedArguments(t *testing.T) {
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}}}}
	gen := &scripted.Generator{Rounds: []scripted.Round{
		scripted.Calls(
			oracle.ToolCall{ID: "c1", Name: ReadSourceTool, Arguments: json.RawMessage(`{not json`)},
			oracle.ToolCall{ID: "c2", Name: "deleteSheet", Arguments: json.RawMessage(`{}`)},
		),
		scripted.Text("sorry"),
	}}
	f := newFakeFetcher(nil)
	o := newTestOrchestrator(t, cls, gen, f, cache.New(), nil)

	run, err := o.Handle(context.Background(), question("revenue?"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Fetches) != 2 || run.Fetches[0].Outcome != OutcomeError || run.Fetches[1].Outcome != OutcomeError {
		t.Errorf("unexpected fetches %+v", run.Fetches)
	}
	if f.Calls("Revenue") != 0 {
		t.Error("malformed calls must not fetch")
	}
}

func TestHandle_PerRunCache(t *testing.T) {
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}}}}
	gen := &scripted.Generator{Rounds: []scripted.Round{
		scripted.Calls(scripted.ReadCall("c1", ReadSourceTool, "Revenue", "")),
		scripted.Text("ok"),
		scripted.Calls(scripted.ReadCall("c2", ReadSourceTool, "Revenue", "")),
		scripted.Text("ok"),
	}}
	f := newFakeFetcher(map[string][][]any{"Revenue": {{"a"}}})
	o, err := New(Config{
		Catalog: testCatalog(t), Classifier: cls, Generator: gen, Fetcher: f,
		PerRunCache: true, Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := o.Handle(context.Background(), question("revenue?"), nil); err != nil {
			t.Fatal(err)
		}
	}
	if f.Calls("Revenue") != 2 {
		t.Errorf("per-run cache must not leak across runs, got %d calls", f.Calls("Revenue"))
	}
}

// #endregion

// #region failures

func TestHandle_StepBudgetExceeded(t *testing.T) {
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}}}}
	gen := &scripted.Generator{
		Rounds: []scripted.Round{scripted.Calls(scripted.ReadCall("", ReadSourceTool, "Revenue", ""))},
		Repeat: true,
	}
	f := newFakeFetcher(map[string][][]any{"Revenue": {{"a"}}})
	rec := &memRecorder{}
	o := newTestOrchestrator(t, cls, gen, f, cache.New(), rec)

	run, err := o.Handle(context.Background(), question("revenue?"), nil)
	if !errors.Is(err, errs.ErrStepBudgetExceeded) {
		t.Fatalf("expected step budget error, got %v", err)
	}
	if errors.Is(err, errs.ErrOracle) {
		t.Error("budget exhaustion must be distinguishable from oracle failure")
	}
	var re *RunError
	if !errors.As(err, &re) || re.State != StateToolPhase {
		t.Errorf("expected RunError in tool phase, got %#v", err)
	}
	if gen.Calls() != DefaultMaxSteps || run.Rounds != DefaultMaxSteps {
		t.Errorf("expected exactly %d rounds, got calls=%d rounds=%d", DefaultMaxSteps, gen.Calls(), run.Rounds)
	}
	if run.State != StateFailed {
		t.Errorf("state = %s", run.State)
	}
	if len(rec.runs) != 1 || rec.runs[0].State != StateFailed {
		t.Error("failed run should be recorded")
	}
}

func TestHandle_EmptyQuestion(t *testing.T) {
	cls := &scripted.Classifier{}
	gen := &scripted.Generator{}
	o := newTestOrchestrator(t, cls, gen, newFakeFetcher(nil), cache.New(), nil)

	_, err := o.Handle(context.Background(), question("   "), nil)
	if !errors.Is(err, errs.ErrEmptyQuestion) {
		t.Fatalf("expected empty question error, got %v", err)
	}
	if cls.Calls() != 0 || gen.Calls() != 0 {
		t.Error("no oracle call expected for an empty question")
	}
}

func TestHandle_ClassifyFailure(t *testing.T) {
	cls := &scripted.Classifier{Err: errors.New("rate limited")}
	gen := &scripted.Generator{}
	o := newTestOrchestrator(t, cls, gen, newFakeFetcher(nil), cache.New(), nil)

	_, err := o.Handle(context.Background(), question("revenue?"), nil)
	var oe *errs.OracleError
	if !errors.As(err, &oe) || oe.Role != "classify" {
		t.Fatalf("expected classify oracle error, got %v", err)
	}
	if gen.Calls() != 0 {
		t.Error("generation must not start after a classify failure")
	}
}

func TestHandle_GenerateFailsMidStream(t *testing.T) {
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}}}}
	boom := errors.New("connection reset")
	gen := &scripted.Generator{Rounds: []scripted.Round{
		{Chunks: []oracle.Chunk{{Text: "Q1 rev"}}, StreamErr: boom},
	}}
	o := newTestOrchestrator(t, cls, gen, newFakeFetcher(nil), cache.New(), nil)

	run, err := o.Handle(context.Background(), question("revenue?"), nil)
	if !errors.Is(err, errs.ErrOracle) || !errors.Is(err, boom) {
		t.Fatalf("expected generate oracle error, got %v", err)
	}
	if run.Answer != "" {
		t.Errorf("failed run must not report an answer, got %q", run.Answer)
	}
}

func TestHandle_CancelledContext(t *testing.T) {
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}}}}
	gen := &scripted.Generator{Rounds: []scripted.Round{scripted.Text("never")}}
	o := newTestOrchestrator(t, cls, gen, newFakeFetcher(nil), cache.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Handle(ctx, question("revenue?"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type cancellingFetcher struct {
	cancel context.CancelFunc
}

func (f *cancellingFetcher) Rows(ctx context.Context, source string) ([][]any, error) {
	f.cancel()
	return [][]any{{"late"}}, nil
}

func TestHandle_CancelledFetchNotCached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cls := &scripted.Classifier{Result: oracle.Classification{Tabs: []oracle.Candidate{{Name: "Revenue"}}}}
	gen := &scripted.Generator{Rounds: []scripted.Round{
		scripted.Calls(scripted.ReadCall("c1", ReadSourceTool, "Revenue", "")),
		scripted.Text("unreachable"),
	}}
	c := cache.New()
	o := newTestOrchestrator(t, cls, gen, &cancellingFetcher{cancel: cancel}, c, nil)

	_, err := o.Handle(ctx, question("revenue?"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("cancelled run must not write to the shared cache")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

// #endregion

// #region state-machine

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateSelecting, StateToolPhase, true},
		{StateToolPhase, StateAnswering, true},
		{StateAnswering, StateDone, true},
		{StateSelecting, StateFailed, true},
		{StateToolPhase, StateFailed, true},
		{StateSelecting, StateAnswering, false},
		{StateDone, StateFailed, false},
		{StateFailed, StateSelecting, false},
		{StateAnswering, StateToolPhase, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestMergeToolCalls(t *testing.T) {
	calls := mergeToolCalls(nil, []oracle.ToolCall{{ID: "a"}, {ID: ""}})
	calls = mergeToolCalls(calls, []oracle.ToolCall{{ID: "a"}, {ID: "b"}})
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	if calls[1].ID == "" {
		t.Error("missing IDs should be filled in")
	}
}

// #endregion
