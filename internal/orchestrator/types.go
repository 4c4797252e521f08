package orchestrator

// #region imports
import (
	"context"
	"fmt"
	"time"

	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

// #endregion

// #region state

// State is a run's position in the answer pipeline.
type State string

const (
	StateSelecting State = "selecting"
	StateToolPhase State = "tool_phase"
	StateAnswering State = "answering"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

var transitions = map[State][]State{
	StateSelecting: {StateToolPhase, StateFailed},
	StateToolPhase: {StateAnswering, StateFailed},
	StateAnswering: {StateDone, StateFailed},
}

// CanTransition reports whether to is a legal next state. Done and Failed are terminal.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// #endregion

// #region fetch-outcome

// FetchOutcome classifies one readSource invocation.
type FetchOutcome string

const (
	OutcomeCached   FetchOutcome = "cached"
	OutcomeFresh    FetchOutcome = "fresh"
	OutcomeEmpty    FetchOutcome = "empty"
	OutcomeRejected FetchOutcome = "rejected"
	OutcomeError    FetchOutcome = "error"
)

// #endregion

// #region fetch-result

// FetchResult is what the generation oracle sees for a readSource call.
// Data is only ever set from a real fetch or cache hit.
type FetchResult struct {
	Name        string       `json:"name"`
	Purpose     string       `json:"purpose,omitempty"`
	Outcome     FetchOutcome `json:"outcome"`
	Success     bool         `json:"success"`
	Cached      bool         `json:"cached"`
	Data        string       `json:"data,omitempty"`
	RowCount    int          `json:"rowCount"`
	ApproxChars int          `json:"approxChars"`
	Message     string       `json:"message,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// #endregion

// #region selection

// Selection is the Selector's output for one question.
type Selection struct {
	Candidates  []oracle.Candidate
	SummaryText string
	Reasoning   string
	Fallback    bool
}

// Names returns the candidate names in selection order.
func (s Selection) Names() []string {
	names := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		names[i] = c.Name
	}
	return names
}

// #endregion

// #region run

// Run is the record of one question through the pipeline.
type Run struct {
	ID           string
	Question     string
	State        State
	Selection    Selection
	Fetches      []FetchResult
	Answer       string
	Rounds       int
	Conversation oracle.Conversation
	Err          error
	StartedAt    time.Time
	FinishedAt   time.Time
}

// #endregion

// #region run-error

// RunError is returned when a run ends in Failed. It unwraps to the cause,
// so errors.Is matches the errs sentinels.
type RunError struct {
	RunID string
	State State // state the run was in when it failed
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed in %s: %v", e.RunID, e.State, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// #endregion

// #region interfaces

// Fetcher returns the raw rows of one source.
type Fetcher interface {
	Rows(ctx context.Context, source string) ([][]any, error)
}

// TokenStreamer receives answer text as it is produced.
type TokenStreamer interface {
	SendToken(token string) error
}

// ToolEventStreamer is an optional extension of TokenStreamer. Streamers that
// implement it receive a start and end event around every readSource call.
type ToolEventStreamer interface {
	SendToolStart(toolName string) error
	SendToolEnd(toolName string, errMsg string) error
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, run *Run) error
}

// #endregion
