package provenance

import "time"

// #region run-record

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID      string
	Question   string
	State      string // "done" | "failed"
	Error      string
	Sources    []SourceRecord
	Fallback   bool
	Answer     string
	Rounds     int
	CreatedAt  time.Time
	FinishedAt time.Time
	Fetches    []FetchRecord // only populated by GetRun
}

// SourceRecord is one selected source as stored in candidates_json.
type SourceRecord struct {
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// #endregion run-record

// #region fetch-record

// FetchRecord is one readSource invocation within a run.
type FetchRecord struct {
	Seq         int
	Source      string
	Purpose     string
	Outcome     string // "cached" | "fresh" | "empty" | "rejected" | "error"
	RowCount    int
	ApproxChars int
	Error       string
}

// #endregion fetch-record

// #region stats

// Stats aggregates the run log.
type Stats struct {
	Runs     map[string]int // by state
	Fetches  map[string]int // by outcome
	Fallback int
}

// #endregion stats
