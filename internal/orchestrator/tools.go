package orchestrator

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/sheetwise/internal/cache"
	"github.com/danielpatrickdp/sheetwise/internal/errs"
	"github.com/danielpatrickdp/sheetwise/internal/normalize"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

// #endregion

// #region definition

// ReadSourceTool is the single capability exposed to the generation oracle.
const ReadSourceTool = "readSource"

// ReadSourceDefinition describes readSource to the generation oracle.
func ReadSourceDefinition() oracle.ToolDefinition {
	return oracle.ToolDefinition{
		Name:        ReadSourceTool,
		Description: "Fetch and return cleaned CSV data for one selected spreadsheet tab",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Exact tab name to read",
				},
				"purpose": map[string]any{
					"type":        "string",
					"description": "Why this tab is being read for the user question",
				},
			},
			"required": []any{"name", "purpose"},
		},
	}
}

type readSourceArgs struct {
	Name    string `json:"name"`
	TabName string `json:"tabName"`
	Purpose string `json:"purpose"`
}

// #endregion

// #region reader

// sourceReader executes readSource for one run. It is bound to the run's
// approved selection and the cache in effect for the run.
type sourceReader struct {
	approved  map[string]bool
	attempted map[string]bool
	order     []string
	cache     *cache.Cache
	fetcher   Fetcher
	log       *logrus.Entry
}

func newSourceReader(sel Selection, c *cache.Cache, f Fetcher, log *logrus.Entry) *sourceReader {
	r := &sourceReader{
		approved:  make(map[string]bool, len(sel.Candidates)),
		attempted: make(map[string]bool, len(sel.Candidates)),
		cache:     c,
		fetcher:   f,
		log:       log,
	}
	for _, cand := range sel.Candidates {
		if !r.approved[cand.Name] {
			r.approved[cand.Name] = true
			r.order = append(r.order, cand.Name)
		}
	}
	return r
}

// pending lists approved sources not yet requested, in selection order.
func (r *sourceReader) pending() []string {
	var out []string
	for _, name := range r.order {
		if !r.attempted[name] {
			out = append(out, name)
		}
	}
	return out
}

// execute runs one tool call. It never returns an error: failures are
// reported back to the oracle inside the result.
func (r *sourceReader) execute(ctx context.Context, call oracle.ToolCall) FetchResult {
	if call.Name != ReadSourceTool {
		return FetchResult{
			Outcome: OutcomeError,
			Error:   fmt.Sprintf("unknown tool %q", call.Name),
		}
	}
	var args readSourceArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return FetchResult{
			Outcome: OutcomeError,
			Error:   fmt.Sprintf("invalid arguments: %v", err),
		}
	}
	if args.Name == "" {
		args.Name = args.TabName
	}
	if args.Name == "" {
		return FetchResult{Outcome: OutcomeError, Error: "invalid arguments: name is required"}
	}
	return r.read(ctx, args.Name, args.Purpose)
}

func (r *sourceReader) read(ctx context.Context, name, purpose string) FetchResult {
	res := FetchResult{Name: name, Purpose: purpose}

	if !r.approved[name] {
		res.Outcome = OutcomeRejected
		res.Error = errs.ErrUnapprovedSource.Error()
		r.log.WithField("source", name).Warn("[TOOL] rejected unapproved source")
		return res
	}
	r.attempted[name] = true

	if rec, ok := r.cache.Get(name); ok {
		res.Outcome = OutcomeCached
		res.Success = true
		res.Cached = true
		res.Data = rec.Data
		res.RowCount = rec.RowCount
		res.ApproxChars = rec.ApproxChars
		return res
	}

	rows, err := r.fetcher.Rows(ctx, name)
	if err != nil {
		res.Outcome = OutcomeError
		res.Error = fetchErrorMessage(err)
		r.log.WithError(err).WithField("source", name).Warn("[TOOL] fetch failed")
		return res
	}
	if len(rows) == 0 {
		res.Outcome = OutcomeEmpty
		res.Message = "Tab empty"
		return res
	}

	data := normalize.Rows(rows)
	rec := cache.Record{
		Data:        data,
		RowCount:    len(rows),
		ApproxChars: utf8.RuneCountInString(data),
	}
	// A run whose deadline passed mid-fetch must not leave records behind.
	if ctx.Err() == nil {
		r.cache.Put(name, rec)
	}
	res.Outcome = OutcomeFresh
	res.Success = true
	res.Data = rec.Data
	res.RowCount = rec.RowCount
	res.ApproxChars = rec.ApproxChars
	return res
}

// #endregion

// #region helpers

func fetchErrorMessage(err error) string {
	switch {
	case errors.Is(err, errs.ErrConfiguration):
		return "configuration error: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "fetch aborted: " + err.Error()
	default:
		return err.Error()
	}
}

// toolContent is the tool-result text handed back to the oracle.
func toolContent(res FetchResult) string {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf(`{"name":%q,"outcome":"error","success":false,"error":"encode result"}`, res.Name)
	}
	return string(b)
}

// #endregion
