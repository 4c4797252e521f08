package orchestrator

// #region imports
import (
	"context"
	"sort"
	"strings"

	"github.com/danielpatrickdp/sheetwise/internal/catalog"
	"github.com/danielpatrickdp/sheetwise/internal/errs"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

// #endregion

// #region fallback

const (
	// FallbackReason marks candidates chosen by the summary-length heuristic.
	FallbackReason = "Fallback heuristic: rich summary"
	// FallbackCount is how many sources the heuristic picks.
	FallbackCount = 5
)

// fallbackCandidates picks the sources with the longest summaries. Ties keep
// catalog order.
func fallbackCandidates(c *catalog.Catalog) []oracle.Candidate {
	entries := c.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].Summary) > len(entries[j].Summary)
	})
	if len(entries) > FallbackCount {
		entries = entries[:FallbackCount]
	}
	out := make([]oracle.Candidate, len(entries))
	for i, e := range entries {
		out[i] = oracle.Candidate{Name: e.Name, Reason: FallbackReason}
	}
	return out
}

// #endregion

// #region selector

// Selector maps a question to candidate sources through the classification oracle.
type Selector struct {
	catalog    *catalog.Catalog
	classifier oracle.Classifier
}

// NewSelector binds a classifier to a catalog.
func NewSelector(c *catalog.Catalog, classifier oracle.Classifier) *Selector {
	return &Selector{catalog: c, classifier: classifier}
}

// Select classifies question. Oracle failures propagate as OracleError; an
// oracle answer with no usable names falls back to the richest catalog summaries. Names are
// not checked against the catalog here: readSource rejects what was not selected.
func (s *Selector) Select(ctx context.Context, question string) (Selection, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Selection{}, errs.ErrEmptyQuestion
	}

	system := classificationPrompt(s.catalog.Summary(), oracle.MaxCandidates)
	result, err := s.classifier.Classify(ctx, system, question)
	if err != nil {
		return Selection{}, &errs.OracleError{Role: "classify", Err: err}
	}
	if err := result.Validate(); err != nil {
		return Selection{}, &errs.OracleError{Role: "classify", Err: err}
	}

	sel := Selection{
		Candidates: dedupe(result.Tabs),
		Reasoning:  result.Reasoning,
	}
	if len(sel.Candidates) == 0 {
		sel.Candidates = fallbackCandidates(s.catalog)
		sel.Fallback = true
	}
	sel.SummaryText = summaryText(sel)
	return sel, nil
}

// #endregion

// #region helpers

// dedupe drops blank and repeated names. Names are kept exactly as the
// oracle sent them, since catalog names are matched verbatim.
func dedupe(in []oracle.Candidate) []oracle.Candidate {
	seen := make(map[string]bool, len(in))
	out := make([]oracle.Candidate, 0, len(in))
	for _, c := range in {
		c.Reason = strings.TrimSpace(c.Reason)
		if strings.TrimSpace(c.Name) == "" || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out
}

// UserQuestion joins the text of every user turn, in order.
func UserQuestion(conv oracle.Conversation) string {
	var parts []string
	for _, t := range conv {
		if t.Role != oracle.RoleUser {
			continue
		}
		if text := strings.TrimSpace(t.Text()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// #endregion
