package orchestrator

// #region imports
import (
	"fmt"
	"strings"
)

// #endregion

// #region classification-prompt

const classificationPreamble = `You route financial questions to spreadsheet tabs.

Available tabs (name: summary):
%s

Return the smallest set of tabs whose data is needed to answer the user's question, most relevant first, at most %d.
Use tab names exactly as listed. Give a short reason for each tab and one sentence of overall reasoning.`

func classificationPrompt(catalogSummary string, maxTabs int) string {
	return fmt.Sprintf(classificationPreamble, catalogSummary, maxTabs)
}

// #endregion

// #region answer-prompt

const answerPreamble = `You are a CFO-level financial analyst answering questions from the company's financial model.

Selected tabs for this question:
%s

Rules:
- You MUST call the %s tool once for every selected tab before answering. Only the tabs listed above are available.
- Answer only from data returned by the tool. Do NOT fabricate or estimate metrics that were not returned.
- If a tab could not be read or is empty, say so and state the limitation.
- Cite tab names for every figure you use.

Structure the final answer as:
1. Direct answer
2. Supporting metrics (tab | metric | period)
3. Interpretation
4. Risks and caveats
5. Next actions`

func answerPrompt(summaryText string) string {
	return fmt.Sprintf(answerPreamble, summaryText, ReadSourceTool)
}

// #endregion

// #region summary-text

// summaryText renders candidates as "- name (reason)" lines, or "- name"
// when no reason was given.
func summaryText(s Selection) string {
	lines := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		if c.Reason != "" {
			lines[i] = fmt.Sprintf("- %s (%s)", c.Name, c.Reason)
		} else {
			lines[i] = "- " + c.Name
		}
	}
	return strings.Join(lines, "\n")
}

// #endregion
