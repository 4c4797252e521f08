// Package mindmap builds the source catalog by asking the generation oracle
// to summarize each exported tab.
package mindmap

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/sheetwise/internal/catalog"
	"github.com/danielpatrickdp/sheetwise/internal/export"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

const (
	InstructionsTab = "Instructions"

	NoDataSummary = "• No useful data - tab appears to be empty or contains only error values"
	ErrorSummary  = "• Error occurred during analysis - unable to process this tab"

	MaxWords     = 30000
	minChars     = 50
	DefaultPause = 500 * time.Millisecond
)

// Result is the outcome of one generation pass.
type Result struct {
	Entries []catalog.Entry
	// Analyzed holds only tabs that produced a model summary, in order.
	Analyzed    []catalog.Entry
	GeneratedAt time.Time
}

// Generator summarizes tabs one at a time.
type Generator struct {
	oracle oracle.Generator
	pause  time.Duration
	logger *logrus.Logger
	now    func() time.Time
}

// New creates a Generator pacing calls by pause.
func New(gen oracle.Generator, pause time.Duration, logger *logrus.Logger) *Generator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Generator{oracle: gen, pause: pause, logger: logger, now: time.Now}
}

// Run summarizes every tab except the instructions tab, which is passed
// along as context instead.
func (g *Generator) Run(ctx context.Context, tabs []export.Tab) (Result, error) {
	var instructions string
	for _, t := range tabs {
		if t.Name == InstructionsTab {
			instructions = t.CSV
			break
		}
	}

	res := Result{}
	for _, t := range tabs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if t.Name == InstructionsTab {
			continue
		}
		log := g.logger.WithField("tab", t.Name)

		if !hasData(t.CSV) {
			log.Info("[MINDMAP] no useful data")
			res.Entries = append(res.Entries, catalog.Entry{Name: t.Name, Summary: NoDataSummary})
			continue
		}

		summary, err := g.summarize(ctx, instructions, t)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			log.WithError(err).Warn("[MINDMAP] analysis failed")
			res.Entries = append(res.Entries, catalog.Entry{Name: t.Name, Summary: ErrorSummary})
			continue
		}
		entry := catalog.Entry{Name: t.Name, Summary: summary}
		res.Entries = append(res.Entries, entry)
		res.Analyzed = append(res.Analyzed, entry)
		log.WithField("preview", firstLine(summary)).Info("[MINDMAP] analysis complete")

		if g.pause > 0 {
			select {
			case <-time.After(g.pause):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
	}
	res.GeneratedAt = g.now()
	return res, nil
}

func (g *Generator) summarize(ctx context.Context, instructions string, t export.Tab) (string, error) {
	st, err := g.oracle.Generate(ctx, oracle.Request{
		Conversation: oracle.Conversation{oracle.UserText(Prompt(instructions, t.Name, Truncate(t.CSV)))},
	})
	if err != nil {
		return "", err
	}
	defer st.Close()
	text, _, err := oracle.Collect(st)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty summary")
	}
	return text, nil
}

func hasData(csv string) bool {
	trimmed := strings.TrimSpace(csv)
	return len(trimmed) >= minChars && len(strings.Split(csv, "\n")) > 1
}

// Truncate caps text at MaxWords whitespace-separated words.
func Truncate(text string) string {
	words := strings.Fields(text)
	if len(words) <= MaxWords {
		return text
	}
	return strings.Join(words[:MaxWords], " ") +
		fmt.Sprintf("\n# TRUNCATED: original words %d, kept %d (≈120k tokens of 131k context)", len(words), MaxWords)
}

// Prompt is the per-tab summarization request.
func Prompt(instructions, tab, csv string) string {
	return fmt.Sprintf(`You are analyzing a financial spreadsheet tab from a startup's financial model.

CONTEXT FROM INSTRUCTIONS:
%s

TAB NAME: %s
CSV CONTENT:
%s

TASK: Generate a concise bullet-point summary (3-5 bullets max) of what this tab contains and what financial information it represents. Focus on:
- What type of financial data is shown (P&L, cash flow, KPIs, etc.)
- Key metrics or categories present
- Time periods covered
- Purpose of this data in the financial model

If the tab name matches any tab mentioned in the instructions, use that context to enhance your analysis.

Respond with ONLY bullet points starting with "•", be specific and concise. If there's insufficient meaningful data, respond with "• Inconclusive data - insufficient information to determine content"`, instructions, tab, csv)
}

// Markdown renders the human-readable analysis.
func Markdown(res Result) string {
	var b strings.Builder
	b.WriteString("# Financial Spreadsheet Analysis\n\n")
	b.WriteString("This document contains an AI-generated analysis of each tab in the financial spreadsheet, describing the type of data and content present in each section.\n\n")
	fmt.Fprintf(&b, "Generated on: %s\n\n", res.GeneratedAt.UTC().Format(time.RFC3339))
	for _, e := range res.Analyzed {
		fmt.Fprintf(&b, "## %s\n%s\n\n", e.Name, e.Summary)
	}
	b.WriteString("---\n*This analysis was generated automatically to create a lookup reference for understanding the content and purpose of each spreadsheet tab.*\n")
	return b.String()
}

// Write stores the catalog document and the markdown analysis.
func Write(res Result, catalogPath, markdownPath string) error {
	if err := catalog.Write(catalogPath, res.Entries, res.GeneratedAt); err != nil {
		return err
	}
	if markdownPath == "" {
		return nil
	}
	if err := os.WriteFile(markdownPath, []byte(Markdown(res)), 0o644); err != nil {
		return fmt.Errorf("write analysis: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
