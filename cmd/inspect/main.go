package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/sheetwise/internal/provenance"
)

var (
	dbPath  string
	last    int
	runID   string
	stats   bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect recorded runs",
	Long: `Reads the run log written by controller and server.

Examples:
  inspect --db sheetwise.db
  inspect --db sheetwise.db --last 50 --json
  inspect --db sheetwise.db --run 3f2a...
  inspect --db sheetwise.db --stats`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := provenance.Open(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		switch {
		case stats:
			return runStatsMode(cmd, store, out)
		case runID != "":
			return runDetailMode(cmd, store, runID, out)
		default:
			return runListMode(cmd, store, last, out)
		}
	},
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "sheetwise.db", "path to the run log")
	rootCmd.Flags().IntVar(&last, "last", 20, "show N most recent runs")
	rootCmd.Flags().StringVar(&runID, "run", "", "show single run detail")
	rootCmd.Flags().BoolVar(&stats, "stats", false, "show aggregate counts")
	rootCmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
}

// #region main

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID     string   `json:"run_id"`
	State     string   `json:"state"`
	Rounds    int      `json:"rounds"`
	Sources   []string `json:"sources"`
	Fallback  bool     `json:"fallback"`
	Question  string   `json:"question"`
	Error     string   `json:"error,omitempty"`
	CreatedAt string   `json:"created_at"`
}

func runListMode(cmd *cobra.Command, store *provenance.Store, n int, out io.Writer) error {
	runs, err := store.ListRuns(cmd.Context(), n)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no runs found")
		return nil
	}

	// Store returns newest first; print chronologically.
	rows := make([]listRow, len(runs))
	for i, r := range runs {
		rows[len(runs)-1-i] = listRow{
			RunID:     r.RunID,
			State:     r.State,
			Rounds:    r.Rounds,
			Sources:   sourceNames(r.Sources),
			Fallback:  r.Fallback,
			Question:  r.Question,
			Error:     r.Error,
			CreatedAt: r.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		return printJSON(out, rows)
	}

	fmt.Fprintf(out, "%-10s  %-7s  %6s  %-30s  %-20s  %s\n", "Run", "State", "Rounds", "Sources", "Time", "Question")
	fmt.Fprintf(out, "%-10s+-%-7s+-%6s+-%-30s+-%-20s+-%s\n",
		"----------", "-------", "------", "------------------------------", "--------------------", "--------")
	for _, r := range rows {
		src := strings.Join(r.Sources, ",")
		if r.Fallback {
			src = "*" + src
		}
		fmt.Fprintf(out, "%-10s  %-7s  %6d  %-30s  %-20s  %s\n",
			shortID(r.RunID), r.State, r.Rounds, truncate(src, 30), r.CreatedAt, truncate(r.Question, 60))
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type fetchRow struct {
	Seq         int    `json:"seq"`
	Source      string `json:"source"`
	Purpose     string `json:"purpose,omitempty"`
	Outcome     string `json:"outcome"`
	RowCount    int    `json:"row_count"`
	ApproxChars int    `json:"approx_chars"`
	Error       string `json:"error,omitempty"`
}

type detailOutput struct {
	RunID      string                    `json:"run_id"`
	Question   string                    `json:"question"`
	State      string                    `json:"state"`
	Error      string                    `json:"error,omitempty"`
	Sources    []provenance.SourceRecord `json:"sources"`
	Fallback   bool                      `json:"fallback"`
	Rounds     int                       `json:"rounds"`
	Answer     string                    `json:"answer"`
	CreatedAt  string                    `json:"created_at"`
	FinishedAt string                    `json:"finished_at"`
	Fetches    []fetchRow                `json:"fetches"`
}

func runDetailMode(cmd *cobra.Command, store *provenance.Store, id string, out io.Writer) error {
	r, err := store.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	d := detailOutput{
		RunID:      r.RunID,
		Question:   r.Question,
		State:      r.State,
		Error:      r.Error,
		Sources:    r.Sources,
		Fallback:   r.Fallback,
		Rounds:     r.Rounds,
		Answer:     r.Answer,
		CreatedAt:  r.CreatedAt.Format("2006-01-02T15:04:05Z"),
		FinishedAt: r.FinishedAt.Format("2006-01-02T15:04:05Z"),
	}
	for _, f := range r.Fetches {
		d.Fetches = append(d.Fetches, fetchRow(f))
	}
	if jsonOut {
		return printJSON(out, d)
	}

	fmt.Fprintf(out, "Run:       %s\n", d.RunID)
	fmt.Fprintf(out, "Question:  %s\n", d.Question)
	fmt.Fprintf(out, "State:     %s\n", d.State)
	if d.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", d.Error)
	}
	fmt.Fprintf(out, "Rounds:    %d\n", d.Rounds)
	fmt.Fprintf(out, "Created:   %s\n", d.CreatedAt)
	fmt.Fprintf(out, "Finished:  %s\n", d.FinishedAt)

	label := "Sources:"
	if d.Fallback {
		label = "Sources (fallback):"
	}
	fmt.Fprintf(out, "\n%s\n", label)
	for _, s := range d.Sources {
		fmt.Fprintf(out, "  - %s", s.Name)
		if s.Reason != "" {
			fmt.Fprintf(out, " (%s)", s.Reason)
		}
		fmt.Fprintln(out)
	}

	if len(d.Fetches) > 0 {
		fmt.Fprintf(out, "\nFetches:\n")
		for _, f := range d.Fetches {
			fmt.Fprintf(out, "  %2d  %-24s  %-8s  rows=%-5d chars=%-7d %s\n",
				f.Seq, truncate(f.Source, 24), f.Outcome, f.RowCount, f.ApproxChars, f.Error)
		}
	}
	if d.Answer != "" {
		fmt.Fprintf(out, "\nAnswer:\n%s\n", d.Answer)
	}
	return nil
}

// #endregion detail-mode

// #region stats-mode

func runStatsMode(cmd *cobra.Command, store *provenance.Store, out io.Writer) error {
	st, err := store.Stats(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out, st)
	}
	fmt.Fprintln(out, "Runs by state:")
	printCounts(out, st.Runs)
	fmt.Fprintf(out, "  %-10s %d\n", "fallback", st.Fallback)
	fmt.Fprintln(out, "\nFetches by outcome:")
	printCounts(out, st.Fetches)
	return nil
}

// #endregion stats-mode

// #region output

func printCounts(out io.Writer, m map[string]int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-10s %d\n", k, m[k])
	}
}

func sourceNames(src []provenance.SourceRecord) []string {
	names := make([]string, len(src))
	for i, s := range src {
		names[i] = s.Name
	}
	return names
}

func printJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

// #endregion output
