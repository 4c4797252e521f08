package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/sheetwise/internal/logging"
	"github.com/danielpatrickdp/sheetwise/internal/replay"
)

var (
	fixturePath string
	fixtureDir  string
	verbose     bool
)

// exitCode is set by run so main can report drift with status 1 and
// usage or load failures with status 2.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay fixture runs against scripted oracles",
	Long: `Runs each fixture through the real orchestrator with scripted oracles and
in-memory sources, then compares state, answer, fetch outcomes and provider
calls with the fixture's expectations.

Examples:
  replay --fixture internal/replay/testdata/q1_revenue.json
  replay --dir internal/replay/testdata -v`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&fixturePath, "fixture", "", "path to one fixture JSON")
	rootCmd.Flags().StringVar(&fixtureDir, "dir", "", "directory of fixture JSON files")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log orchestrator output")
	rootCmd.MarkFlagsMutuallyExclusive("fixture", "dir")
	rootCmd.MarkFlagsOneRequired("fixture", "dir")
}

// #region main

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
	os.Exit(exitCode)
}

func run(cmd *cobra.Command, _ []string) error {
	fixtures := map[string]*replay.Fixture{}
	var order []string
	if fixturePath != "" {
		f, err := replay.LoadFixture(fixturePath)
		if err != nil {
			return err
		}
		fixtures[fixturePath] = f
		order = []string{fixturePath}
	} else {
		var err error
		fixtures, order, err = replay.LoadDir(fixtureDir)
		if err != nil {
			return err
		}
		if len(order) == 0 {
			return fmt.Errorf("no fixtures in %s", fixtureDir)
		}
	}

	logger := logging.Discard()
	if verbose {
		logger = logging.New("replay")
	}

	results := make([]replay.Result, 0, len(order))
	for _, p := range order {
		res, err := replay.Replay(cmd.Context(), p, fixtures[p], logger)
		if err != nil {
			return err
		}
		results = append(results, res)
	}
	exitCode = printComparison(cmd.OutOrStdout(), results)
	return nil
}

// #endregion main

// #region output

// printComparison outputs a comparison table and returns the exit code.
func printComparison(out io.Writer, results []replay.Result) int {
	fmt.Fprintf(out, "%-32s| %-8s| %-8s| %-6s| %s\n", "Fixture", "State", "Rounds", "Reads", "Match")
	fmt.Fprintf(out, "%-32s+%-9s+%-9s+%-7s+%s\n",
		"--------------------------------", "---------", "---------", "-------", "------")

	for _, r := range results {
		state, rounds := "-", 0
		if r.Run != nil {
			state, rounds = string(r.Run.State), r.Run.Rounds
		}
		reads := 0
		for _, n := range r.ProviderCalls {
			reads += n
		}
		match := "OK"
		if !r.Passed() {
			match = "DIFF"
		}
		fmt.Fprintf(out, "%-32s| %-8s| %-8d| %-6d| %s\n", filepath.Base(r.Name), state, rounds, reads, match)
		for _, d := range r.Diffs {
			fmt.Fprintf(out, "    %s\n", d)
		}
	}

	s := replay.Summarize(results)
	fmt.Fprintf(out, "\nSummary: %d total, %d match, %d diverge\n", s.Total, s.Passed, s.Failed)
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// #endregion output
