package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/sheetwise/internal/bootstrap"
	"github.com/danielpatrickdp/sheetwise/internal/config"
	"github.com/danielpatrickdp/sheetwise/internal/export"
	"github.com/danielpatrickdp/sheetwise/internal/logging"
)

var (
	outPath     string
	tabName     string
	csvDir      string
	concurrency int
)

var rootCmd = &cobra.Command{
	Use:   "export-tabs",
	Short: "Export spreadsheet tabs as normalized CSV",
	Long: `Reads every visible tab into a JSON array of {"<tab>": "<csv>"} objects,
or a single tab into <tab>.csv.

Examples:
  export-tabs
  export-tabs --out exports/sheets.json --concurrency 8
  export-tabs --tab "Q1 Revenue" --dir exports`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&outPath, "out", export.DefaultOutput, "JSON output path")
	rootCmd.Flags().StringVar(&tabName, "tab", "", "export a single tab as CSV")
	rootCmd.Flags().StringVar(&csvDir, "dir", ".", "directory for single-tab CSV output")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", export.DefaultConcurrency, "tabs read in parallel")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger := logging.New("export-tabs")
	config.LoadEnv(logger)
	cfg := config.FromEnv()

	ctx := cmd.Context()
	sh, err := bootstrap.NewSheets(ctx, cfg)
	if err != nil {
		return err
	}
	exp := export.New(sh, concurrency, logger)
	out := cmd.OutOrStdout()

	if tabName != "" {
		tab, err := exp.One(ctx, tabName)
		if err != nil {
			return err
		}
		path, err := export.WriteCSV(csvDir, tab)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", path)
		return nil
	}

	tabs, err := exp.All(ctx)
	if err != nil {
		return err
	}
	if err := export.WriteJSON(outPath, tabs); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d tabs to %s\n", len(tabs), outPath)
	return nil
}
