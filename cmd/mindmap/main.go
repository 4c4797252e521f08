package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/sheetwise/internal/bootstrap"
	"github.com/danielpatrickdp/sheetwise/internal/config"
	"github.com/danielpatrickdp/sheetwise/internal/export"
	"github.com/danielpatrickdp/sheetwise/internal/logging"
	"github.com/danielpatrickdp/sheetwise/internal/mindmap"
)

var (
	inPath       string
	catalogPath  string
	markdownPath string
	pause        time.Duration
	provider     string
)

var rootCmd = &cobra.Command{
	Use:   "mindmap",
	Short: "Summarize exported tabs into the source catalog",
	Long: `Asks the answer model for a bullet summary of each exported tab and writes
the catalog document used for source selection, plus a markdown analysis.

Examples:
  mindmap
  mindmap --in sheets_export.json --catalog tabs_mindmap.json --pause 1s`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&inPath, "in", export.DefaultOutput, "export file from export-tabs")
	rootCmd.Flags().StringVar(&catalogPath, "catalog", "tabs_mindmap.json", "catalog output path")
	rootCmd.Flags().StringVar(&markdownPath, "markdown", "spreadsheet_analysis.md", "markdown output path (empty to skip)")
	rootCmd.Flags().DurationVar(&pause, "pause", mindmap.DefaultPause, "delay between model calls")
	rootCmd.Flags().StringVar(&provider, "provider", "", "oracle provider (overrides ORACLE_PROVIDER)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger := logging.New("mindmap")
	config.LoadEnv(logger)
	cfg := config.FromEnv()
	if provider != "" {
		cfg.OracleProvider = provider
	}

	tabs, err := export.ReadJSON(inPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	o, closeOracle, err := bootstrap.NewOracle(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeOracle()

	res, err := mindmap.New(o, pause, logger).Run(ctx, tabs)
	if err != nil {
		return err
	}
	if err := mindmap.Write(res, catalogPath, markdownPath); err != nil {
		return err
	}

	failed := 0
	for _, e := range res.Entries {
		if e.Summary == mindmap.ErrorSummary {
			failed++
		}
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "catalog: %s (%d sources, %d analyzed)\n", catalogPath, len(res.Entries), len(res.Analyzed))
	if failed > 0 {
		fmt.Fprintf(out, "%d tabs failed analysis and were marked %q\n", failed, mindmap.ErrorSummary)
	}
	return nil
}
