package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/sheetwise/internal/bootstrap"
	"github.com/danielpatrickdp/sheetwise/internal/config"
	"github.com/danielpatrickdp/sheetwise/internal/logging"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

var (
	catalogPath string
	provider    string
	oneShot     string
)

var rootCmd = &cobra.Command{
	Use:   "controller",
	Short: "Ask questions about the spreadsheet from the terminal",
	Long: `Interactive question loop. Each answer is streamed as it is generated;
readSource calls are shown as they happen. Earlier turns stay in the
conversation, so follow-up questions see the whole exchange.

Examples:
  controller
  controller --ask "What is Q1 revenue?"
  controller --provider gemini --catalog tabs_mindmap.json`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog document (overrides CATALOG_PATH)")
	rootCmd.Flags().StringVar(&provider, "provider", "", "oracle provider: openai, gemini or codec (overrides ORACLE_PROVIDER)")
	rootCmd.Flags().StringVar(&oneShot, "ask", "", "answer a single question and exit")
}

// #region main

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger := logging.New("controller")
	config.LoadEnv(logger)
	cfg := config.FromEnv()
	if catalogPath != "" {
		cfg.CatalogPath = catalogPath
	}
	if provider != "" {
		cfg.OracleProvider = provider
	}

	ctx := cmd.Context()
	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	if oneShot != "" {
		_, err := ask(ctx, app, cfg, nil, oneShot, out)
		return err
	}

	fmt.Fprintln(out, "Sheetwise controller ready.")
	fmt.Fprintf(out, "  Catalog: %s (%d sources) | Oracle: %s\n", cfg.CatalogPath, app.Catalog.Len(), cfg.OracleProvider)
	fmt.Fprintln(out, "Type a question (or 'quit' to exit):")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	var conv oracle.Conversation
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "quit" || question == "exit" {
			break
		}
		if question == "reset" {
			conv = nil
			fmt.Fprintln(out, "conversation cleared")
			continue
		}
		next, err := ask(ctx, app, cfg, conv, question, out)
		if err != nil {
			fmt.Fprintf(out, "\nerror: %v\n\n", err)
			continue
		}
		conv = next
	}
	return scanner.Err()
}

// #endregion main

// #region ask

// ask runs one question on top of conv and returns the extended conversation.
func ask(ctx context.Context, app *bootstrap.App, cfg config.Config, conv oracle.Conversation, question string, out io.Writer) (oracle.Conversation, error) {
	turns := append(conv.Clone(), oracle.UserText(question))

	runCtx := ctx
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	fmt.Fprintln(out)
	run, err := app.Orchestrator.Handle(runCtx, turns, &terminal{out: out})
	fmt.Fprintln(out)
	if err != nil {
		return conv, err
	}
	fmt.Fprintf(out, "[%s] sources=%s rounds=%d fetches=%d\n\n",
		run.ID, strings.Join(run.Selection.Names(), ", "), run.Rounds, len(run.Fetches))
	return append(turns, oracle.AssistantTurn(run.Answer, nil)), nil
}

// #endregion ask

// #region terminal

// terminal prints answer tokens inline and tool calls on their own lines.
type terminal struct {
	out io.Writer
}

func (t *terminal) SendToken(token string) error {
	_, err := io.WriteString(t.out, token)
	return err
}

func (t *terminal) SendToolStart(tool string) error {
	_, err := fmt.Fprintf(t.out, "  · %s ...\n", tool)
	return err
}

func (t *terminal) SendToolEnd(tool, errMsg string) error {
	if errMsg != "" {
		_, err := fmt.Fprintf(t.out, "  · %s failed: %s\n", tool, errMsg)
		return err
	}
	return nil
}

// #endregion terminal
