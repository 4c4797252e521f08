package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/sheetwise/internal/bootstrap"
	"github.com/danielpatrickdp/sheetwise/internal/config"
	"github.com/danielpatrickdp/sheetwise/internal/httpapi"
	"github.com/danielpatrickdp/sheetwise/internal/logging"
)

const shutdownGrace = 10 * time.Second

var (
	addr        string
	catalogPath string
	provider    string
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the streaming chat endpoint",
	Long: `Serves POST /api/chat as server-sent events, plus /healthz and /metrics.

Examples:
  server
  server --addr :9090 --provider gemini`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	rootCmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog document (overrides CATALOG_PATH)")
	rootCmd.Flags().StringVar(&provider, "provider", "", "oracle provider (overrides ORACLE_PROVIDER)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger := logging.New("server")
	config.LoadEnv(logger)
	cfg := config.FromEnv()
	if addr != "" {
		cfg.HTTPAddr = addr
	}
	if catalogPath != "" {
		cfg.CatalogPath = catalogPath
	}
	if provider != "" {
		cfg.OracleProvider = provider
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	router := httpapi.NewRouter(&httpapi.ChatHandler{
		Answerer: app.Orchestrator,
		Timeout:  cfg.RunTimeout,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("[HTTP] listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("[HTTP] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"error": err}).Warn("[HTTP] shutdown incomplete")
		return err
	}
	return nil
}
