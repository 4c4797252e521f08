package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/sheetwise/internal/bootstrap"
	"github.com/danielpatrickdp/sheetwise/internal/codec"
	"github.com/danielpatrickdp/sheetwise/internal/config"
	"github.com/danielpatrickdp/sheetwise/internal/logging"
)

var (
	addr     string
	provider string
)

var rootCmd = &cobra.Command{
	Use:   "oracled",
	Short: "Expose an oracle provider over gRPC",
	Long: `Runs the classify and generate oracles behind a gRPC endpoint so other
processes can use ORACLE_PROVIDER=codec.

Examples:
  oracled
  oracled --addr :50052 --provider gemini`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ORACLED_ADDR)")
	rootCmd.Flags().StringVar(&provider, "provider", "", "backing provider: openai or gemini (overrides ORACLE_PROVIDER)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger := logging.New("oracled")
	config.LoadEnv(logger)
	cfg := config.FromEnv()
	if addr != "" {
		cfg.OracledAddr = addr
	}
	if provider != "" {
		cfg.OracleProvider = provider
	}
	if cfg.OracleProvider == config.ProviderCodec {
		return fmt.Errorf("oracled cannot serve the %q provider", config.ProviderCodec)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, closeOracle, err := bootstrap.NewOracle(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeOracle()

	lis, err := net.Listen("tcp", cfg.OracledAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.OracledAddr, err)
	}

	srv := grpc.NewServer()
	codec.NewServer(o, logger).Register(srv)

	go func() {
		<-ctx.Done()
		logger.Info("[ORACLED] shutting down")
		srv.GracefulStop()
	}()

	logger.WithField("addr", lis.Addr().String()).WithField("provider", cfg.OracleProvider).Info("[ORACLED] serving")
	return srv.Serve(lis)
}
