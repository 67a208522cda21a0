package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/config"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline service",
	Long: `Starts the HTTP stage routes, the gRPC health endpoint and the bus consumer
that carries envelopes between stages. Stops gracefully on SIGINT or SIGTERM.`,
	Example: `  leadflow serve
  leadflow serve --config /etc/leadflow/config.yaml
  LEADFLOW_BUS_KIND=nats LEADFLOW_BUS_NATS_URL=nats://nats:4222 leadflow serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	logger.Info("leadflow_starting",
		"version", Version,
		"http_addr", cfg.HTTPAddr(),
		"grpc_addr", cfg.GRPCAddr(),
		"bus", cfg.Bus.Kind,
		"model", cfg.Generator.Model,
		"concurrency", cfg.Dispatcher.Concurrency,
	)
	if cfg.Generator.APIKey == "" {
		logger.Warn("generator_api_key_missing", "hint", "set LEADFLOW_GENERATOR_API_KEY")
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.run(ctx)
}

// contextOrBackground lets RunE work when cobra was executed without a context.
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
