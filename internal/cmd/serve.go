package cmd

import (
	"fmt"
	"os"

	"github.com/dnyoussef/hooklog/internal/aggregator"
	"github.com/dnyoussef/hooklog/internal/hub"
	"github.com/dnyoussef/hooklog/internal/logger"
	"github.com/dnyoussef/hooklog/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the log query API, live stream and metrics",
	Long: `Start the HTTP API over the configured log directory. The server owns a
logger, so entries posted by in-process callers show up in the memory index,
the live websocket stream and the aggregated counters.

Examples:
  hooklog serve
  hooklog serve --addr :9090 --dir /var/log/agents`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	h := hub.New()
	agg := aggregator.New(h.Subscribe(), h.Dropped)
	go h.Start(ctx)
	go agg.Start(ctx)

	l, err := logger.New(cfg, logger.WithStream(h))
	if err != nil {
		return fmt.Errorf("failed to start logger: %w", err)
	}
	defer l.Close()

	srv := server.New(l, openArchive(cfg), h, agg, cfg.Server.Addr)
	fmt.Fprintf(os.Stderr, "hooklog serving %s on %s\n", cfg.File.Directory, cfg.Server.Addr)
	l.Info("hooklog server started", logger.Context{
		Metadata: map[string]any{"addr": cfg.Server.Addr, "directory": cfg.File.Directory},
	})

	return srv.Start(ctx)
}
