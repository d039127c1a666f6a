package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teng-lin/beamcode/internal/config"
	"github.com/teng-lin/beamcode/internal/daemon"
	"github.com/teng-lin/beamcode/internal/logging"
)

var (
	servePort     int
	serveHostname string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the beamcode daemon",
	Long: `Start the beamcode daemon. It exposes the consumer WebSocket, the
CLI gateway, and the admin HTTP API, and supervises backend agent
processes until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveHostname != "" {
		cfg.Hostname = serveHostname
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("dataDir", cfg.DataDir).Msg("starting daemon")
	return d.Start(ctx)
}
