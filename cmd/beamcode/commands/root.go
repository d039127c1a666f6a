// Package commands provides the CLI commands for the beamcode daemon.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teng-lin/beamcode/internal/daemon"
	"github.com/teng-lin/beamcode/internal/logging"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	logFile   bool
	dataDir   string
)

var rootCmd = &cobra.Command{
	Use:   "beamcode",
	Short: "beamcode - session broker for AI coding agents",
	Long: `beamcode is a local daemon that brokers conversational AI coding
sessions: it launches backend agents (Claude CLI, Gemini, ACP agents,
opencode), normalizes their protocols into one message schema, and fans
sessions out to browser consumers over WebSocket.

Run 'beamcode serve' to start the daemon.`,
	Version: daemon.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:     logging.ParseLevel(logLevel),
			Output:    os.Stderr,
			Pretty:    printLogs,
			LogToFile: logFile,
		}
		logging.Init(logCfg)

		if logFile {
			logging.Info().
				Str("version", daemon.Version).
				Str("logFile", logging.GetLogFilePath()).
				Msg("beamcode started with file logging")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Pretty-print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Also log to a timestamped file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.beamcode)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
