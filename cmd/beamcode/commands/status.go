package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teng-lin/beamcode/internal/config"
	"github.com/teng-lin/beamcode/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a daemon is running",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return err
	}

	state, err := storage.ReadDaemonState(cfg.StateFilePath())
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Println("no daemon running")
		return nil
	}
	if err != nil {
		return err
	}

	age := time.Since(state.Heartbeat).Round(time.Second)
	fmt.Printf("daemon pid %d on port %d (version %s, heartbeat %s ago)\n",
		state.PID, state.Port, state.Version, age)
	if age > time.Minute {
		fmt.Println("warning: heartbeat is stale; the daemon may have crashed")
	}
	return nil
}
