// Package daemon wires the beamcode components together and owns the
// process lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/internal/adapter/acp"
	"github.com/teng-lin/beamcode/internal/adapter/claudecli"
	"github.com/teng-lin/beamcode/internal/adapter/gemini"
	"github.com/teng-lin/beamcode/internal/adapter/opencodecli"
	"github.com/teng-lin/beamcode/internal/config"
	"github.com/teng-lin/beamcode/internal/event"
	"github.com/teng-lin/beamcode/internal/gateway"
	"github.com/teng-lin/beamcode/internal/launcher"
	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/internal/metrics"
	"github.com/teng-lin/beamcode/internal/policy"
	"github.com/teng-lin/beamcode/internal/server"
	"github.com/teng-lin/beamcode/internal/session"
	"github.com/teng-lin/beamcode/internal/slashcmd"
	"github.com/teng-lin/beamcode/internal/storage"
)

// Version is stamped at build time.
var Version = "0.1.0"

// Daemon is the assembled beamcode process.
type Daemon struct {
	cfg       *config.Config
	bus       *event.Bus
	bridge    *session.Bridge
	launcher  *launcher.Launcher
	gateway   *gateway.Gateway
	server    *server.Server
	metrics   *metrics.Metrics
	reconnect *policy.ReconnectPolicy
	idle      *policy.IdlePolicy
	stopWatch func()
	heartbeat chan struct{}
}

// New assembles a daemon. Construction order matters and is load-bearing:
// launcher first, then the gateway's socket registry, then the bridge —
// restored direct-connection sessions consult the launcher's PID table.
func New(cfg *config.Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if cfg.ControlAPIToken == "" {
		cfg.ControlAPIToken = uuid.NewString()
	}

	bus := event.NewBus()

	// 1. Launcher.
	launch := launcher.New(launcher.Config{
		MaxSessions: cfg.MaxSessions,
		GatewayURL:  cfg.GatewayURL(),
		Commands:    cfg.LauncherCommands(),
	}, bus)

	// 2. Socket registry + gateway.
	registry := gateway.NewSocketRegistry()

	// 3. Adapters over the registry, then the bridge.
	adapters, err := buildAdapters(cfg, registry)
	if err != nil {
		return nil, err
	}

	store := storage.New(cfg.DataDir)
	repo := session.NewRepository(session.NewFileStorage(store))
	allowedTools := make(map[string][]string)
	for name, ac := range cfg.Adapters {
		if len(ac.AllowedTools) > 0 {
			allowedTools[name] = ac.AllowedTools
		}
	}

	bridge := session.NewBridge(
		session.BridgeConfig{HistorySize: cfg.HistorySize, AllowedTools: allowedTools},
		repo,
		adapters,
		bus,
		launch,
		slashcmd.NewChain(slashcmd.NewLocalHandler()),
	)

	gw := gateway.New(registry, bridge.SessionStarting)

	m := metrics.New()
	m.Observe(bus)

	policyCfg := policy.DefaultConfig()
	policyCfg.ReconnectGracePeriod = cfg.ReconnectGracePeriod()
	policyCfg.IdleSessionTimeout = cfg.IdleSessionTimeout()

	d := &Daemon{
		cfg:       cfg,
		bus:       bus,
		bridge:    bridge,
		launcher:  launch,
		gateway:   gw,
		metrics:   m,
		reconnect: policy.NewReconnectPolicy(policyCfg, bridge, bus),
		idle:      policy.NewIdlePolicy(policyCfg, bridge, bus),
		heartbeat: make(chan struct{}),
	}

	srvCfg := &server.Config{
		Hostname:     cfg.Hostname,
		Port:         cfg.Port,
		ControlToken: cfg.ControlAPIToken,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
	}
	d.server = server.New(srvCfg, bridge, gw, launch, m)

	return d, nil
}

func buildAdapters(cfg *config.Config, registry *gateway.SocketRegistry) (*adapter.Registry, error) {
	var list []adapter.Adapter

	if ac, ok := cfg.Adapters["claude"]; ok && !ac.Disable {
		list = append(list, claudecli.New(registry, cfg.SocketTimeout()))
	}
	if ac, ok := cfg.Adapters["acp"]; ok && !ac.Disable {
		list = append(list, acp.New(acp.Config{Command: ac.Command, Env: ac.Env}))
	}
	if ac, ok := cfg.Adapters["gemini"]; ok && !ac.Disable {
		list = append(list, gemini.New(ac.Command, ac.Env, 0))
	}
	if ac, ok := cfg.Adapters["opencode"]; ok && !ac.Disable {
		list = append(list, opencodecli.New(opencodecli.Config{BaseURL: ac.BaseURL, Model: ac.Model}))
	}

	return adapter.NewRegistry(list...)
}

// Bridge exposes the session bridge (tests, programmatic embedding).
func (d *Daemon) Bridge() *session.Bridge { return d.bridge }

// Start restores state, arms policies, writes the state file, and serves
// until the context ends.
func (d *Daemon) Start(ctx context.Context) error {
	restored := d.bridge.RestoreAll(ctx)
	logging.Info().Int("restored", restored).Msg("session restore complete")

	d.reconnect.Start()
	d.idle.Start()
	d.stopWatch = config.Watch(d.cfg.DataDir)

	if err := d.writeStateFile(); err != nil {
		return err
	}
	go d.heartbeatLoop()
	go d.sessionGaugeLoop()

	logging.Info().
		Str("addr", fmt.Sprintf("%s:%d", d.cfg.Hostname, d.cfg.Port)).
		Str("version", Version).
		Msg("beamcode daemon listening")

	errCh := make(chan error, 1)
	go func() { errCh <- d.server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return d.Shutdown()
	}
}

func (d *Daemon) writeStateFile() error {
	return storage.WriteDaemonState(d.cfg.StateFilePath(), storage.DaemonState{
		PID:             os.Getpid(),
		Port:            d.cfg.Port,
		Heartbeat:       time.Now().UTC(),
		Version:         Version,
		ControlAPIToken: d.cfg.ControlAPIToken,
	})
}

func (d *Daemon) heartbeatLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.writeStateFile(); err != nil {
				logging.Warn().Err(err).Msg("heartbeat write failed")
			}
		case <-d.heartbeat:
			return
		}
	}
}

func (d *Daemon) sessionGaugeLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			counts := make(map[string]int)
			for _, s := range d.bridge.Sessions() {
				counts[string(s.State())]++
			}
			d.metrics.SetSessionStates(counts)
		case <-d.heartbeat:
			return
		}
	}
}

// Shutdown stops everything in reverse construction order.
func (d *Daemon) Shutdown() error {
	logging.Info().Msg("daemon shutting down")
	close(d.heartbeat)

	if d.stopWatch != nil {
		d.stopWatch()
	}
	d.reconnect.Stop()
	d.idle.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = d.server.Shutdown(ctx)

	d.bridge.CloseAll()
	d.launcher.Shutdown()
	d.metrics.Stop()
	_ = d.bus.Close()

	if err := storage.RemoveDaemonState(d.cfg.StateFilePath()); err != nil {
		logging.Warn().Err(err).Msg("state file cleanup failed")
	}
	return nil
}
