package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/engine"
	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/inventory"
	"github.com/teranos/vouch/ledger"
	"github.com/teranos/vouch/logger"
	"github.com/teranos/vouch/mailbox"
	"github.com/teranos/vouch/provider"
	"github.com/teranos/vouch/proxy"
	"github.com/teranos/vouch/server"
)

// ServeCmd starts the vouch daemon
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the vouch daemon (job engine + HTTP API)",
	Long: `Start the verification job engine together with its HTTP API.

The daemon restores proxy pool health from the database, begins
accepting job submissions over HTTP, and streams status events to
WebSocket subscribers on /ws/events.`,
	RunE: runServe,
}

var (
	servePort      int
	serveDBPath    string
	serveProxyList string
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "HTTP listen port (overrides config)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
	ServeCmd.Flags().StringVar(&serveProxyList, "proxy-list", "", "Proxy list file (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	// Flag overrides
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveDBPath != "" {
		cfg.Database.Path = serveDBPath
	}
	if serveProxyList != "" {
		cfg.Proxy.ListPath = serveProxyList
	}

	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration invalid")
	}

	// The config file's log settings apply unless a flag was explicit
	if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("json-logs") && !cmd.Flags().Changed("verbose") {
		if err := logger.Initialize(cfg.Log.Level, cfg.Log.JSON); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
	}

	database, err := openDatabase(cfg, serveDBPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	ctx := context.Background()

	// Proxy pool: membership from the list file, health from the database
	endpoints := loadProxyList(cfg.Proxy.ListPath)
	pool := proxy.NewPool(proxy.Config{
		DefaultHealth:       cfg.Proxy.DefaultHealth,
		QuarantineThreshold: cfg.Proxy.QuarantineThreshold,
		Cooldown:            cfg.Proxy.Cooldown,
	}, endpoints)

	pstore := proxy.NewStore(database)
	if states, err := pstore.Load(ctx); err != nil {
		logger.Warnw("Could not restore proxy state, starting fresh", "error", err)
	} else if len(states) > 0 {
		pool.RestoreState(states)
		logger.Infow("Restored proxy pool state", "endpoints", len(states))
	}

	stock := inventory.NewStore(database)
	trail := ledger.NewStore(database)

	if cfg.Provider.BaseURL == "" {
		logger.Warnw("provider.base_url is not configured, submissions will fail")
	}
	if cfg.Mailbox.Host == "" {
		logger.Warnw("mailbox.host is not configured, out-of-band confirmations will fail")
	}

	client := provider.NewClient(cfg.Provider, logger.Logger)
	retriever := mailbox.NewRetriever(
		mailbox.DialIMAP(cfg.Mailbox),
		cfg.Engine.OutOfBand.Interval,
		cfg.Engine.OutOfBand.MaxAttempts,
		logger.Logger,
	)

	eng := engine.New(cfg.Engine, engine.Deps{
		Provider:    client,
		Mail:        retriever,
		Records:     stock,
		Proxies:     pool,
		Archive:     trail,
		ProxyState:  pstore,
		MailboxAddr: cfg.Mailbox.Username,
	}, logger.Logger)
	eng.Start()

	srv := server.New(cfg, eng, stock, pool, trail, logger.Logger)

	// Watch the user config for edits. Engine settings are read once at
	// startup, so a reload only logs what will apply on restart.
	watcher := watchConfig()
	if watcher != nil {
		defer watcher.Stop()
	}

	available, err := stock.CountAvailable(ctx)
	if err != nil {
		logger.Warnw("Could not count available records", "error", err)
	}
	printStartupBanner(cfg, pool.Stats(), available)

	// Start server in background
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	// Wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		// Server failed to start or stopped unexpectedly; drain the
		// engine before giving up so live jobs archive as cancelled.
		stopAll(srv, eng, cfg.Engine.ShutdownGrace)
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		// First Ctrl+C - graceful shutdown
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- stopAll(srv, eng, cfg.Engine.ShutdownGrace)
		}()

		// Wait for either shutdown completion or second Ctrl+C
		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Daemon stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

// stopAll closes the HTTP surface first so no submissions arrive while
// the engine drains, then stops the engine within the grace period.
func stopAll(srv *server.Server, eng *engine.Engine, grace time.Duration) error {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	srvErr := srv.Stop(ctx)
	engErr := eng.Stop(ctx)
	if srvErr != nil {
		return srvErr
	}
	return engErr
}

// loadProxyList reads the proxy list file. A missing or unset file is
// tolerated; the daemon runs with an empty pool and rejects
// submissions until one is provided.
func loadProxyList(path string) []*proxy.Endpoint {
	if path == "" {
		logger.Warnw("proxy.list_path is not configured, submissions will be rejected until proxies are available")
		return nil
	}

	f, err := os.Open(config.ExpandPath(path))
	if err != nil {
		logger.Warnw("Could not open proxy list", "path", path, "error", err)
		return nil
	}
	defer f.Close()

	endpoints, rejected, err := proxy.ParseReader(f)
	if err != nil {
		logger.Warnw("Could not read proxy list", "path", path, "error", err)
		return endpoints
	}
	for _, pe := range rejected {
		logger.Warnw("Skipping malformed proxy line", "line", pe.Line, "error", pe.Err)
	}
	logger.Infow("Loaded proxy list", "path", path, "endpoints", len(endpoints), "rejected", len(rejected))
	return endpoints
}

// watchConfig starts a watcher on the user config file if one exists
func watchConfig() *config.ConfigWatcher {
	path := config.UserConfigPath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := config.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Could not watch config file", "path", path, "error", err)
		return nil
	}
	watcher.OnReload(func(newCfg *config.Config) error {
		logger.Infow("Configuration reloaded; engine and provider settings apply on restart",
			"max_concurrent_jobs", newCfg.Engine.MaxConcurrentJobs,
			"daily_user_limit", newCfg.Engine.DailyUserLimit)
		return nil
	})
	config.SetGlobalWatcher(watcher)
	watcher.Start()
	logger.Infow("Watching config file", "path", path)
	return watcher
}
