package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qubesproject/qrexec-trigger-server/errors"
	"github.com/qubesproject/qrexec-trigger-server/internal/config"
	"github.com/qubesproject/qrexec-trigger-server/internal/daemonclient"
	"github.com/qubesproject/qrexec-trigger-server/internal/dispatcher"
	"github.com/qubesproject/qrexec-trigger-server/internal/driver"
	"github.com/qubesproject/qrexec-trigger-server/internal/endpoint"
	"github.com/qubesproject/qrexec-trigger-server/logger"
)

// ServeCmd starts the trigger server: the endpoint pool, the driver
// loop, and the embedded daemon-facing grpc client/server pair.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the qrexec trigger server",
	Long:    `Run the trigger server's endpoint pool and acceptor/driver loop, bridging local clients and the qrexec daemon.`,
	RunE:    runServe,
}

var serveConfigPath string

func init() {
	ServeCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a config file (bypasses the default search path)")
}

func runServe(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")

	cfg, err := loadServeConfig()
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = verbosity
	}

	runID := uuid.NewString()
	printStartupBanner(cfg, runID)

	pool, err := endpoint.NewPool(cfg.Server.SocketPath, cfg.Server.SocketModeOctal, cfg.Server.Instances)
	if err != nil {
		return errors.Wrap(err, "creating endpoint pool")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithRequestID(ctx, runID)
	logger.LoggerFromContext(ctx).Infow("trigger server starting", logger.FieldAddress, cfg.Server.SocketPath)

	daemon, err := daemonclient.Dial(ctx, cfg.Daemon.Address, cfg.Daemon.DialTimeout())
	if err != nil {
		pool.Close()
		return errors.Wrap(err, "connecting to qrexec daemon")
	}
	defer daemon.Close()

	disp := dispatcher.NewMemory()
	drv := driver.New(pool, disp, daemon)

	rpcListener, err := daemonclient.ListenUnix(cfg.Daemon.ListenAddress)
	if err != nil {
		pool.Close()
		return errors.Wrap(err, "starting daemon rpc listener")
	}
	rpcServer := daemonclient.NewServer(drv)

	if serveConfigPath != "" {
		if watcher, err := startConfigWatcher(serveConfigPath, cfg); err != nil {
			logger.LoggerFromContext(ctx).Warnw("config watcher disabled", logger.FieldError, err)
		} else {
			defer watcher.Stop()
		}
	}

	errCh := make(chan error, 2)
	go func() { errCh <- rpcServer.Serve(rpcListener) }()
	go func() { errCh <- drv.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		cancel()
		return errors.Wrap(err, "trigger server exited unexpectedly")
	case <-sigCh:
		pterm.Info.Println("shutting down gracefully...")
		cancel()
		rpcServer.Stop()
		<-errCh
		pterm.Success.Println("trigger server stopped")
		return nil
	}
}

func loadServeConfig() (*config.Config, error) {
	if serveConfigPath != "" {
		return config.LoadFromFile(serveConfigPath)
	}
	return config.Load()
}

// startConfigWatcher watches configPath and, when a reload changes
// Logging.Verbosity, prints the change and stores the new value in cfg.
// The running logger's level is not changed, and nothing reads
// cfg.Logging.Verbosity after the startup banner. No other tunable is
// applied; Server.Instances is fixed once the pool is created.
func startConfigWatcher(configPath string, cfg *config.Config) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "starting config watcher")
	}
	watcher.OnReload(func(reloaded *config.Config) error {
		if reloaded.Logging.Verbosity != cfg.Logging.Verbosity {
			pterm.Info.Printf("verbosity changed: %d -> %d\n", cfg.Logging.Verbosity, reloaded.Logging.Verbosity)
			cfg.Logging.Verbosity = reloaded.Logging.Verbosity
		}
		return nil
	})
	watcher.Start()
	return watcher, nil
}
