package commands

import (
	"fmt"

	"github.com/qubesproject/qrexec-trigger-server/internal/config"
	"github.com/qubesproject/qrexec-trigger-server/logger"
	"github.com/qubesproject/qrexec-trigger-server/version"
)

// printStartupBanner prints a startup summary: version, socket path,
// instance count, verbosity, and the run's correlation ID, in the
// teacher's console-banner style.
func printStartupBanner(cfg *config.Config, runID string) {
	cyan := "\033[36m"
	green := "\033[32m"
	bold := "\033[1m"
	reset := "\033[0m"

	info := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔══════════════════════════════════════════════╗\n")
	fmt.Printf("   ║        qrexec-trigger-server                  ║\n")
	fmt.Printf("   ╚══════════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ Server Info ──────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:    %s (commit %s)\n", green, reset, info.Version, info.Short())
	fmt.Printf("%s│%s Socket:     %s\n", green, reset, cfg.Server.SocketPath)
	fmt.Printf("%s│%s Instances:  %d\n", green, reset, cfg.Server.Instances)
	fmt.Printf("%s│%s Daemon:     %s\n", green, reset, cfg.Daemon.Address)
	fmt.Printf("%s│%s Verbosity:  %s\n", green, reset, logger.LevelName(cfg.Logging.Verbosity))
	fmt.Printf("%s│%s Run ID:     %s\n", green, reset, runID)
	fmt.Printf("%s└────────────────────────────────────────────────┘%s\n\n", green, reset)
}
