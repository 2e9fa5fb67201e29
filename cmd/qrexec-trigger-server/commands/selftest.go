package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/spf13/cobra"

	"github.com/qubesproject/qrexec-trigger-server/internal/config"
	"github.com/qubesproject/qrexec-trigger-server/internal/daemonclient"
)

// SelftestCmd performs a handful of cheap environment checks without
// starting the full driver loop: that the socket directory is
// writable, that the host has disk and load headroom, and that the
// configured daemon endpoint answers a dial.
var SelftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Check the local environment for running the trigger server",
	RunE:  runSelftest,
}

func runSelftest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		pterm.Error.Printf("config: %v\n", err)
		return err
	}
	pterm.Success.Println("configuration loaded")

	socketDir := filepath.Dir(cfg.Server.SocketPath)
	if err := checkWritableDir(socketDir); err != nil {
		pterm.Error.Printf("socket directory %s: %v\n", socketDir, err)
	} else {
		pterm.Success.Printf("socket directory %s is writable\n", socketDir)
	}

	checkHostResources(socketDir)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := daemonclient.Dial(ctx, cfg.Daemon.Address, cfg.Daemon.DialTimeout())
	if err != nil {
		pterm.Warning.Printf("daemon at %s unreachable: %v\n", cfg.Daemon.Address, err)
	} else {
		pterm.Success.Printf("daemon at %s reachable\n", cfg.Daemon.Address)
		client.Close()
	}

	return nil
}

// checkHostResources warns about host conditions that would make a
// busy trigger server struggle: a near-full filesystem under the
// socket directory, or a load average already saturating the host.
func checkHostResources(socketDir string) {
	if usage, err := disk.Usage(socketDir); err != nil {
		pterm.Warning.Printf("disk usage for %s: %v\n", socketDir, err)
	} else if usage.UsedPercent > 90 {
		pterm.Warning.Printf("filesystem under %s is %.1f%% full\n", socketDir, usage.UsedPercent)
	} else {
		pterm.Success.Printf("filesystem under %s has headroom (%.1f%% used)\n", socketDir, usage.UsedPercent)
	}

	if avg, err := load.Avg(); err != nil {
		pterm.Warning.Printf("load average: %v\n", err)
	} else {
		pterm.Success.Printf("load average: %.2f %.2f %.2f\n", avg.Load1, avg.Load5, avg.Load15)
	}
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
		return err
	}
	probe := filepath.Join(dir, fmt.Sprintf(".selftest-%d", os.Getpid()))
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(probe)
}
