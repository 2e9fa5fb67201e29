package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qubesproject/qrexec-trigger-server/cmd/qrexec-trigger-server/commands"
	"github.com/qubesproject/qrexec-trigger-server/logger"
)

var rootCmd = &cobra.Command{
	Use:   "qrexec-trigger-server",
	Short: "qrexec trigger server: local IPC endpoint bridging guest clients and the qrexec daemon",
	Long: `qrexec-trigger-server mediates between untrusted in-guest clients and the
trusted qrexec daemon: it accepts local client connections, forwards
trigger requests to the daemon, and hands off I/O channels to a
dispatch subsystem once the daemon authorizes a request.

Available commands:
  serve     - Start the trigger server
  selftest  - Check the local environment before starting
  version   - Show version information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLog, _ := cmd.Flags().GetBool("json-log")
		if err := logger.Initialize(jsonLog); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-log", false, "Emit structured JSON logs instead of console output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.SelftestCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
