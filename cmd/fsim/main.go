// Command fsim runs the storage market simulation and works with the runs it
// records.
package main

import (
	"fmt"
	stdlog "log"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
)

var (
	logger   = stdlog.New(os.Stdout, "[fsim] ", stdlog.LstdFlags|stdlog.Lmicroseconds)
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "fsim",
	Short:         "Decentralized storage market simulator",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		lvl, err := logging.LevelFromString(logLevel)
		if err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		logging.SetAllLoggers(lvl)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "package log level (debug, info, warn, error)")
	rootCmd.AddCommand(runCmd(), inspectCmd(), replayCmd(), feedCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fsim:", err)
		os.Exit(1)
	}
}
