package cmd

import (
	"github.com/spf13/cobra"

	"gantry/internal/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "Gantry - a hardware bridge daemon",
	Long: `Gantry is a daemon that bridges attached hardware onto the network.
It multiplexes many simultaneous client connections, over plain stream
sockets and WebSockets, onto a single internal packet bus.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel(logger.LOG_DEBUG)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
}
