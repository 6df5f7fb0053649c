package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/pgshare"
)

var logger pgshare.Logger

var rootCmd = &cobra.Command{
	Use:           "portguard",
	Short:         "Authenticated TCP reverse-tunnel and proxy, replacing ad-hoc SSH port-forwarding",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := pgshare.LogLevelInfo
		if v := os.Getenv("PORTGUARD_LOG"); v != "" {
			level = pgshare.StringToLogLevel(v)
		}
		logger = pgshare.NewLogger("portguard", level)
	},
}

func init() {
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(genCliCmd)
	rootCmd.AddCommand(genKeyCmd)
	rootCmd.AddCommand(listKeyCmd)
	rootCmd.AddCommand(modCliCmd)
	rootCmd.AddCommand(cloneCliCmd)
}

// Execute runs the root command, exiting non-zero on any propagated error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.ELogf("%s", err)
		} else {
			os.Stderr.WriteString(err.Error() + "\n")
		}
		os.Exit(1)
	}
}
