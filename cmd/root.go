package cmd

import (
	"fmt"
	"os"

	"soniqfm/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "soniqfm",
	Short: "SoniqFM ingests audio uploads and transcodes them into streamable segments.",
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
