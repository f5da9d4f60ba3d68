package cmd

import (
	"soniqfm/server"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start ingestion workers without the API server",
	Long:  "Runs only the queue consumers so transcoding can be scaled separately from the API process.",
	Run: func(cmd *cobra.Command, args []string) {
		server.StartWorker()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
