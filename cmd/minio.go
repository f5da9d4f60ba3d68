package cmd

import (
	"fmt"

	"soniqfm/config"
	"soniqfm/logger"
	"soniqfm/storage"

	"github.com/spf13/cobra"
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Check MinIO connectivity and bucket access",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logger.Init(logger.Config{Level: cfg.LogLevel})

		if err := storage.Check(cfg); err != nil {
			return err
		}
		fmt.Println("MinIO connection OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)
}
