package cmd

import (
	"fmt"

	"soniqfm/config"
	"soniqfm/db"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check Redis connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if err := db.ConnectRedis(cfg); err != nil {
			return err
		}
		defer db.CloseRedis()

		if err := db.TestRedis(); err != nil {
			return err
		}
		fmt.Println("Redis connection OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
