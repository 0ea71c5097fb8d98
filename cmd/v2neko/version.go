package main

import (
	"context"
	"fmt"
	"time"

	"v2neko/internal/logger"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the configured engine",
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		v, err := s.app.CheckVersion(ctx)
		if err != nil {
			logger.Log.Fatalf("Version check failed: %v", err)
		}
		fmt.Println(v)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
