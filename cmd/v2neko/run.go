package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"v2neko/internal/config"
	"v2neko/internal/logger"
	"v2neko/internal/stream"

	"github.com/spf13/cobra"
)

var (
	flagWatch   bool
	flagStream  bool
	flagMetrics bool
)

const pollInterval = 200 * time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Activate a profile and supervise the engine until interrupted",
	Long:  `Activate a profile and relay engine output. --watch re-applies the config file when it changes, --stream serves output over WebSocket and --metrics exposes Prometheus metrics.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := s.app.Activate(ctx, args[0]); err != nil {
			logger.Log.Fatalf("Failed to activate %s: %v", args[0], err)
		}
		defer func() {
			if err := s.app.Deactivate(); err != nil {
				logger.Log.Errorf("Failed to stop engine: %v", err)
			}
		}()

		var hub *stream.Hub
		if flagStream {
			hub = stream.NewHub()
			go func() {
				if err := hub.Serve(ctx, s.cfg.Stream.Listen); err != nil {
					logger.Log.Errorf("Stream server failed: %v", err)
				}
			}()
		}
		if flagMetrics {
			go func() {
				if err := s.collector.Serve(ctx, s.cfg.Metrics.Listen); err != nil {
					logger.Log.Errorf("Metrics server failed: %v", err)
				}
			}()
		}
		if flagWatch {
			go func() {
				err := config.Watch(ctx, configPath(), func(cfg *config.Config) {
					if err := s.app.Reload(ctx, cfg); err != nil {
						logger.Log.Errorf("Failed to apply new config: %v", err)
						return
					}
					logger.Log.Info("🔄 Config reloaded")
				})
				if err != nil {
					logger.Log.Errorf("Config watcher failed: %v", err)
				}
			}()
		}

		relay := func() {
			text, ok := s.app.PollOutput()
			if !ok {
				return
			}
			fmt.Println(text)
			if hub != nil {
				hub.Publish(text)
			}
		}

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				relay()
				logger.Log.Info("Shutting down")
				return
			case <-ticker.C:
				relay()
				if s.app.Active() == "" {
					relay()
					logger.Log.Error("❌ Engine exited")
					return
				}
			}
		}
	},
}

func init() {
	runCmd.Flags().BoolVar(&flagWatch, "watch", false, "Reload when the config file changes")
	runCmd.Flags().BoolVar(&flagStream, "stream", false, "Serve engine output over WebSocket")
	runCmd.Flags().BoolVar(&flagMetrics, "metrics", false, "Serve Prometheus metrics")
	rootCmd.AddCommand(runCmd)
}
