package main

import (
	"context"
	"os"
	"os/signal"

	"v2neko/internal/logger"
	"v2neko/internal/tester"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	flagMode    string
	flagWorkers int
)

var probeCmd = &cobra.Command{
	Use:   "probe [ids...]",
	Short: "Measure profile latency",
	Long:  `Measure latency of the given profiles, or of all profiles. --mode tcp times a handshake with the server; --mode proxy times an HTTP request through an in-process engine.`,
	Run: func(cmd *cobra.Command, args []string) {
		mode := tester.Mode(flagMode)
		if mode != tester.ModeTCP && mode != tester.ModeProxy {
			logger.Log.Fatalf("Unknown probe mode %q", flagMode)
		}

		s := openSession()
		defer s.Close()
		if flagWorkers > 0 {
			s.cfg.Probe.Workers = flagWorkers
		}

		total := len(args)
		if total == 0 {
			profiles, err := s.app.List()
			if err != nil {
				logger.Log.Fatalf("Failed to list profiles: %v", err)
			}
			total = len(profiles)
		}
		if total == 0 {
			logger.Log.Error("❌ No profiles to probe.")
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		bar := progressbar.NewOptions(total,
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(15),
			progressbar.OptionSetDescription("[cyan]Probing...[reset]"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)

		err := s.app.Probe(ctx, args, mode, s.collector, func(tester.Result) {
			bar.Add(1)
		})
		bar.Finish()
		if err != nil {
			logger.Log.Fatalf("Probe failed: %v", err)
		}
		s.collector.PrintReport(os.Stdout, s.cfg.Probe.Timeout)
	},
}

func init() {
	probeCmd.Flags().StringVar(&flagMode, "mode", string(tester.ModeTCP), "Probe mode: tcp or proxy")
	probeCmd.Flags().IntVarP(&flagWorkers, "workers", "w", 0, "Override worker count")
	rootCmd.AddCommand(probeCmd)
}
