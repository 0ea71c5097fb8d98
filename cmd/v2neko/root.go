package main

import (
	"fmt"
	"os"

	"v2neko/internal/app"
	"v2neko/internal/config"
	"v2neko/internal/db"
	"v2neko/internal/engine"
	"v2neko/internal/geoip"
	"v2neko/internal/logger"
	"v2neko/internal/metrics"

	"github.com/spf13/cobra"
)

var cfgFile string
var verbose bool
var logFile string

var rootCmd = &cobra.Command{
	Use:   "v2neko",
	Short: "Manage vmess profiles and run them on a v2ray/xray engine",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(verbose, logFile)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append logs to file instead of stdout")
}

func configPath() string {
	if cfgFile == "" {
		return config.DefaultPath
	}
	return cfgFile
}

// session bundles what every profile command opens.
type session struct {
	cfg       *config.Config
	store     *db.Store
	geo       *geoip.Reader
	collector *metrics.Collector
	app       *app.App
}

func openSession() *session {
	cfg, err := config.Load(configPath())
	if err != nil {
		logger.Log.Fatalf("Error loading config: %v (run `v2neko init` first)", err)
	}

	store, err := db.Open(cfg.DatabasePath())
	if err != nil {
		logger.Log.Fatalf("Error opening DB: %v", err)
	}

	s := &session{
		cfg:       cfg,
		store:     store,
		geo:       geoip.Open(cfg.GeoIP.CountryPath),
		collector: metrics.New(),
	}
	s.app = app.New(cfg, store, app.Options{
		Registry: engine.DefaultRegistry(),
		Observer: s.collector,
		Geo:      s.geo,
	})
	return s
}

func (s *session) Close() {
	s.geo.Close()
	if err := s.store.Close(); err != nil {
		logger.Log.Warnf("Failed to close DB: %v", err)
	}
}
