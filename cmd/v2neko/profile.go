package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"v2neko/internal/config"
	"v2neko/internal/logger"
	"v2neko/internal/subscription"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file if none exists",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, created, err := config.Bootstrap(configPath())
		if err != nil {
			logger.Log.Fatalf("Failed to bootstrap config: %v", err)
		}
		if created {
			logger.Log.Infof("✅ Wrote default config to %s", configPath())
		} else {
			logger.Log.Infof("Config %s already exists", configPath())
		}
		if err := os.MkdirAll(cfg.ProfilesDir(), 0o755); err != nil {
			logger.Log.Fatalf("Failed to create %s: %v", cfg.ProfilesDir(), err)
		}
	},
}

var addCmd = &cobra.Command{
	Use:   "add <name> <link>",
	Short: "Import a single vmess:// link",
	Long:  `Import a single vmess:// link. Pass "" as the name to use the name carried by the link.`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		p, created, err := s.app.ImportLink(context.Background(), args[0], args[1])
		if err != nil {
			logger.Log.Fatalf("Import failed: %v", err)
		}
		if !created {
			logger.Log.Infof("Link already stored as %s (%s)", p.Name, p.ID)
		}
		fmt.Println(p.ID)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file|url>",
	Short: "Import every vmess:// link in a file or subscription",
	Long:  `Import links from a file, a subscription URL, or "-" for standard input. Base64 subscription bodies are decoded.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		var text string
		if subscription.IsURL(args[0]) {
			body, err := subscription.Fetch(context.Background(), args[0], subscription.Options{Proxy: flagProxy})
			if err != nil {
				logger.Log.Fatalf("Failed to fetch %s: %v", args[0], err)
			}
			text = body
		} else {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				logger.Log.Fatalf("Failed to read %s: %v", args[0], err)
			}
			text = string(data)
		}

		rep := s.app.ImportText(context.Background(), text)
		for _, err := range rep.Failed {
			logger.Log.Warnf("Skipped link: %v", err)
		}
		logger.Log.Infof("✅ Imported %d profiles (%d duplicates, %d failed)", len(rep.Added), rep.Duplicates, len(rep.Failed))
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		profiles, err := s.app.List()
		if err != nil {
			logger.Log.Fatalf("Failed to list profiles: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tADDRESS\tCOUNTRY\tDELAY\tUP\tDOWN")
		for _, p := range profiles {
			delay := "-"
			if p.Measured() {
				delay = fmt.Sprintf("%dms", p.Delay)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s:%d\t%s\t%s\t%s\t%s\n",
				p.ID, p.Name, p.Type, p.Address, p.Port, p.Country, delay,
				humanize.IBytes(uint64(p.Upload)), humanize.IBytes(uint64(p.Download)))
		}
		w.Flush()
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Print a profile as a vmess:// link",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		link, err := s.app.ExportLink(args[0])
		if err != nil {
			logger.Log.Fatalf("Export failed: %v", err)
		}
		fmt.Println(link)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a profile and its artifact",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		if err := s.app.Delete(args[0]); err != nil {
			logger.Log.Fatalf("Delete failed: %v", err)
		}
	},
}

var flagProxy string

func init() {
	importCmd.Flags().StringVar(&flagProxy, "proxy", "", "Fetch subscriptions through this proxy (http:// or socks5://)")
	rootCmd.AddCommand(initCmd, addCmd, importCmd, listCmd, exportCmd, deleteCmd)
}
