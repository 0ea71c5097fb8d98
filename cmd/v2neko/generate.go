package main

import (
	"fmt"

	"v2neko/internal/logger"
	"v2neko/internal/xray"
	"v2neko/internal/xray/schema"

	"github.com/spf13/cobra"
)

var (
	flagCheck bool
	flagOut   string
)

var generateCmd = &cobra.Command{
	Use:   "generate <id>",
	Short: "Assemble the engine document for a profile",
	Long:  `Assemble the engine document for a profile and print it, or write it with --out. --check also builds it with xray-core to catch errors the engine would reject.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		doc, err := s.app.Document(args[0])
		if err != nil {
			logger.Log.Fatalf("Failed to assemble document: %v", err)
		}

		if flagCheck {
			if err := xray.Check(doc); err != nil {
				logger.Log.Fatalf("❌ Document rejected by xray-core: %v", err)
			}
			logger.Log.Info("✅ Document accepted by xray-core")
		}

		if flagOut != "" {
			if err := xray.WriteDocument(flagOut, doc); err != nil {
				logger.Log.Fatalf("Failed to write %s: %v", flagOut, err)
			}
			logger.Log.Infof("Wrote %s", flagOut)
			return
		}

		data, err := schema.Marshal(doc)
		if err != nil {
			logger.Log.Fatalf("Failed to encode document: %v", err)
		}
		fmt.Println(string(data))
	},
}

func init() {
	generateCmd.Flags().BoolVar(&flagCheck, "check", false, "Validate the document with xray-core")
	generateCmd.Flags().StringVarP(&flagOut, "out", "o", "", "Write the document to a file")
	rootCmd.AddCommand(generateCmd)
}
