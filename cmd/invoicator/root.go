// invoicator ingests scanned invoices: OCR and quality grading first, then
// local heuristic or Claude vision extraction into structured records.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/invoicator-app/invoicator/internal/common"
)

var (
	cfg    *common.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "invoicator",
	Short: "Scanned invoice extraction pipeline",
	Long:  "Analyzes scanned invoices for OCR quality, routes them to a local heuristic parser or Claude vision, and stores structured invoice records.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = common.LoadConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger = newLogger()
		slog.SetDefault(logger)
		return nil
	},
	SilenceUsage: true,
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
