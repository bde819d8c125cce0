package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/invoicator-app/invoicator/internal/pipeline"
	"github.com/invoicator-app/invoicator/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with background workers and the expiry sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		queue := pipeline.NewQueue(a.processor, logger,
			pipeline.WithWorkers(cfg.Jobs.Workers),
			pipeline.WithQueueSize(cfg.Jobs.QueueSize),
		)
		queue.Start()

		go a.sweeper.Run(ctx, cfg.Jobs.SweepInterval)

		srv := server.New(cfg.Server.HTTPAddr, server.Deps{
			Processor: a.processor,
			Queue:     queue,
			Store:     a.store,
			Vault:     a.vault,
			Files:     a.files,
			Sweeper:   a.sweeper,
			Export:    a.export,
		}, logger)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server.shutdown_incomplete", "error", err)
		}
		if err := queue.Shutdown(shutdownCtx); err != nil {
			logger.Warn("queue.shutdown_incomplete", "error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
