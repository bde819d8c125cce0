package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show where a job stands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.processor.Status(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(snap)
	},
}

var cleanupForce bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep expired jobs and orphaned scratch files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if cleanupForce {
			res, err := a.sweeper.ForceCleanup(ctx)
			if err != nil {
				return err
			}
			return printJSON(res)
		}
		res, err := a.sweeper.SweepExpired(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		orphans, err := a.sweeper.SweepOrphans(ctx)
		if err != nil {
			return err
		}
		res.OrphanedJobs += orphans.OrphanedJobs
		res.Errors = append(res.Errors, orphans.Errors...)
		return printJSON(res)
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "delete every job and scratch file regardless of TTL")
	rootCmd.AddCommand(statusCmd, cleanupCmd)
}
