package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/pipeline"
)

var (
	processPipeline  string
	processConfirmed bool
)

var processCmd = &cobra.Command{
	Use:   "process <job-id>",
	Short: "Run extraction for an analyzed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := pipeline.ProcessOptions{Confirmed: processConfirmed}
		switch processPipeline {
		case "":
		case string(constants.PipelineLocal):
			opts.Pipeline = constants.PipelineLocal
		case string(constants.PipelineCloud):
			opts.Pipeline = constants.PipelineCloud
		default:
			return fmt.Errorf("unknown pipeline %q (want local or cloud)", processPipeline)
		}

		res, err := a.processor.Process(ctx, args[0], opts)
		if err != nil {
			return err
		}
		if res.RequiresConfirmation {
			fmt.Fprintf(os.Stderr, "%s\nre-run with --confirmed to force local extraction\n", res.Warning)
			os.Exit(2)
		}
		return printJSON(res)
	},
}

func init() {
	processCmd.Flags().StringVar(&processPipeline, "pipeline", "", "override routing: local or cloud")
	processCmd.Flags().BoolVar(&processConfirmed, "confirmed", false, "acknowledge a local override on a cloud-graded page")
	rootCmd.AddCommand(processCmd)
}
