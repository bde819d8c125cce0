package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/invoicator-app/invoicator/internal/vault"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage provider API keys in the encrypted vault",
}

var apikeyProvider string

var apikeyStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Encrypt and store an API key (read from stdin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Fprint(os.Stderr, "API key: ")
		reader := bufio.NewReader(os.Stdin)
		key, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading key: %w", err)
		}
		if err := a.vault.Store(ctx, apikeyProvider, strings.TrimSpace(key)); err != nil {
			return err
		}
		fmt.Printf("stored key for %s (vault key v%d)\n", apikeyProvider, a.vault.KeyVersion())
		return nil
	},
}

var apikeyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List stored credentials with masked key prefixes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		statuses, err := a.vault.StatusList(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("vault key: v%d, age %s\n", a.vault.KeyVersion(), a.vault.KeyAge().Round(time.Second))
		return printJSON(statuses)
	},
}

var apikeyValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the stored key against the provider API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		valid, err := a.vault.Validate(ctx, apikeyProvider)
		if err != nil {
			return err
		}
		if !valid {
			fmt.Printf("%s: key rejected by provider\n", apikeyProvider)
			os.Exit(1)
		}
		fmt.Printf("%s: key valid\n", apikeyProvider)
		return nil
	},
}

var apikeyDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored key",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.vault.Delete(ctx, apikeyProvider); err != nil {
			return err
		}
		fmt.Printf("deleted key for %s\n", apikeyProvider)
		return nil
	},
}

var apikeyRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-encrypt every credential under a fresh vault key",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.vault.Rotate(ctx); err != nil {
			return err
		}
		fmt.Printf("rotated vault key to v%d\n", a.vault.KeyVersion())
		return nil
	},
}

func init() {
	apikeyCmd.PersistentFlags().StringVar(&apikeyProvider, "provider", vault.ProviderAnthropic, "credential provider name")
	apikeyCmd.AddCommand(apikeyStoreCmd, apikeyStatusCmd, apikeyValidateCmd, apikeyDeleteCmd, apikeyRotateCmd)
	rootCmd.AddCommand(apikeyCmd)
}
