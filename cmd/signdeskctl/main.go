// signdeskctl inspects signdesk's durable session and quote documents.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/signdesk/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	primaryDSN  string
	fallbackDir string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:           "signdeskctl",
	Short:         "Inspect signdesk sessions, quotes and storage tiers",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&primaryDSN, "dsn", envOr("PRIMARY_DSN", "./data/signdesk.db"), "primary store DSN (sqlite path or postgres:// URL)")
	rootCmd.PersistentFlags().StringVar(&fallbackDir, "fallback-dir", envOr("FALLBACK_DIR", "./data/local_storage"), "local fallback directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openStore builds the same primary/fallback pair the server uses.
func openStore(ctx context.Context) (*store.Coordinator, error) {
	primary, err := store.OpenPrimary(primaryDSN)
	if err != nil {
		slog.Warn("Primary store unavailable, reading fallback only", "error", err)
		primary = nil
	}
	if fallbackDir == "" {
		return nil, fmt.Errorf("fallback directory is required")
	}
	return store.NewCoordinator(ctx, primary, store.NewFileBackend(fallbackDir), store.CoordinatorOptions{
		Logger: slog.Default(),
	}), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
