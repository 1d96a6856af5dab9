package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gotrack/internal/bus"
	"github.com/dantte-lp/gotrack/internal/store"
)

// Sentinel errors for missing connection parameters.
var (
	errDatabaseURLRequired = errors.New("database URL required (--database-url or DATABASE_URL)")
	errRabbitURLRequired   = errors.New("broker URL required (--rabbitmq-url or RABBITMQ_URL)")
)

var (
	// outputFormat controls the output format for all commands
	// (table, json, or yaml).
	outputFormat string

	// databaseURL is the PostgreSQL DSN, from --database-url or the
	// DATABASE_URL environment variable.
	databaseURL string

	// rabbitURL is the broker DSN, from --rabbitmq-url or the
	// RABBITMQ_URL environment variable.
	rabbitURL string
)

// rootCmd is the top-level cobra command for gotrackctl.
var rootCmd = &cobra.Command{
	Use:   "gotrackctl",
	Short: "CLI client for the GoTrack gateway",
	Long: "gotrackctl inspects the GoTrack device fleet, location history, and " +
		"command queues by connecting directly to the store and the broker.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"),
		"PostgreSQL DSN (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&rabbitURL, "rabbitmq-url", os.Getenv("RABBITMQ_URL"),
		"RabbitMQ DSN (defaults to RABBITMQ_URL)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json, yaml")

	rootCmd.AddCommand(deviceCmd())
	rootCmd.AddCommand(locationCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// -------------------------------------------------------------------------
// Backend Connections
// -------------------------------------------------------------------------

// cliLogger returns a quiet stderr logger for the store and bus adapters,
// keeping stdout clean for command output.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// connectStore opens the PostgreSQL store. Each command connects lazily
// so shell and version work without infrastructure.
func connectStore() (store.Store, error) {
	if databaseURL == "" {
		return nil, errDatabaseURLRequired
	}

	st, err := store.NewPostgres(store.PostgresConfig{URL: databaseURL}, cliLogger())
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	return st, nil
}

// connectBus opens the RabbitMQ broker connection.
func connectBus() (bus.Bus, error) {
	if rabbitURL == "" {
		return nil, errRabbitURLRequired
	}

	b, err := bus.NewRabbit(bus.RabbitConfig{URL: rabbitURL}, cliLogger())
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	return b, nil
}

// closeQuietly closes a backend handle, reporting failures on stderr.
func closeQuietly(c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "Warning:", err)
	}
}
