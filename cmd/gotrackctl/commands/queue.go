package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage broker queues",
	}

	cmd.AddCommand(queueStatsCmd())
	cmd.AddCommand(queuePurgeCmd())

	return cmd
}

// --- queue stats ---

func queueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <queue>",
		Short: "Show message and consumer counts for a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			b, err := connectBus()
			if err != nil {
				return err
			}
			defer closeQuietly(b)

			qs, err := b.QueueStats(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("queue stats: %w", err)
			}

			out, err := formatQueueStats(qs, outputFormat)
			if err != nil {
				return fmt.Errorf("format queue stats: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- queue purge ---

func queuePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <queue>",
		Short: "Drop all ready messages from a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			b, err := connectBus()
			if err != nil {
				return err
			}
			defer closeQuietly(b)

			n, err := b.Purge(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("purge queue: %w", err)
			}

			fmt.Printf("Purged %d messages from %s.\n", n, args[0])

			return nil
		},
	}
}
