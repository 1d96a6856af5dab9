package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gotrack/internal/bus"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show fleet-wide counts and queue depths",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := connectStore()
			if err != nil {
				return err
			}
			defer closeQuietly(st)

			sys, err := st.GetSystemStats(context.Background())
			if err != nil {
				return fmt.Errorf("get system stats: %w", err)
			}

			// Queue depths are best-effort: stats still renders when
			// the broker is unreachable.
			queues, err := collectQueueStats()
			if err != nil {
				fmt.Fprintln(os.Stderr, "Warning:", err)
			}

			out, err := formatStats(sys, queues, outputFormat)
			if err != nil {
				return fmt.Errorf("format stats: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// collectQueueStats gathers depth and consumer counts for every gateway
// queue.
func collectQueueStats() ([]bus.QueueStats, error) {
	b, err := connectBus()
	if err != nil {
		return nil, err
	}
	defer closeQuietly(b)

	stats := make([]bus.QueueStats, 0, len(bus.DefaultQueues))
	for _, q := range bus.DefaultQueues {
		qs, err := b.QueueStats(context.Background(), q)
		if err != nil {
			return stats, fmt.Errorf("stats for queue %s: %w", q, err)
		}
		stats = append(stats, qs)
	}

	return stats, nil
}
