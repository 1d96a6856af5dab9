package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gotrack/internal/bus"
)

func monitorCmd() *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream gateway events from a queue",
		Long: "Consumes an event queue and renders each message until interrupted " +
			"(Ctrl+C). Consumed messages are acknowledged and removed.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			b, err := connectBus()
			if err != nil {
				return err
			}
			defer closeQuietly(b)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = b.Consume(ctx, queue, func(_ context.Context, d bus.Delivery) {
				out, fmtErr := formatQueueEvent(d.Body(), outputFormat)
				if fmtErr != nil {
					fmt.Fprintln(os.Stderr, "Error:", fmtErr)
				} else {
					fmt.Println(out)
				}

				if ackErr := d.Ack(); ackErr != nil {
					fmt.Fprintln(os.Stderr, "Warning:", ackErr)
				}
			})
			if err != nil {
				return fmt.Errorf("consume %s: %w", queue, err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&queue, "queue", bus.QueueTrackerMessages,
		"queue to consume events from")

	return cmd
}
