package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func locationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Inspect device locations",
	}

	cmd.AddCommand(locationLastCmd())
	cmd.AddCommand(locationHistoryCmd())
	cmd.AddCommand(locationNearbyCmd())

	return cmd
}

// --- location last ---

func locationLastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last <imei>",
		Short: "Show the most recent position of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := connectStore()
			if err != nil {
				return err
			}
			defer closeQuietly(st)

			loc, err := st.GetLastLocation(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("get last location: %w", err)
			}

			out, err := formatLocation(loc, outputFormat)
			if err != nil {
				return fmt.Errorf("format location: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- location history ---

func locationHistoryCmd() *cobra.Command {
	var (
		since time.Duration
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history <imei>",
		Short: "Show recent positions of a device, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := connectStore()
			if err != nil {
				return err
			}
			defer closeQuietly(st)

			cutoff := time.Now().UTC().Add(-since)
			locs, err := st.GetLocationHistory(context.Background(), args[0], cutoff, limit)
			if err != nil {
				return fmt.Errorf("get location history: %w", err)
			}

			out, err := formatLocations(locs, outputFormat)
			if err != nil {
				return fmt.Errorf("format locations: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&since, "since", 24*time.Hour, "how far back to look")
	flags.IntVar(&limit, "limit", 100, "maximum rows to return (0 means no cap)")

	return cmd
}

// --- location nearby ---

func locationNearbyCmd() *cobra.Command {
	var radiusKm float64

	cmd := &cobra.Command{
		Use:   "nearby <lat> <lon>",
		Short: "Find devices near a point",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("parse latitude %q: %w", args[0], err)
			}
			lon, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parse longitude %q: %w", args[1], err)
			}

			st, err := connectStore()
			if err != nil {
				return err
			}
			defer closeQuietly(st)

			results, err := st.GetNearby(context.Background(), lat, lon, radiusKm)
			if err != nil {
				return fmt.Errorf("get nearby devices: %w", err)
			}

			out, err := formatNearby(results, outputFormat)
			if err != nil {
				return fmt.Errorf("format nearby results: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	cmd.Flags().Float64Var(&radiusKm, "radius-km", 5, "search radius in kilometres")

	return cmd
}
