package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func deviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Inspect registered devices",
	}

	cmd.AddCommand(deviceListCmd())
	cmd.AddCommand(deviceShowCmd())

	return cmd
}

// --- device list ---

func deviceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all registered devices",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := connectStore()
			if err != nil {
				return err
			}
			defer closeQuietly(st)

			devices, err := st.ListDevices(context.Background())
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}

			out, err := formatDevices(devices, outputFormat)
			if err != nil {
				return fmt.Errorf("format devices: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- device show ---

func deviceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <imei>",
		Short: "Show details of a registered device",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := connectStore()
			if err != nil {
				return err
			}
			defer closeQuietly(st)

			dev, err := st.GetDeviceByIMEI(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("get device: %w", err)
			}

			out, err := formatDevice(dev, outputFormat)
			if err != nil {
				return fmt.Errorf("format device: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
