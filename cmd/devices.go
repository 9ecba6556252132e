package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/aeke/adb-studio/internal/agent/device"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	var (
		flagWatch bool
		flagKnown bool
	)
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List attached devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, false, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			out := cmd.OutOrStdout()

			if flagKnown {
				if app.History == nil {
					return errors.New("history store is disabled (ADBSTUDIO_HISTORY=false)")
				}
				records, err := app.History.ListDevices(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SERIAL\tSTATUS\tMODEL\tLAST SEEN")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Serial, r.Status, r.Model, humanize.Time(r.LastSeen))
				}
				return tw.Flush()
			}

			if !flagWatch {
				if err := app.Registry.Refresh(cmd.Context()); err != nil {
					return err
				}
				return printDevices(out, app.Registry.Devices())
			}

			updates, cancel := app.Registry.Subscribe()
			defer cancel()
			errCh := make(chan error, 1)
			go func() { errCh <- app.Run(cmd.Context()) }()
			for {
				select {
				case snap := <-updates:
					if err := printSnapshot(out, snap); err != nil {
						return err
					}
				case err := <-errCh:
					return err
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "持续输出设备列表变化，直到中断")
	cmd.Flags().BoolVar(&flagKnown, "known", false, "列出历史库中见过的所有设备")
	return cmd
}

func printDevices(w io.Writer, devices []device.Device) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tSTATUS\tMODEL")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Serial, d.Status, d.Model)
	}
	return tw.Flush()
}

// printSnapshot writes one watch frame. Snapshots published before the first
// device listing are skipped.
func printSnapshot(w io.Writer, snap device.Snapshot) error {
	if snap.Version == 0 || snap.UpdatedAt.IsZero() {
		return nil
	}
	fmt.Fprintf(w, "-- %s (v%d)\n", snap.UpdatedAt.Format("15:04:05"), snap.Version)
	return printDevices(w, snap.Devices)
}
