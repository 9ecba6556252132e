package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aeke/adb-studio/internal/agent/command"
	"github.com/aeke/adb-studio/internal/providers/adb"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRebootCmd() *cobra.Command {
	var flagMode string
	cmd := &cobra.Command{
		Use:   "reboot",
		Short: "Reboot the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := adb.ParseRebootMode(flagMode)
			if err != nil {
				return err
			}
			app, err := openApp(cmd, true, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Executor.Reboot(cmd.Context(), mode)
		},
	}
	cmd.Flags().StringVar(&flagMode, "mode", "", "重启目标：system、recovery 或 bootloader")
	return cmd
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect a network-attached device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, true, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Executor.Disconnect(cmd.Context())
		},
	}
}

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <command>...",
		Short: "Run a shell command on the device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, true, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			out, err := app.Executor.Shell(cmd.Context(), strings.Join(args, " "))
			fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <local> <remote>",
		Short: "Copy a local file to the device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, true, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			out, err := app.Executor.Push(cmd.Context(), args[0], args[1])
			fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <remote> <local>",
		Short: "Copy a device file to the local machine",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, true, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			out, err := app.Executor.Pull(cmd.Context(), args[0], args[1])
			fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func newPackagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "packages",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, true, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			pkgs, err := app.RefreshPackages(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range pkgs {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newScreenshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "screenshot <path>",
		Short: "Capture the screen into a PNG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, true, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			n, err := app.Executor.Screenshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", args[0], humanize.IBytes(uint64(n)))
			return nil
		},
	}
}

func newRecordCmd() *cobra.Command {
	var flagRemote string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the screen until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, true, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := cmd.Context()
			if err := app.Executor.StartRecording(ctx, flagRemote); err != nil {
				return err
			}
			log.Info().Msg("recording, press Ctrl+C to stop")
			<-ctx.Done()

			// the command context is cancelled at this point
			out, err := app.Executor.StopRecording(context.WithoutCancel(ctx))
			if strings.TrimSpace(out) != "" {
				fmt.Fprint(cmd.OutOrStdout(), out)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), firstNonEmpty(flagRemote, command.DefaultRecordingPath))
			return nil
		},
	}
	cmd.Flags().StringVar(&flagRemote, "remote", command.DefaultRecordingPath, "设备端录屏文件路径")
	return cmd
}
