package main

import (
	"fmt"

	adbstudio "github.com/aeke/adb-studio"
	"github.com/aeke/adb-studio/internal/agent/install"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func logJobProgress(job install.Job) {
	log.Info().
		Str("job_id", job.ID).
		Str("stage", string(job.Stage)).
		Int("progress", job.Progress).
		Msg("job progress")
}

func newInstallCmd() *cobra.Command {
	var flagCleanup bool
	cmd := &cobra.Command{
		Use:   "install <apk>",
		Short: "Push and install an APK, replacing any existing version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, true, func(cfg *adbstudio.Config) {
				cfg.CleanupStaged = flagCleanup
			})
			if err != nil {
				return err
			}
			defer app.Close()
			app.Pipeline.Observe(logJobProgress)
			job, err := app.Install(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", job.ID, job.Stage, firstNonEmpty(job.Package, job.Artifact))
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagCleanup, "cleanup", false, "安装后删除设备上的暂存文件")
	return cmd
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <package>",
		Short: "Uninstall a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, true, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			if _, err := app.RefreshPackages(cmd.Context()); err != nil {
				log.Warn().Err(err).Msg("load package list failed, uninstalling without check")
			}
			app.Pipeline.Observe(logJobProgress)
			job, err := app.Uninstall(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", job.ID, job.Stage, job.Package)
			return nil
		},
	}
}
