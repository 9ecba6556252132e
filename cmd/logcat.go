package main

import (
	"context"
	"fmt"
	"time"

	adbstudio "github.com/aeke/adb-studio"
	"github.com/aeke/adb-studio/internal/agent/stream"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newLogcatCmd() *cobra.Command {
	var (
		flagSave     string
		flagDuration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "logcat",
		Short: "Stream the device log until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			app, err := openApp(cmd, true, func(cfg *adbstudio.Config) {
				cfg.LogSink = stream.SinkFunc(func(line string) { fmt.Fprintln(out, line) })
			})
			if err != nil {
				return err
			}
			defer app.Close()
			session := app.Session

			ctx := cmd.Context()
			if flagDuration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, flagDuration)
				defer cancel()
			}
			if err := app.StartLogcat(ctx); err != nil {
				return err
			}

			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
		wait:
			for {
				select {
				case <-ctx.Done():
					break wait
				case <-ticker.C:
					if session.State() == stream.Idle {
						break wait
					}
				}
			}

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := app.StopLogcat(stopCtx); err != nil {
				return err
			}
			if flagSave != "" {
				if err := app.Logs.Export(flagSave); err != nil {
					return err
				}
				log.Info().Str("path", flagSave).Int("lines", app.Logs.Len()).
					Str("dropped", humanize.Comma(int64(app.Logs.Dropped()))).Msg("logcat saved")
			}
			return session.LastError()
		},
	}
	cmd.Flags().StringVar(&flagSave, "save", "", "结束后保存日志，.zst 后缀时使用 zstd 压缩")
	cmd.Flags().DurationVar(&flagDuration, "duration", 0, "采集时长，0 表示直到中断")
	return cmd
}
