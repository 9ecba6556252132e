package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeke/adb-studio/internal/env"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "adbstudio",
	Short: "Drive Android devices through the adb command line tool",
	Long: `adbstudio 通过 adb 命令行管理 Android 设备：设备发现、单次命令、logcat 采集、
安装/卸载流水线与历史记录，统一加载环境并输出结构化日志。`,
	SilenceUsage: true,
}

var (
	rootADB      string
	rootSerial   string
	rootLogLevel string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootADB, "adb", "", "adb 可执行文件路径，覆盖 ADBSTUDIO_ADB_PATH 与 settings")
	rootCmd.PersistentFlags().StringVarP(&rootSerial, "serial", "s", "", "目标设备序列号，仅一台设备时可省略")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "日志级别 (debug/info/warn/error)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(rootLogLevel)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		return nil
	}
	rootCmd.AddCommand(
		newDevicesCmd(),
		newRebootCmd(),
		newDisconnectCmd(),
		newShellCmd(),
		newPushCmd(),
		newPullCmd(),
		newPackagesCmd(),
		newInstallCmd(),
		newUninstallCmd(),
		newScreenshotCmd(),
		newRecordCmd(),
		newLogcatCmd(),
		newHistoryCmd(),
		newSettingsCmd(),
	)
	_ = env.Ensure()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("adbstudio command failed")
	}
}
