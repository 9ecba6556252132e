package main

import (
	"strings"

	adbstudio "github.com/aeke/adb-studio"
	"github.com/aeke/adb-studio/internal/settings"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func loadSettings() (*settings.Store, error) {
	path, err := settings.DefaultPath()
	if err != nil {
		return nil, err
	}
	return settings.Load(path)
}

// openApp builds the application from env, settings and root flags. With
// attach set it refreshes the device list once and selects the target device.
func openApp(cmd *cobra.Command, attach bool, tune func(*adbstudio.Config)) (*adbstudio.App, error) {
	store, err := loadSettings()
	if err != nil {
		return nil, err
	}
	cfg := adbstudio.ConfigFromEnv()
	cfg.ADBPath = firstNonEmpty(rootADB)
	if tune != nil {
		tune(&cfg)
	}
	app, err := adbstudio.New(cfg, store)
	if err != nil {
		return nil, err
	}
	if !attach {
		return app, nil
	}
	d, err := app.Attach(cmd.Context(), rootSerial)
	if err != nil {
		app.Close()
		return nil, err
	}
	log.Debug().Str("serial", d.Serial).Str("status", d.Status).Str("model", d.Model).Msg("target device selected")
	return app, nil
}
