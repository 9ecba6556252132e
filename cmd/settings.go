package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change persisted settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the settings file and its values",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := loadSettings()
				if err != nil {
					return err
				}
				st := store.Settings()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "file:      %s\n", store.Path())
				fmt.Fprintf(out, "adb_path:  %s\n", st.ADBPath)
				fmt.Fprintf(out, "dark_mode: %t\n", st.DarkMode)
				if effective := store.ADBPath(); effective != st.ADBPath {
					fmt.Fprintf(out, "effective adb_path: %s (from environment)\n", effective)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "set-adb <path>",
			Short: "Store the adb binary path (empty string resolves from PATH)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := loadSettings()
				if err != nil {
					return err
				}
				return store.SetADBPath(args[0])
			},
		},
		&cobra.Command{
			Use:   "set-dark <true|false>",
			Short: "Store the dark mode preference",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				enabled, err := strconv.ParseBool(args[0])
				if err != nil {
					return err
				}
				store, err := loadSettings()
				if err != nil {
					return err
				}
				return store.SetDarkMode(enabled)
			},
		},
	)
	return cmd
}
