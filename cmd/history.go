package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var flagLimit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent install and uninstall jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, false, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			if app.History == nil {
				return errors.New("history store is disabled (ADBSTUDIO_HISTORY=false)")
			}
			jobs, err := app.History.ListJobs(cmd.Context(), flagLimit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tKIND\tSERIAL\tSTAGE\tTARGET\tSTARTED\tREASON")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.Kind, j.Serial, j.Stage, firstNonEmpty(j.Package, j.Artifact),
					humanize.Time(j.StartedAt), j.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&flagLimit, "limit", 20, "最多显示的记录数，0 表示全部")
	return cmd
}
