package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/looperlab/looper/internal/render"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent renders",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, repo, err := ctx.openDB(nil)
			if err != nil {
				return err
			}
			defer database.Close()

			jobs, err := repo.ListRenders(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No renders yet.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), historyTable(jobs, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of renders to show")
	return cmd
}

func historyTable(jobs []*render.Job, now time.Time) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		size := "-"
		if j.Status == render.StatusCompleted {
			if j.OutputPath == "" {
				size = "expired"
			} else {
				size = humanize.Bytes(uint64(j.OutputSize))
			}
		}
		status := j.Status
		if j.Status == render.StatusRunning {
			status += " " + strconv.Itoa(j.Progress) + "%"
		}
		rows = append(rows, []string{
			shortID(j.ID),
			status,
			j.VideoName,
			size,
			humanize.RelTime(j.CreatedAt, now, "ago", "from now"),
			j.Error,
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Video", "Output", "Created", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
