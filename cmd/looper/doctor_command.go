package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/looperlab/looper/internal/engine"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that ffmpeg has everything a render needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := ctx.newEngine(ctx.cliLogger(false))

			probeCtx, cancel := context.WithTimeout(cmd.Context(), ctx.config.ProbeTimeout())
			defer cancel()

			caps, err := eng.Probe(probeCtx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doctorTable(caps))
			if !caps.Ready() {
				return fmt.Errorf("ffmpeg is missing: %s", strings.Join(caps.Missing, ", "))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ffmpeg is ready.")
			return nil
		},
	}
}

func doctorTable(caps *engine.Capabilities) string {
	rows := [][]string{
		{"binary", caps.Binary, ""},
		{"version", caps.Version, ""},
	}
	for _, name := range engine.RequiredEncoders {
		rows = append(rows, []string{"encoder", name, mark(caps.Encoders[name])})
	}
	for _, name := range engine.RequiredFilters {
		rows = append(rows, []string{"filter", name, mark(caps.Filters[name])})
	}
	return renderTable([]string{"Check", "Name", "OK"}, rows, nil)
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "MISSING"
}
