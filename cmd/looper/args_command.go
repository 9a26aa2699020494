package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/looperlab/looper/internal/command"
)

func newArgsCommand(ctx *commandContext) *cobra.Command {
	var jobPath string
	var shell bool

	cmd := &cobra.Command{
		Use:   "args",
		Short: "Print the ffmpeg arguments a job file would run",
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := loadJob(jobPath)
			if err != nil {
				return err
			}
			job.warn(cmd.ErrOrStderr())
			opts, err := job.stagedOptions()
			if err != nil {
				return err
			}
			argv := command.Build(opts)
			out := cmd.OutOrStdout()
			if shell {
				fmt.Fprintln(out, shellJoin(append([]string{"ffmpeg"}, argv...)))
				return nil
			}
			for _, a := range argv {
				fmt.Fprintln(out, a)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&jobPath, "file", "f", "", "Job file (YAML)")
	cmd.Flags().BoolVar(&shell, "shell", false, "Print a single quoted command line")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// shellJoin quotes arguments for a POSIX shell.
func shellJoin(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a != "" && !strings.ContainsAny(a, " \t\n'\"\\$`;&|<>()[]*?!#~=,:") {
			parts[i] = a
			continue
		}
		parts[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(parts, " ")
}
