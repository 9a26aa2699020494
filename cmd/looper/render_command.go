package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/looperlab/looper/internal/render"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var jobPath, outPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a job file locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := loadJob(jobPath)
			if err != nil {
				return err
			}
			job.warn(cmd.ErrOrStderr())
			req, err := job.request()
			if err != nil {
				return err
			}

			logger := ctx.cliLogger(verbose)
			s, err := ctx.openStack(logger)
			if err != nil {
				return err
			}
			defer s.Close()
			if !s.engine.Loaded() {
				return fmt.Errorf("%w: is `looper serve` already running?", render.ErrEngineNotReady)
			}

			bar := progressbar.NewOptions(100,
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("Rendering"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "█",
					SaucerHead:    "█",
					SaucerPadding: "░",
					BarStart:      "▐",
					BarEnd:        "▌",
				}),
				progressbar.OptionSetWidth(50),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetRenderBlankState(true),
			)

			result, err := s.service.Render(cmd.Context(), req, func(pct int) {
				_ = bar.Set(pct)
			})
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				if result != nil && result.Error != "" {
					return errors.New(result.Error)
				}
				return err
			}

			if outPath == "" {
				outPath = filepath.Join(filepath.Dir(jobPath), "looper-"+shortID(result.ID)+".mp4")
			}
			if err := copyFile(result.OutputPath, outPath); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s)\n",
				outPath,
				humanize.Bytes(uint64(result.OutputSize)),
				(time.Duration(result.DurationMs) * time.Millisecond).Round(time.Second),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&jobPath, "file", "f", "", "Job file (YAML)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default: next to the job file)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log at the configured level")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open render output: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy output: %w", err)
	}
	return out.Close()
}
