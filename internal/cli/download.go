package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"video-search-bot/internal/domain"
	"video-search-bot/internal/jobs"
)

const pollInterval = 200 * time.Millisecond

func newDownloadCmd(c *CLI) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "download <bvid>",
		Short: "Download and merge one video by BV id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			job, err := c.App.StartDownload(args[0])
			if err != nil {
				return err
			}

			job, err = waitForJob(ctx, c.App, job.ID, out)
			if err != nil {
				return err
			}

			if job.Error != "" {
				return fmt.Errorf("download failed: %s", job.Error)
			}
			final := job.OutputPath
			if outDir != "" {
				if final, err = moveFile(job.OutputPath, outDir); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "Saved %s\n", final)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "move the merged video into this directory")
	return cmd
}

// jobWatcher is the part of the app a download needs to follow a job.
type jobWatcher interface {
	Job(jobID string) (domain.Job, error)
	JobEvents(jobID string, sinceSeq int64) []jobs.Event
	CancelDownload(jobID string) error
}

// waitForJob prints job events until the job is cleaned. A done ctx cancels
// the job once; polling continues until its cleanup finishes.
func waitForJob(ctx context.Context, app jobWatcher, jobID string, out io.Writer) (domain.Job, error) {
	var since int64
	done := ctx.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		for _, event := range app.JobEvents(jobID, since) {
			since = event.Seq
			printEvent(out, event)
		}
		job, err := app.Job(jobID)
		if err != nil {
			return domain.Job{}, err
		}
		if job.Status == domain.JobStatusCleaned {
			return job, nil
		}

		select {
		case <-done:
			done = nil
			_ = app.CancelDownload(jobID)
		case <-ticker.C:
		}
	}
}

func printEvent(w io.Writer, event jobs.Event) {
	switch event.Type {
	case jobs.EventTypeStatus:
		fmt.Fprintf(w, "[%s] %s\n", event.Status, event.Message)
	case jobs.EventTypeProgress:
		if event.Percent != nil {
			fmt.Fprintf(w, "  %s %3d%%\n", event.Track, *event.Percent)
		} else {
			fmt.Fprintf(w, "  %s %d bytes\n", event.Track, event.BytesReceived)
		}
	case jobs.EventTypeError:
		fmt.Fprintf(w, "error: %s\n", event.Message)
	}
}

// moveFile renames src into dir, copying when a rename crosses devices.
func moveFile(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil {
		return "", fmt.Errorf("remove %s: %w", src, err)
	}
	return dst, nil
}
