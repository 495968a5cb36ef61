package mux

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"video-search-bot/internal/domain"
	"video-search-bot/internal/logging"
)

// MergeRequest names the two inputs and the merged output.
type MergeRequest struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
	LogOutput  bool
}

// Options configures a Muxer.
type Options struct {
	Tool    string
	Verbose bool
	Runner  ProcessRunner
	Timeout time.Duration
}

// Muxer combines a video-only and an audio-only file with stream copy.
type Muxer struct {
	tool     string
	verbose  bool
	runner   ProcessRunner
	timeout  time.Duration
	stat     func(name string) (os.FileInfo, error)
	remove   func(name string) error
	mkdirAll func(path string, perm os.FileMode) error
}

// New constructs a muxer. A nil runner uses the platform default strategy.
func New(opts Options) *Muxer {
	tool := strings.TrimSpace(opts.Tool)
	if tool == "" {
		tool = "ffmpeg"
	}
	runner := opts.Runner
	if runner == nil {
		runner = NewRunner(StrategyAuto)
	}

	return &Muxer{
		tool:     tool,
		verbose:  opts.Verbose,
		runner:   runner,
		timeout:  opts.Timeout,
		stat:     os.Stat,
		remove:   os.Remove,
		mkdirAll: os.MkdirAll,
	}
}

// Tool returns the configured multiplexer executable.
func (m *Muxer) Tool() string {
	return m.tool
}

// Merge runs the multiplexer and checks that a non-empty output was produced.
// An existing output file is removed first so a stale file never passes the check.
func (m *Muxer) Merge(ctx context.Context, req MergeRequest) (domain.CommandLog, error) {
	if strings.TrimSpace(req.OutputPath) == "" {
		return domain.CommandLog{}, &MergeError{
			Kind:    domain.ErrValidation,
			Message: "output path is required",
		}
	}
	for _, input := range []string{req.VideoPath, req.AudioPath} {
		if _, err := m.stat(input); err != nil {
			return domain.CommandLog{}, &MergeError{
				Kind:    domain.ErrFilesystem,
				Message: fmt.Sprintf("cannot access input: %s", input),
				Err:     err,
			}
		}
	}

	if err := m.mkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return domain.CommandLog{}, &MergeError{
			Kind:    domain.ErrFilesystem,
			Message: fmt.Sprintf("cannot create output directory: %s", filepath.Dir(req.OutputPath)),
			Err:     err,
		}
	}
	if err := m.remove(req.OutputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.CommandLog{}, &MergeError{
			Kind:    domain.ErrFilesystem,
			Message: fmt.Sprintf("cannot replace existing output: %s", req.OutputPath),
			Err:     err,
		}
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	args := BuildArgs(req.VideoPath, req.AudioPath, req.OutputPath)
	capture := m.verbose || req.LogOutput
	log := logging.FromContext(ctx)
	log.Debug().Str("tool", m.tool).Strs("args", args).Msg("merge started")

	result, runErr := m.runner.Run(ctx, Command{Name: m.tool, Args: args, CaptureOutput: capture})
	cmdLog := domain.CommandLog{
		Command:  m.tool,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if runErr != nil {
		message := "muxer exited with an error"
		if errors.Is(runErr, exec.ErrNotFound) {
			message = fmt.Sprintf("muxer tool not found: %s", m.tool)
		}
		return cmdLog, &MergeError{
			Kind:       domain.ErrExternalTool,
			Message:    message,
			CommandLog: cmdLog,
			Err:        runErr,
		}
	}

	info, err := m.stat(req.OutputPath)
	if err != nil || info.Size() == 0 {
		if err == nil {
			err = fmt.Errorf("output file is empty: %s", req.OutputPath)
		}
		return cmdLog, &MergeError{
			Kind:       domain.ErrExternalTool,
			Message:    "muxer completed but output file is missing",
			CommandLog: cmdLog,
			Err:        err,
		}
	}

	log.Debug().Str("output", req.OutputPath).Int64("bytes", info.Size()).Msg("merge completed")
	return cmdLog, nil
}

// BuildArgs returns stream-copy merge args with forced overwrite.
func BuildArgs(videoPath, audioPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c", "copy",
		outputPath,
	}
}
