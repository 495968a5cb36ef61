package mux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"video-search-bot/internal/domain"
)

// fakeRunner simulates process execution outcomes.
type fakeRunner struct {
	calls int
	run   func(ctx context.Context, cmd Command) (ProcessResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, cmd Command) (ProcessResult, error) {
	f.calls++
	if f.run == nil {
		return ProcessResult{}, nil
	}
	return f.run(ctx, cmd)
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mergeInputs(t *testing.T) MergeRequest {
	t.Helper()
	root := t.TempDir()
	req := MergeRequest{
		VideoPath:  filepath.Join(root, "BV1-video.m4s"),
		AudioPath:  filepath.Join(root, "BV1-audio.m4s"),
		OutputPath: filepath.Join(root, "out", "BV1-res.mp4"),
	}
	mustWriteFile(t, req.VideoPath, "video")
	mustWriteFile(t, req.AudioPath, "audio")
	return req
}

// TestBuildArgsStreamCopyWithOverwrite checks the exact merge invocation.
func TestBuildArgsStreamCopyWithOverwrite(t *testing.T) {
	got := strings.Join(BuildArgs("v.m4s", "a.m4s", "out.mp4"), " ")
	want := "-y -i v.m4s -i a.m4s -c copy out.mp4"
	if got != want {
		t.Fatalf("args = %q, want %q", got, want)
	}
}

// TestMergeSuccess checks the runner receives the tool and output is verified.
func TestMergeSuccess(t *testing.T) {
	req := mergeInputs(t)
	runner := &fakeRunner{
		run: func(ctx context.Context, cmd Command) (ProcessResult, error) {
			if cmd.Name != "ffmpeg-custom" {
				t.Fatalf("command = %q, want ffmpeg-custom", cmd.Name)
			}
			if cmd.CaptureOutput {
				t.Fatal("output should go to the null device when not verbose")
			}
			mustWriteFile(t, cmd.Args[len(cmd.Args)-1], "merged")
			return ProcessResult{}, nil
		},
	}

	m := New(Options{Tool: "ffmpeg-custom", Runner: runner})
	log, err := m.Merge(context.Background(), req)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("runner calls = %d, want 1", runner.calls)
	}
	if log.Command != "ffmpeg-custom" || log.ExitCode != 0 {
		t.Fatalf("command log = %+v", log)
	}
	if _, err := os.Stat(req.OutputPath); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

// TestMergeVerboseCapturesOutputIntoError checks verbose diagnostics reach the error.
func TestMergeVerboseCapturesOutputIntoError(t *testing.T) {
	req := mergeInputs(t)
	req.LogOutput = true
	runner := &fakeRunner{
		run: func(ctx context.Context, cmd Command) (ProcessResult, error) {
			if !cmd.CaptureOutput {
				t.Fatal("expected captured output in verbose mode")
			}
			return ProcessResult{Stderr: "Invalid data found when processing input", ExitCode: 1}, errors.New("exit status 1")
		},
	}

	_, err := New(Options{Runner: runner}).Merge(context.Background(), req)

	var mergeErr *MergeError
	if !errors.As(err, &mergeErr) {
		t.Fatalf("expected *MergeError, got %T (%v)", err, err)
	}
	if !errors.Is(err, domain.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
	if mergeErr.CommandLog.ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", mergeErr.CommandLog.ExitCode)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("error %q should include captured stderr", err.Error())
	}
}

// TestMergeExitZeroWithoutOutputFails checks the mandatory postcondition.
func TestMergeExitZeroWithoutOutputFails(t *testing.T) {
	req := mergeInputs(t)
	runner := &fakeRunner{}

	_, err := New(Options{Runner: runner}).Merge(context.Background(), req)

	var mergeErr *MergeError
	if !errors.As(err, &mergeErr) {
		t.Fatalf("expected *MergeError, got %T (%v)", err, err)
	}
	if !strings.Contains(mergeErr.Message, "output file is missing") {
		t.Fatalf("message = %q", mergeErr.Message)
	}
	if !errors.Is(err, domain.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}

// TestMergeEmptyOutputFails treats a zero-byte output as missing.
func TestMergeEmptyOutputFails(t *testing.T) {
	req := mergeInputs(t)
	runner := &fakeRunner{
		run: func(ctx context.Context, cmd Command) (ProcessResult, error) {
			mustWriteFile(t, req.OutputPath, "")
			return ProcessResult{}, nil
		},
	}

	_, err := New(Options{Runner: runner}).Merge(context.Background(), req)
	if !errors.Is(err, domain.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}

// TestMergeRemovesStaleOutput ensures an old output cannot satisfy the postcondition.
func TestMergeRemovesStaleOutput(t *testing.T) {
	req := mergeInputs(t)
	mustWriteFile(t, req.OutputPath, "stale")
	runner := &fakeRunner{
		run: func(ctx context.Context, cmd Command) (ProcessResult, error) {
			if _, err := os.Stat(req.OutputPath); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("stale output should be removed before run, stat err = %v", err)
			}
			return ProcessResult{}, nil
		},
	}

	_, err := New(Options{Runner: runner}).Merge(context.Background(), req)
	if err == nil {
		t.Fatal("expected postcondition failure")
	}
}

// TestMergeMissingInputSkipsRunner checks inputs are validated before spawning.
func TestMergeMissingInputSkipsRunner(t *testing.T) {
	req := mergeInputs(t)
	if err := os.Remove(req.AudioPath); err != nil {
		t.Fatalf("remove: %v", err)
	}
	runner := &fakeRunner{}

	_, err := New(Options{Runner: runner}).Merge(context.Background(), req)

	if !errors.Is(err, domain.ErrFilesystem) {
		t.Fatalf("expected ErrFilesystem, got %v", err)
	}
	if runner.calls != 0 {
		t.Fatalf("runner calls = %d, want 0", runner.calls)
	}
}

// TestMergeToolNotFound reports a missing executable distinctly.
func TestMergeToolNotFound(t *testing.T) {
	req := mergeInputs(t)
	runner := &fakeRunner{
		run: func(ctx context.Context, cmd Command) (ProcessResult, error) {
			return ProcessResult{ExitCode: -1}, &exec.Error{Name: cmd.Name, Err: exec.ErrNotFound}
		},
	}

	_, err := New(Options{Tool: "no-such-ffmpeg", Runner: runner}).Merge(context.Background(), req)

	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected exec.ErrNotFound in chain, got %v", err)
	}
	if !strings.Contains(err.Error(), "muxer tool not found: no-such-ffmpeg") {
		t.Fatalf("error = %q", err.Error())
	}
}

// TestResolveStrategy checks platform selection happens from GOOS.
func TestResolveStrategy(t *testing.T) {
	cases := []struct {
		strategy Strategy
		goos     string
		want     Strategy
	}{
		{StrategyAuto, "linux", StrategyAsync},
		{StrategyAuto, "darwin", StrategyAsync},
		{StrategyAuto, "windows", StrategyWorker},
		{StrategyWorker, "linux", StrategyWorker},
		{StrategyAsync, "windows", StrategyAsync},
		{Strategy("WORKER"), "linux", StrategyWorker},
		{Strategy(""), "linux", StrategyAsync},
	}
	for _, tc := range cases {
		if got := ResolveStrategy(tc.strategy, tc.goos); got != tc.want {
			t.Fatalf("ResolveStrategy(%q, %q) = %q, want %q", tc.strategy, tc.goos, got, tc.want)
		}
	}
}

// TestRunnersReportExitCodes runs a real process through both strategies.
func TestRunnersReportExitCodes(t *testing.T) {
	shell, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	runners := map[string]ProcessRunner{
		"async":  &execRunner{},
		"worker": newWorkerRunner(1),
	}
	for name, runner := range runners {
		t.Run(name, func(t *testing.T) {
			res, err := runner.Run(context.Background(), Command{
				Name:          shell,
				Args:          []string{"-c", "echo out; echo err 1>&2; exit 3"},
				CaptureOutput: true,
			})
			if err == nil {
				t.Fatal("expected exit error")
			}
			if res.ExitCode != 3 {
				t.Fatalf("exit code = %d, want 3", res.ExitCode)
			}
			if strings.TrimSpace(res.Stdout) != "out" || strings.TrimSpace(res.Stderr) != "err" {
				t.Fatalf("output = %q / %q", res.Stdout, res.Stderr)
			}

			res, err = runner.Run(context.Background(), Command{Name: shell, Args: []string{"-c", "echo hidden"}})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Stdout != "" {
				t.Fatalf("stdout = %q, want discarded output", res.Stdout)
			}
		})
	}
}

// TestWorkerRunnerHonorsCancelledContext checks a cancelled caller does not block.
func TestWorkerRunnerHonorsCancelledContext(t *testing.T) {
	runner := newWorkerRunner(1)
	runner.slots <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, Command{Name: "unused"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// TestMergeErrorTrimsLongOutput keeps error strings bounded.
func TestMergeErrorTrimsLongOutput(t *testing.T) {
	err := &MergeError{
		Message:    "muxer exited with an error",
		CommandLog: domain.CommandLog{Command: "ffmpeg", ExitCode: 1, Stderr: strings.Repeat("x", 2000)},
	}
	if got := len(err.Error()); got > 600 {
		t.Fatalf("error length = %d, want bounded output", got)
	}
	if !strings.HasPrefix(err.Error(), fmt.Sprintf("merge: %s (cmd=ffmpeg exit=1)", err.Message)) {
		t.Fatalf("error = %q", err.Error()[:80])
	}
}
