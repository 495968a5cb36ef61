package mux

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
)

// Strategy selects how external processes are spawned.
type Strategy string

const (
	StrategyAuto   Strategy = "auto"
	StrategyAsync  Strategy = "async"
	StrategyWorker Strategy = "worker"
)

// defaultWorkers bounds concurrent blocking runs for StrategyWorker.
const defaultWorkers = 2

// Command is one external process invocation.
// Output is discarded to the null device unless CaptureOutput is set.
type Command struct {
	Name          string
	Args          []string
	CaptureOutput bool
}

// ProcessResult is the exit outcome of one process.
type ProcessResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ProcessRunner spawns external processes.
type ProcessRunner interface {
	Run(ctx context.Context, cmd Command) (ProcessResult, error)
}

// ResolveStrategy maps StrategyAuto to the platform default.
// Windows uses the worker strategy, everything else the native one.
func ResolveStrategy(strategy Strategy, goos string) Strategy {
	switch Strategy(strings.ToLower(string(strategy))) {
	case StrategyAsync:
		return StrategyAsync
	case StrategyWorker:
		return StrategyWorker
	}
	if goos == "windows" {
		return StrategyWorker
	}
	return StrategyAsync
}

// NewRunner builds the runner for strategy, resolved once for this platform.
func NewRunner(strategy Strategy) ProcessRunner {
	if ResolveStrategy(strategy, runtime.GOOS) == StrategyWorker {
		return newWorkerRunner(defaultWorkers)
	}
	return &execRunner{}
}

// execRunner starts the process and waits on it from the calling goroutine.
type execRunner struct{}

// Run executes one command and reports its exit code.
func (r *execRunner) Run(ctx context.Context, command Command) (ProcessResult, error) {
	cmd, stdout, stderr := buildCmd(ctx, command)
	if err := cmd.Start(); err != nil {
		return ProcessResult{ExitCode: -1}, err
	}
	err := cmd.Wait()
	return collect(stdout, stderr, err)
}

// workerRunner hands each blocking run to a background worker goroutine,
// with at most cap(slots) processes in flight.
type workerRunner struct {
	slots chan struct{}
}

type workerOutcome struct {
	result ProcessResult
	err    error
}

func newWorkerRunner(workers int) *workerRunner {
	if workers <= 0 {
		workers = 1
	}
	return &workerRunner{slots: make(chan struct{}, workers)}
}

// Run waits for a free worker, then blocks until the process exits.
func (r *workerRunner) Run(ctx context.Context, command Command) (ProcessResult, error) {
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return ProcessResult{ExitCode: -1}, ctx.Err()
	}

	done := make(chan workerOutcome, 1)
	go func() {
		defer func() { <-r.slots }()
		cmd, stdout, stderr := buildCmd(ctx, command)
		result, err := collect(stdout, stderr, cmd.Run())
		done <- workerOutcome{result: result, err: err}
	}()

	out := <-done
	return out.result, out.err
}

func buildCmd(ctx context.Context, command Command) (*exec.Cmd, *bytes.Buffer, *bytes.Buffer) {
	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	if !command.CaptureOutput {
		return cmd, nil, nil
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	return cmd, &stdout, &stderr
}

func collect(stdout, stderr *bytes.Buffer, err error) (ProcessResult, error) {
	result := ProcessResult{}
	if stdout != nil {
		result.Stdout = stdout.String()
	}
	if stderr != nil {
		result.Stderr = stderr.String()
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}
