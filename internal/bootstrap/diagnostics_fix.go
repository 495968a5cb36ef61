package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"video-search-bot/internal/domain"
	"video-search-bot/internal/logging"
)

const installCommandTimeout = 45 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// installer runs package-manager commands; its hooks are swapped in tests.
type installer struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

func newInstaller() *installer {
	return &installer{
		goos:     goruntime.GOOS,
		lookPath: exec.LookPath,
		run:      runCommand,
	}
}

// InstallOrFixDiagnostic applies a remediation for one failed diagnostic item
// and returns the refreshed report.
func (a *App) InstallOrFixDiagnostic(ctx context.Context, itemID string) (domain.DiagnosticReport, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}
	ctx = a.withLogger(ctx, "doctor")
	cfg := a.Config()

	var fixErr error
	switch id {
	case domain.DiagnosticToolMuxer:
		fixErr = newInstaller().installMuxer(ctx, cfg.Muxer.Tool)
	case domain.DiagnosticDownloadDir:
		fixErr = ensureDir(cfg.Download.Dir)
	case domain.DiagnosticDatabaseDir:
		if cfg.Database.Path == "" {
			fixErr = fmt.Errorf("database path is not configured")
		} else {
			fixErr = ensureDir(filepath.Dir(cfg.Database.Path))
		}
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	report := a.RefreshDiagnostics()
	if fixErr != nil {
		logging.FromContext(ctx).Error().Err(fixErr).Str("item", id).Msg("diagnostic fix failed")
		return report, fixErr
	}
	return report, nil
}

// FixAllDiagnostics attempts every failed item in the current report.
func (a *App) FixAllDiagnostics(ctx context.Context) (domain.DiagnosticReport, error) {
	var errs []error
	for _, item := range a.RefreshDiagnostics().Items {
		if item.Status != domain.DiagnosticStatusFail {
			continue
		}
		if _, err := a.InstallOrFixDiagnostic(ctx, item.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.ID, err))
		}
	}
	return a.Diagnostics(), errors.Join(errs...)
}

func ensureDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("directory path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// installMuxer installs ffmpeg with the first usable package manager and
// verifies the configured tool is then on PATH.
func (i *installer) installMuxer(ctx context.Context, tool string) error {
	if tool == "" {
		tool = "ffmpeg"
	}
	if i.available(tool) {
		return nil
	}
	if filepath.Base(tool) != "ffmpeg" && filepath.Base(tool) != "ffmpeg.exe" {
		return fmt.Errorf("automatic install only supports ffmpeg, configured tool is %s", tool)
	}

	if err := i.runFirstSuccessfulInstall(ctx, ffmpegInstallOptions(i.goos)); err != nil {
		return fmt.Errorf("install ffmpeg: %w", err)
	}
	if !i.available(tool) {
		return fmt.Errorf("%s is still not on PATH after install", tool)
	}
	return nil
}

func ffmpegInstallOptions(goos string) []installOption {
	switch goos {
	case "windows":
		return []installOption{
			{manager: "winget", commands: [][]string{
				{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
			}},
			{manager: "choco", commands: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "ffmpeg"}}},
		}
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{
				{"apt-get", "update"},
				{"apt-get", "install", "-y", "ffmpeg"},
			}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
			{manager: "apk", commands: [][]string{{"apk", "add", "--no-cache", "ffmpeg"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	}
}

func (i *installer) runFirstSuccessfulInstall(ctx context.Context, options []installOption) error {
	log := logging.FromContext(ctx)
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", i.goos)
	}

	var errs []error
	for _, option := range options {
		if !i.available(option.manager) {
			continue
		}
		log.Info().Str("manager", option.manager).Msg("installing with package manager")
		err := i.runInstallCommands(ctx, option.commands)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", option.manager, err))
	}

	if len(errs) == 0 {
		return fmt.Errorf("no supported package manager found for %s", i.goos)
	}
	return errors.Join(errs...)
}

func (i *installer) runInstallCommands(ctx context.Context, commands [][]string) error {
	for _, command := range commands {
		if err := i.runWithPossibleElevation(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

// runWithPossibleElevation retries system package managers through
// pkexec or non-interactive sudo on linux.
func (i *installer) runWithPossibleElevation(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if i.goos == "linux" && requiresElevation(command[0]) {
		if i.available("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if i.available("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	var errs []error
	for _, candidate := range candidates {
		err := i.run(ctx, candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (i *installer) available(name string) bool {
	_, err := i.lookPath(name)
	return err == nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, installCommandTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", formatCommand(name, args), installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", formatCommand(name, args), err)
	}
	return fmt.Errorf("%s failed: %w (%s)", formatCommand(name, args), err, trimmed)
}

func formatCommand(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "apk":
		return true
	default:
		return false
	}
}
