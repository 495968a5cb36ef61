package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"video-search-bot/internal/domain"
)

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(Target{
		MuxerTool:    "ffmpeg",
		DownloadDir:  filepath.Join(root, "downloads"),
		DatabasePath: filepath.Join(root, "db", "history.db"),
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	if len(report.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(report.Items))
	}
	if _, err := os.Stat(filepath.Join(root, "downloads")); err != nil {
		t.Fatalf("download dir should be created: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "downloads"))
	if len(entries) != 0 {
		t.Fatalf("write-check file should be removed, found %d entries", len(entries))
	}
}

// TestCheckerRunMissingToolAndPaths validates failure reporting.
func TestCheckerRunMissingToolAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(Target{MuxerTool: "ffmpeg"})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}
	assertStatusByID(t, report, domain.DiagnosticToolMuxer, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, domain.DiagnosticDownloadDir, domain.DiagnosticStatusFail)
	if len(report.Items) != 2 {
		t.Fatalf("database check should be skipped without a path, items = %+v", report.Items)
	}
}

// TestCheckerRunUnwritableDirectoryFails validates write probe failure.
func TestCheckerRunUnwritableDirectoryFails(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) { return name, nil },
		func(string, os.FileMode) error { return nil },
		func(string, string) (*os.File, error) { return nil, os.ErrPermission },
		os.Remove,
	)

	report := checker.Run(Target{MuxerTool: "ffmpeg", DownloadDir: "/readonly"})

	assertStatusByID(t, report, domain.DiagnosticToolMuxer, domain.DiagnosticStatusPass)
	assertStatusByID(t, report, domain.DiagnosticDownloadDir, domain.DiagnosticStatusFail)
}

// TestCheckerRunEmptyToolFails validates unconfigured muxer handling.
func TestCheckerRunEmptyToolFails(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) {
			t.Fatal("lookPath should not be called for an empty tool")
			return "", nil
		},
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(Target{DownloadDir: t.TempDir()})
	assertStatusByID(t, report, domain.DiagnosticToolMuxer, domain.DiagnosticStatusFail)
}

func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s status = %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("item %s not found", id)
}
