package cleanup

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Outcome is the result of removing one path.
type Outcome string

const (
	OutcomeRemoved Outcome = "removed"
	OutcomeMissing Outcome = "missing"
	OutcomeError   Outcome = "error"
)

// Entry records what happened to one path.
type Entry struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Report maps each attempted path to its outcome.
type Report map[string]Entry

// Remover deletes temporary files and reports per-path outcomes.
// Failures are reported, never returned.
type Remover struct {
	remove func(name string) error
}

// NewRemover constructs a remover backed by os.Remove.
func NewRemover() *Remover {
	return &Remover{remove: os.Remove}
}

// NewRemoverForTests constructs a remover with an injectable remove func.
func NewRemoverForTests(remove func(name string) error) *Remover {
	return &Remover{remove: remove}
}

// Remove attempts to delete every non-empty path once.
func (r *Remover) Remove(paths ...string) Report {
	report := make(Report, len(paths))
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, seen := report[path]; seen {
			continue
		}

		err := r.remove(path)
		switch {
		case err == nil:
			report[path] = Entry{Outcome: OutcomeRemoved}
		case errors.Is(err, fs.ErrNotExist):
			report[path] = Entry{Outcome: OutcomeMissing}
		default:
			report[path] = Entry{Outcome: OutcomeError, Reason: err.Error()}
		}
	}
	return report
}

// RemoveFiles deletes paths with the default remover.
func RemoveFiles(paths ...string) Report {
	return NewRemover().Remove(paths...)
}

// Failed returns the sorted paths whose removal errored.
func (r Report) Failed() []string {
	var out []string
	for path, entry := range r {
		if entry.Outcome == OutcomeError {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// Log writes one line per path, warning on errors.
func (r Report) Log(log *zerolog.Logger) {
	paths := make([]string, 0, len(r))
	for path := range r {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		entry := r[path]
		if entry.Outcome == OutcomeError {
			log.Warn().Str("path", path).Str("reason", entry.Reason).Msg("cleanup failed")
			continue
		}
		log.Debug().Str("path", path).Str("outcome", string(entry.Outcome)).Msg("cleanup")
	}
}
