package mux

import (
	"fmt"
	"strings"

	"video-search-bot/internal/domain"
)

const maxErrorOutput = 500

// MergeError is a merge failure with the command context that produced it.
type MergeError struct {
	Kind       error
	Message    string
	CommandLog domain.CommandLog
	Err        error
}

// Error formats merge failures for logs and chat replies.
func (e *MergeError) Error() string {
	if e == nil {
		return ""
	}

	msg := "merge: " + e.Message
	if e.CommandLog.Command != "" {
		msg = fmt.Sprintf("%s (cmd=%s exit=%d)", msg, e.CommandLog.Command, e.CommandLog.ExitCode)
	}
	if out := trimOutput(e.CommandLog.Stderr); out != "" {
		msg += ": " + out
	}
	return msg
}

// Unwrap exposes both the error kind and the cause.
func (e *MergeError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func trimOutput(out string) string {
	out = strings.TrimSpace(out)
	if len(out) > maxErrorOutput {
		out = "..." + out[len(out)-maxErrorOutput:]
	}
	return out
}
