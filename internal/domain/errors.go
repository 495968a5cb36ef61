package domain

import "errors"

// Error kinds shared by the fetch, merge and pipeline layers.
// Concrete errors wrap one of these so callers can match with errors.Is.
var (
	ErrNetwork      = errors.New("network error")
	ErrFilesystem   = errors.New("filesystem error")
	ErrExternalTool = errors.New("external tool error")
	ErrValidation   = errors.New("validation error")
)

// ErrorKind returns the taxonomy sentinel wrapped by err, or nil.
func ErrorKind(err error) error {
	for _, kind := range []error{ErrNetwork, ErrFilesystem, ErrExternalTool, ErrValidation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
